package pgstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/dispatch"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore   = "store"
	errorSubjectMessage   = "message"
	errorSubjectDelivery  = "delivery"
	errorSubjectQuota     = "quota"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"

	sqlSelectDueMessages = `
		select id::text, creator_id::text, is_broadcast, scheduled_at
		from creator_messages
		where scheduled_status = $1 and scheduled_at <= $2
		order by scheduled_at asc
		limit $3
	`

	sqlMarkMessageSent = `
		update creator_messages
		set scheduled_status = $3, sent_at = $4
		where id = $1 and scheduled_status = $2
	`

	sqlSelectActiveSubscribers = `
		select distinct subscriber_id::text
		from subscriptions
		where creator_id = $1 and status = 'active' and (expires_at is null or expires_at > $2)
		order by 1
	`

	sqlInsertDelivery = `
		insert into message_deliveries(id, message_id, user_id, is_read, created_at)
		values ($1, $2, $3, false, $4)
		on conflict (message_id, user_id) do nothing
	`

	sqlResetMonthlyQuotas = `
		update creator_message_quotas
		set quota_month = $1, sent_count = 0, updated_at = now()
		where quota_month <> $1
	`
)

type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

// Store implements dispatch.Store with raw SQL over a pgx pool.
type Store struct {
	db queryer
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (store *Store) ListDueMessages(ctx context.Context, now time.Time, limit int) ([]dispatch.Message, error) {
	rows, err := store.db.Query(ctx, sqlSelectDueMessages, dispatch.ScheduledStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	defer rows.Close()

	var messages []dispatch.Message
	for rows.Next() {
		var (
			messageID   string
			creatorID   string
			isBroadcast bool
			scheduledAt time.Time
		)
		if err := rows.Scan(&messageID, &creatorID, &isBroadcast, &scheduledAt); err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
		}
		parsedCreatorID, err := ledger.NewUserID(creatorID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		messages = append(messages, dispatch.Message{
			ID:          messageID,
			CreatorID:   parsedCreatorID,
			IsBroadcast: isBroadcast,
			ScheduledAt: scheduledAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	return messages, nil
}

func (store *Store) MarkMessageSent(ctx context.Context, messageID string, sentAt time.Time) (bool, error) {
	tag, err := store.db.Exec(ctx, sqlMarkMessageSent, messageID, dispatch.ScheduledStatusPending, dispatch.ScheduledStatusSent, sentAt.UTC())
	if err != nil {
		return false, wrapStoreError(errorSubjectMessage, errorCodeUpdateStatus, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (store *Store) ListActiveSubscribers(ctx context.Context, creatorID ledger.UserID, now time.Time) ([]ledger.UserID, error) {
	rows, err := store.db.Query(ctx, sqlSelectActiveSubscribers, creatorID.String(), now.UTC())
	if err != nil {
		return nil, wrapStoreError(errorSubjectDelivery, errorCodeList, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapStoreError(errorSubjectDelivery, errorCodeList, err)
	}
	subscribers := make([]ledger.UserID, 0, len(raw))
	for _, value := range raw {
		userID, err := ledger.NewUserID(value)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDelivery, errorCodeInvalid, err)
		}
		subscribers = append(subscribers, userID)
	}
	return subscribers, nil
}

// InsertDeliveries queues one insert per recipient and flushes every batchSize rows.
func (store *Store) InsertDeliveries(ctx context.Context, messageID string, recipients []ledger.UserID, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = len(recipients)
	}
	now := time.Now().UTC()
	var inserted int64
	for start := 0; start < len(recipients); start += batchSize {
		end := min(start+batchSize, len(recipients))
		batch := &pgx.Batch{}
		for _, recipient := range recipients[start:end] {
			batch.Queue(sqlInsertDelivery, uuid.NewString(), messageID, recipient.String(), now)
		}
		count, err := store.sendBatch(ctx, batch)
		inserted += count
		if err != nil {
			return inserted, wrapStoreError(errorSubjectDelivery, errorCodeInsert, err)
		}
	}
	return inserted, nil
}

func (store *Store) sendBatch(ctx context.Context, batch *pgx.Batch) (int64, error) {
	results := store.db.SendBatch(ctx, batch)
	defer results.Close()
	var inserted int64
	for index := 0; index < batch.Len(); index++ {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (store *Store) ResetMonthlyQuotas(ctx context.Context, month string) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlResetMonthlyQuotas, month)
	if err != nil {
		return 0, wrapStoreError(errorSubjectQuota, errorCodeUpdate, err)
	}
	return tag.RowsAffected(), nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
