package gormstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/dispatch"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"gorm.io/gorm/clause"
)

const subscriptionStatusActive = "active"

// ListDueMessages returns pending messages scheduled at or before now, oldest first.
func (store *Store) ListDueMessages(ctx context.Context, now time.Time, limit int) ([]dispatch.Message, error) {
	var rows []CreatorMessage
	err := store.db.WithContext(ctx).
		Where("scheduled_status = ? AND scheduled_at <= ?", dispatch.ScheduledStatusPending, now.UTC()).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	messages := make([]dispatch.Message, 0, len(rows))
	for _, row := range rows {
		creatorID, err := ledger.NewUserID(row.CreatorID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		messages = append(messages, dispatch.Message{
			ID:          row.ID,
			CreatorID:   creatorID,
			IsBroadcast: row.IsBroadcast,
			ScheduledAt: row.ScheduledAt.UTC(),
		})
	}
	return messages, nil
}

// MarkMessageSent flips pending to sent; false means another run got there first.
func (store *Store) MarkMessageSent(ctx context.Context, messageID string, sentAt time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&CreatorMessage{}).
		Where("id = ? AND scheduled_status = ?", messageID, dispatch.ScheduledStatusPending).
		Updates(map[string]any{
			"scheduled_status": dispatch.ScheduledStatusSent,
			"sent_at":          sentAt.UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectMessage, errorCodeUpdateStatus, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *Store) ListActiveSubscribers(ctx context.Context, creatorID ledger.UserID, now time.Time) ([]ledger.UserID, error) {
	var subscriberIDs []string
	err := store.db.WithContext(ctx).
		Model(&Subscription{}).
		Distinct("subscriber_id").
		Where("creator_id = ? AND status = ?", creatorID.String(), subscriptionStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Order("subscriber_id ASC").
		Pluck("subscriber_id", &subscriberIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDelivery, errorCodeList, err)
	}
	subscribers := make([]ledger.UserID, 0, len(subscriberIDs))
	for _, raw := range subscriberIDs {
		userID, err := ledger.NewUserID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDelivery, errorCodeInvalid, err)
		}
		subscribers = append(subscribers, userID)
	}
	return subscribers, nil
}

// InsertDeliveries writes one row per recipient in batches, skipping pairs that already exist.
func (store *Store) InsertDeliveries(ctx context.Context, messageID string, recipients []ledger.UserID, batchSize int) (int64, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]MessageDelivery, 0, len(recipients))
	for _, recipient := range recipients {
		rows = append(rows, MessageDelivery{MessageID: messageID, UserID: recipient.String(), CreatedAt: now})
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, batchSize)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectDelivery, errorCodeInsert, result.Error)
	}
	return result.RowsAffected, nil
}

// ResetMonthlyQuotas zeroes send counters stamped with an earlier month.
func (store *Store) ResetMonthlyQuotas(ctx context.Context, month string) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&CreatorMessageQuota{}).
		Where("quota_month <> ?", month).
		Updates(map[string]any{
			"quota_month": month,
			"sent_count":  0,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectQuota, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}
