package gormstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
)

// ListStalePendingIntents returns pending intents created before the cutoff, oldest first.
func (store *Store) ListStalePendingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]ledger.PurchaseIntent, error) {
	var rows []PurchaseIntent
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", ledger.PurchaseStatusPending.String(), createdBefore.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectIntent, errorCodeList, err)
	}
	intents := make([]ledger.PurchaseIntent, 0, len(rows))
	for _, row := range rows {
		intent, err := mapPurchaseIntent(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectIntent, errorCodeInvalid, err)
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// RecordWebhookEvent appends the delivery to payment_webhook_events.
func (store *Store) RecordWebhookEvent(ctx context.Context, record payments.WebhookRecord) error {
	model := PaymentWebhookEvent{
		Provider:      string(record.Provider),
		OrderID:       record.OrderID,
		TransactionID: record.TransactionID,
		Status:        record.Status,
		Payload:       datatypesJSON(string(record.Payload)),
		ReceivedAt:    record.ReceivedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectWebhook, errorCodeInsert, err)
	}
	return nil
}
