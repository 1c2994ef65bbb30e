package payments

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	creditSourceWebhook   = "webhook"
	creditSourceReconcile = "reconcile"
)

// crediter is the wallet lookup plus atomic credit shared by every payment producer.
type crediter struct {
	service   *ledger.Service
	publisher events.Publisher
	logger    *zap.Logger
	nowFn     func() time.Time
}

func (crediter crediter) credit(ctx context.Context, intent ledger.PurchaseIntent, providerTransactionID string, source string) (ledger.CreditResult, error) {
	wallet, err := crediter.service.EnsureWallet(ctx, intent.UserID)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	result, err := crediter.service.Credit(ctx, ledger.CreditRequest{
		OrderID:               intent.OrderID,
		ProviderTransactionID: providerTransactionID,
		WalletID:              wallet.ID,
		UserID:                intent.UserID,
		DTAmount:              intent.DTAmount,
		BonusDT:               intent.BonusDT,
		IdempotencyKey:        ledger.PurchaseIdempotencyKey(intent.OrderID),
	})
	if err != nil {
		return ledger.CreditResult{}, err
	}
	if !result.AlreadyProcessed {
		events.Emit(ctx, crediter.publisher, crediter.logger, events.New(events.TypePaymentCredited, crediter.nowFn(), events.PaymentCredited{
			OrderID:    intent.OrderID.String(),
			UserID:     intent.UserID.String(),
			CreditedDT: intent.TotalDT().Int64(),
			NewBalance: result.NewBalance.Int64(),
			Source:     source,
		}))
	}
	return result, nil
}
