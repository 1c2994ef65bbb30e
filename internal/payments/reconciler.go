package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	defaultStaleAfter     = 45 * time.Minute
	defaultReconcileBatch = 50

	tossStatusCanceled        = "CANCELED"
	tossStatusPartialCanceled = "PARTIAL_CANCELED"
	tossStatusNotFound        = "NOT_FOUND"

	ActionNotFoundFailed = "not_found_failed"
	ActionCancelled      = "cancelled"
	ActionExpiredFailed  = "expired_failed"
	ActionAmountMismatch = "amount_mismatch"
	ActionError          = "error"
)

// IntentStore lists purchase intents the webhook never resolved.
type IntentStore interface {
	ListStalePendingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]ledger.PurchaseIntent, error)
}

// ReconcileResult is the per-order outcome of a reconciliation pass.
type ReconcileResult struct {
	OrderID    string `json:"orderId"`
	TossStatus string `json:"tossStatus"`
	NewStatus  string `json:"newStatus"`
	Action     string `json:"action"`
	Error      string `json:"error,omitempty"`
}

// ReconcileReport aggregates one pass.
type ReconcileReport struct {
	Processed int
	Results   []ReconcileResult
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// Reconciler resolves stale pending intents against the processor.
type Reconciler struct {
	crediter
	intents    IntentStore
	lookup     PaymentLookup
	staleAfter time.Duration
	batchSize  int
}

func NewReconciler(service *ledger.Service, intents IntentStore, lookup PaymentLookup, options ...ReconcilerOption) (*Reconciler, error) {
	if service == nil || intents == nil || lookup == nil {
		return nil, fmt.Errorf("%w: ledger service, intent store and payment lookup are required", ErrInvalidIntakeConfig)
	}
	reconciler := &Reconciler{
		crediter: crediter{
			service:   service,
			publisher: events.NopPublisher{},
			logger:    zap.NewNop(),
			nowFn:     time.Now,
		},
		intents:    intents,
		lookup:     lookup,
		staleAfter: defaultStaleAfter,
		batchSize:  defaultReconcileBatch,
	}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler, nil
}

func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if logger != nil {
			reconciler.logger = logger
		}
	}
}

func WithReconcilerPublisher(publisher events.Publisher) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if publisher != nil {
			reconciler.publisher = publisher
		}
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if now != nil {
			reconciler.nowFn = now
		}
	}
}

// WithReconcileWindow overrides the staleness threshold and the batch cap.
func WithReconcileWindow(staleAfter time.Duration, batchSize int) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if staleAfter > 0 {
			reconciler.staleAfter = staleAfter
		}
		if batchSize > 0 {
			reconciler.batchSize = batchSize
		}
	}
}

// Run reconciles one batch of the oldest stale intents. Per-order failures land in the results.
func (reconciler *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	cutoff := reconciler.nowFn().UTC().Add(-reconciler.staleAfter)
	intents, err := reconciler.intents.ListStalePendingIntents(ctx, cutoff, reconciler.batchSize)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list stale intents: %w", err)
	}
	report := ReconcileReport{Results: make([]ReconcileResult, 0, len(intents))}
	for _, intent := range intents {
		result := reconciler.reconcile(ctx, intent)
		report.Processed++
		report.Results = append(report.Results, result)
		fields := []zap.Field{
			zap.String("order_id", result.OrderID),
			zap.String("user_id", intent.UserID.String()),
			zap.String("toss_status", result.TossStatus),
			zap.String("action", result.Action),
		}
		if result.Action == ActionError {
			reconciler.logger.Error("purchase reconciliation failed", append(fields, zap.String("error", result.Error))...)
			continue
		}
		reconciler.logger.Info("purchase reconciled", append(fields, zap.String("new_status", result.NewStatus))...)
	}
	return report, nil
}

func (reconciler *Reconciler) reconcile(ctx context.Context, intent ledger.PurchaseIntent) ReconcileResult {
	result := ReconcileResult{OrderID: intent.OrderID.String(), NewStatus: intent.Status.String()}
	payment, err := reconciler.lookup.LookupPayment(ctx, intent.OrderID.String())
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		result.TossStatus = tossStatusNotFound
		return reconciler.resolve(ctx, intent, ledger.PurchaseStatusFailed, ActionNotFoundFailed, result)
	case err != nil:
		return failedResult(result, err)
	}
	result.TossStatus = payment.Status

	switch payment.Status {
	case tossStatusDone:
		if payment.TotalAmount != 0 && payment.TotalAmount != intent.PriceKRW {
			return reconciler.resolve(ctx, intent, ledger.PurchaseStatusFailed, ActionAmountMismatch, result)
		}
		credit, err := reconciler.credit(ctx, intent, payment.PaymentKey, creditSourceReconcile)
		if errors.Is(err, ledger.ErrPurchaseIntentClosed) {
			return reconciler.closedResult(ctx, intent, result)
		}
		if err != nil {
			return failedResult(result, err)
		}
		result.NewStatus = ledger.PurchaseStatusPaid.String()
		result.Action = ActionCredited
		if credit.AlreadyProcessed {
			result.Action = ActionAlreadyProcessed
		}
		return result
	case tossStatusCanceled, tossStatusPartialCanceled:
		return reconciler.resolve(ctx, intent, ledger.PurchaseStatusCancelled, ActionCancelled, result)
	default:
		return reconciler.resolve(ctx, intent, ledger.PurchaseStatusFailed, ActionExpiredFailed, result)
	}
}

func (reconciler *Reconciler) resolve(ctx context.Context, intent ledger.PurchaseIntent, to ledger.PurchaseStatus, action string, result ReconcileResult) ReconcileResult {
	err := reconciler.service.ResolvePurchaseIntent(ctx, intent.OrderID, to)
	if errors.Is(err, ledger.ErrPurchaseIntentClosed) {
		return reconciler.closedResult(ctx, intent, result)
	}
	if err != nil {
		return failedResult(result, err)
	}
	result.NewStatus = to.String()
	result.Action = action
	return result
}

// closedResult reports the status another producer already committed.
func (reconciler *Reconciler) closedResult(ctx context.Context, intent ledger.PurchaseIntent, result ReconcileResult) ReconcileResult {
	current, err := reconciler.service.PurchaseIntent(ctx, intent.OrderID)
	if err != nil {
		return failedResult(result, err)
	}
	result.NewStatus = current.Status.String()
	result.Action = ActionIntentClosed
	return result
}

func failedResult(result ReconcileResult, err error) ReconcileResult {
	result.Action = ActionError
	result.Error = err.Error()
	return result
}
