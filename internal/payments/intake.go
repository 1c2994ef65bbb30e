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
	ActionCredited         = "credited"
	ActionAlreadyProcessed = "already_processed"
	ActionMarkedFailed     = "marked_failed"
	ActionIntentClosed     = "intent_closed"
)

// ErrInvalidIntakeConfig reports a missing dependency.
var ErrInvalidIntakeConfig = errors.New("invalid webhook intake config")

// WebhookRecord is the audit copy of an authenticated webhook delivery.
type WebhookRecord struct {
	Provider      Provider
	OrderID       string
	TransactionID string
	Status        string
	Payload       []byte
	ReceivedAt    time.Time
}

// WebhookRecorder persists webhook deliveries for manual reconciliation.
type WebhookRecorder interface {
	RecordWebhookEvent(ctx context.Context, record WebhookRecord) error
}

// WebhookConfig carries per-provider secrets. SkipSignature is only set outside production.
type WebhookConfig struct {
	Secrets       map[Provider]string
	SkipSignature bool
}

// WebhookOutcome describes what a delivery caused.
type WebhookOutcome struct {
	OrderID    string
	Action     string
	NewBalance ledger.AmountDT
}

// IntakeOption configures an Intake.
type IntakeOption func(*Intake)

// Intake processes provider webhooks into wallet credits.
type Intake struct {
	crediter
	config   WebhookConfig
	recorder WebhookRecorder
}

func NewIntake(service *ledger.Service, config WebhookConfig, options ...IntakeOption) (*Intake, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: ledger service is required", ErrInvalidIntakeConfig)
	}
	intake := &Intake{
		crediter: crediter{
			service:   service,
			publisher: events.NopPublisher{},
			logger:    zap.NewNop(),
			nowFn:     time.Now,
		},
		config: config,
	}
	for _, option := range options {
		if option != nil {
			option(intake)
		}
	}
	return intake, nil
}

func WithIntakeLogger(logger *zap.Logger) IntakeOption {
	return func(intake *Intake) {
		if logger != nil {
			intake.logger = logger
		}
	}
}

func WithIntakePublisher(publisher events.Publisher) IntakeOption {
	return func(intake *Intake) {
		if publisher != nil {
			intake.publisher = publisher
		}
	}
}

func WithIntakeClock(now func() time.Time) IntakeOption {
	return func(intake *Intake) {
		if now != nil {
			intake.nowFn = now
		}
	}
}

// WithWebhookRecorder stores every authenticated delivery.
func WithWebhookRecorder(recorder WebhookRecorder) IntakeOption {
	return func(intake *Intake) {
		intake.recorder = recorder
	}
}

// HandleWebhook authenticates a delivery and applies it.
// Signature failures return before any state is read.
func (intake *Intake) HandleWebhook(ctx context.Context, body []byte, signature string, providerHeader string) (WebhookOutcome, error) {
	provider, err := ParseProvider(providerHeader)
	if err != nil {
		return WebhookOutcome{}, err
	}
	if !intake.config.SkipSignature {
		if err := VerifySignature(provider, intake.config.Secrets[provider], body, signature); err != nil {
			if errors.Is(err, ErrWebhookSecretMissing) {
				intake.logger.Warn("webhook secret not configured", zap.String("provider", string(provider)))
			}
			return WebhookOutcome{}, err
		}
	}

	event, err := ParsePaymentEvent(provider, body)
	if err != nil {
		return WebhookOutcome{}, err
	}
	intake.record(ctx, event, body)

	orderID, err := ledger.NewOrderID(event.OrderID)
	if err != nil {
		return WebhookOutcome{}, ErrMissingOrderID
	}
	outcome := WebhookOutcome{OrderID: orderID.String()}

	processed, err := intake.service.IsProcessed(ctx, ledger.PurchaseIdempotencyKey(orderID))
	if err != nil {
		return WebhookOutcome{}, err
	}
	if processed {
		outcome.Action = ActionAlreadyProcessed
		return outcome, nil
	}

	intent, err := intake.service.PurchaseIntent(ctx, orderID)
	if err != nil {
		return WebhookOutcome{}, err
	}

	if !event.Paid {
		err := intake.service.ResolvePurchaseIntent(ctx, orderID, ledger.PurchaseStatusFailed)
		switch {
		case errors.Is(err, ledger.ErrPurchaseIntentClosed):
			outcome.Action = ActionIntentClosed
		case err != nil:
			return WebhookOutcome{}, err
		default:
			outcome.Action = ActionMarkedFailed
		}
		intake.logger.Info("payment webhook not successful",
			zap.String("order_id", orderID.String()),
			zap.String("user_id", intent.UserID.String()),
			zap.String("provider_status", event.Status),
			zap.String("action", outcome.Action),
		)
		return outcome, nil
	}

	result, err := intake.credit(ctx, intent, event.TransactionID, creditSourceWebhook)
	if errors.Is(err, ledger.ErrPurchaseIntentClosed) {
		intake.logger.Warn("paid webhook for closed purchase intent",
			zap.String("order_id", orderID.String()),
			zap.String("user_id", intent.UserID.String()),
			zap.String("intent_status", intent.Status.String()),
		)
		outcome.Action = ActionIntentClosed
		return outcome, nil
	}
	if err != nil {
		return WebhookOutcome{}, err
	}
	outcome.NewBalance = result.NewBalance
	outcome.Action = ActionCredited
	if result.AlreadyProcessed {
		outcome.Action = ActionAlreadyProcessed
	}
	return outcome, nil
}

func (intake *Intake) record(ctx context.Context, event PaymentEvent, body []byte) {
	if intake.recorder == nil {
		return
	}
	err := intake.recorder.RecordWebhookEvent(ctx, WebhookRecord{
		Provider:      event.Provider,
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		Status:        event.Status,
		Payload:       body,
		ReceivedAt:    intake.nowFn().UTC(),
	})
	if err != nil {
		intake.logger.Warn("webhook record failed", zap.String("order_id", event.OrderID), zap.Error(err))
	}
}
