package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypePaymentCredited = "payment.credited"
	TypePledgeCreated   = "pledge.created"
	TypePayoutCreated   = "payout.created"
)

// ErrPublisherClosed is returned when publishing after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Event is the envelope published for every committed domain change.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType string, occurredAt time.Time, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
}

// PaymentCredited is published after a purchase is credited to a wallet.
type PaymentCredited struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	CreditedDT int64  `json:"credited_dt"`
	NewBalance int64  `json:"new_balance_dt"`
	Source     string `json:"source"`
}

// PledgeCreated is published after a pledge commits.
type PledgeCreated struct {
	PledgeID    string `json:"pledge_id"`
	CampaignID  string `json:"campaign_id"`
	UserID      string `json:"user_id"`
	TotalDT     int64  `json:"total_dt"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// PayoutCreated is published after a payout row is written for review.
type PayoutCreated struct {
	PayoutID    string `json:"payout_id"`
	CreatorID   string `json:"creator_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	NetKRW      int64  `json:"net_krw"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

// Emit publishes an event without letting a broker failure reach the caller.
func Emit(ctx context.Context, publisher Publisher, logger *zap.Logger, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil && logger != nil {
		logger.Warn("event publish failed",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}
