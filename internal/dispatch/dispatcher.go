package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	ScheduledStatusPending = "pending"
	ScheduledStatusSent    = "sent"

	defaultMessageBatchSize  = 100
	defaultDeliveryBatchSize = 500
	quotaMonthLayout         = "2006-01"
)

var (
	// ErrInvalidDispatcherConfig reports a missing dependency.
	ErrInvalidDispatcherConfig = errors.New("invalid dispatcher config")
	// ErrDeliveriesIncomplete reports a message already marked sent whose fan-out did not finish.
	// Later runs never pick it up again, so its deliveries need a manual repair.
	ErrDeliveriesIncomplete = errors.New("message sent with incomplete deliveries")
)

// Message is a due scheduled message.
type Message struct {
	ID          string
	CreatorID   ledger.UserID
	IsBroadcast bool
	ScheduledAt time.Time
}

// Store is the persistence contract of the dispatcher.
// MarkMessageSent is a conditional pending to sent update and reports whether this call won it.
// InsertDeliveries ignores rows that already exist for (message, user) and returns the inserted count.
type Store interface {
	ListDueMessages(ctx context.Context, now time.Time, limit int) ([]Message, error)
	MarkMessageSent(ctx context.Context, messageID string, sentAt time.Time) (bool, error)
	ListActiveSubscribers(ctx context.Context, creatorID ledger.UserID, now time.Time) ([]ledger.UserID, error)
	InsertDeliveries(ctx context.Context, messageID string, recipients []ledger.UserID, batchSize int) (int64, error)
	ResetMonthlyQuotas(ctx context.Context, month string) (int64, error)
}

// Report aggregates one dispatcher run.
type Report struct {
	Processed    int
	Sent         int
	Failed       int
	Errors       []string
	MonthlyReset int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// Dispatcher moves due scheduled messages to sent and fans broadcasts out to subscribers.
type Dispatcher struct {
	store             Store
	logger            *zap.Logger
	nowFn             func() time.Time
	location          *time.Location
	messageBatchSize  int
	deliveryBatchSize int
}

func NewDispatcher(store Store, options ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidDispatcherConfig)
	}
	dispatcher := &Dispatcher{
		store:             store,
		logger:            zap.NewNop(),
		nowFn:             time.Now,
		location:          time.UTC,
		messageBatchSize:  defaultMessageBatchSize,
		deliveryBatchSize: defaultDeliveryBatchSize,
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

func WithLogger(logger *zap.Logger) Option {
	return func(dispatcher *Dispatcher) {
		if logger != nil {
			dispatcher.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(dispatcher *Dispatcher) {
		if now != nil {
			dispatcher.nowFn = now
		}
	}
}

// WithLocation sets the time zone that defines the quota month.
func WithLocation(location *time.Location) Option {
	return func(dispatcher *Dispatcher) {
		if location != nil {
			dispatcher.location = location
		}
	}
}

// WithBatchSizes overrides the per-run message cap and the delivery insert chunk.
func WithBatchSizes(messages int, deliveries int) Option {
	return func(dispatcher *Dispatcher) {
		if messages > 0 {
			dispatcher.messageBatchSize = messages
		}
		if deliveries > 0 {
			dispatcher.deliveryBatchSize = deliveries
		}
	}
}

// Run resets stale quota months, then dispatches up to one batch of due messages.
// A message's failure is recorded in the report and never stops the run.
func (dispatcher *Dispatcher) Run(ctx context.Context) (Report, error) {
	report := Report{Errors: []string{}}
	now := dispatcher.nowFn().UTC()

	month := now.In(dispatcher.location).Format(quotaMonthLayout)
	reset, err := dispatcher.store.ResetMonthlyQuotas(ctx, month)
	if err != nil {
		dispatcher.logger.Warn("monthly quota reset failed", zap.String("month", month), zap.Error(err))
		report.Errors = append(report.Errors, fmt.Sprintf("quota reset: %v", err))
	}
	report.MonthlyReset = reset

	messages, err := dispatcher.store.ListDueMessages(ctx, now, dispatcher.messageBatchSize)
	if err != nil {
		return report, fmt.Errorf("list due messages: %w", err)
	}
	for _, message := range messages {
		report.Processed++
		sent, err := dispatcher.dispatch(ctx, message, now)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", message.ID, err))
			logMessage := "scheduled message dispatch failed"
			if errors.Is(err, ErrDeliveriesIncomplete) {
				logMessage = "scheduled message marked sent but deliveries incomplete; repair required"
			}
			dispatcher.logger.Error(logMessage,
				zap.String("message_id", message.ID),
				zap.String("creator_id", message.CreatorID.String()),
				zap.Bool("marked_sent", errors.Is(err, ErrDeliveriesIncomplete)),
				zap.Error(err),
			)
			continue
		}
		if sent {
			report.Sent++
		}
	}
	dispatcher.logger.Info("scheduled dispatch finished",
		zap.Int("processed", report.Processed),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int64("monthly_reset", report.MonthlyReset),
	)
	return report, nil
}

func (dispatcher *Dispatcher) dispatch(ctx context.Context, message Message, now time.Time) (bool, error) {
	won, err := dispatcher.store.MarkMessageSent(ctx, message.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	if !won {
		return false, nil
	}
	if !message.IsBroadcast {
		return true, nil
	}
	recipients, err := dispatcher.store.ListActiveSubscribers(ctx, message.CreatorID, now)
	if err != nil {
		return false, fmt.Errorf("%w: list subscribers: %w", ErrDeliveriesIncomplete, err)
	}
	if len(recipients) == 0 {
		return true, nil
	}
	inserted, err := dispatcher.store.InsertDeliveries(ctx, message.ID, recipients, dispatcher.deliveryBatchSize)
	if err != nil {
		return false, fmt.Errorf("%w: fan out: %w", ErrDeliveriesIncomplete, err)
	}
	dispatcher.logger.Debug("broadcast fanned out",
		zap.String("message_id", message.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int64("inserted", inserted),
	)
	return true, nil
}
