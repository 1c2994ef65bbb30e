// Package app assembles the ledger components from a validated config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/config"
	"github.com/MarkoPoloResearchLab/dtledger/internal/database"
	"github.com/MarkoPoloResearchLab/dtledger/internal/dispatch"
	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/internal/ledgerlog"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payout"
	"github.com/MarkoPoloResearchLab/dtledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dtledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const providerHTTPTimeout = 10 * time.Second

// Components holds every wired service. Close releases them in reverse order.
type Components struct {
	Config     config.Config
	Logger     *zap.Logger
	Database   database.Handle
	Store      *gormstore.Store
	Publisher  events.Publisher
	Ledger     *ledger.Service
	Intake     *payments.Intake
	Reconciler *payments.Reconciler
	Payouts    *payout.Calculator
	Dispatcher *dispatch.Dispatcher

	closers []func() error
}

// NewLogger builds the process logger for the configured environment.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == config.EnvironmentDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Build opens the database and wires the ledger services.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{Config: cfg, Logger: logger}

	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	components.Database = handle
	components.closers = append(components.closers, handle.Close)
	if err := database.PrepareSchema(handle); err != nil {
		_ = components.Close()
		return nil, err
	}
	components.Store = gormstore.New(handle.DB)

	components.Publisher = newPublisher(cfg, logger)
	components.closers = append(components.closers, components.Publisher.Close)

	if err := components.wireServices(ctx); err != nil {
		_ = components.Close()
		return nil, err
	}
	return components, nil
}

func (components *Components) wireServices(ctx context.Context) error {
	cfg := components.Config
	logger := components.Logger

	service, err := ledger.NewService(components.Store, func() time.Time { return time.Now().UTC() },
		ledger.WithOperationLogger(ledgerlog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	components.Ledger = service

	components.Intake, err = payments.NewIntake(service, cfg.WebhookConfig(),
		payments.WithIntakeLogger(logger.Named("webhook")),
		payments.WithIntakePublisher(components.Publisher),
		payments.WithWebhookRecorder(components.Store),
	)
	if err != nil {
		return fmt.Errorf("webhook intake init: %w", err)
	}

	tossClient := payments.NewTossClient(cfg.TossAPIBaseURL, cfg.TossSecretKey, &http.Client{Timeout: providerHTTPTimeout})
	components.Reconciler, err = payments.NewReconciler(service, components.Store, tossClient,
		payments.WithReconcilerLogger(logger.Named("reconcile")),
		payments.WithReconcilerPublisher(components.Publisher),
		payments.WithReconcileWindow(cfg.ReconcileStaleAfter, cfg.ReconcileBatchSize),
	)
	if err != nil {
		return fmt.Errorf("reconciler init: %w", err)
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake node: %w", err)
	}
	components.Payouts, err = payout.NewCalculator(components.Store, components.Store, node,
		payout.WithPlatformFeeRate(cfg.PlatformFeeRate),
		payout.WithDefaultMinimumPayout(cfg.DefaultMinimumPayoutKRW),
		payout.WithLocation(cfg.Location()),
		payout.WithLogger(logger.Named("payout")),
		payout.WithPublisher(components.Publisher),
	)
	if err != nil {
		return fmt.Errorf("payout calculator init: %w", err)
	}

	dispatchStore, err := components.dispatchStore(ctx)
	if err != nil {
		return err
	}
	components.Dispatcher, err = dispatch.NewDispatcher(dispatchStore,
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithLocation(cfg.Location()),
		dispatch.WithBatchSizes(cfg.DispatchBatchSize, cfg.DeliveryBatchSize),
	)
	if err != nil {
		return fmt.Errorf("dispatcher init: %w", err)
	}
	return nil
}

// dispatchStore uses batched pgx inserts on Postgres and GORM elsewhere.
func (components *Components) dispatchStore(ctx context.Context) (dispatch.Store, error) {
	if components.Database.Driver != database.DriverPostgres {
		return components.Store, nil
	}
	pool, err := pgxpool.New(ctx, components.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	components.closers = append(components.closers, func() error {
		pool.Close()
		return nil
	})
	return pgstore.New(pool), nil
}

func newPublisher(cfg config.Config, logger *zap.Logger) events.Publisher {
	if strings.TrimSpace(cfg.AMQPURL) == "" {
		logger.Info("amqp url not configured; domain events disabled")
		return events.NopPublisher{}
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, events.DefaultExchange)
	if err != nil {
		logger.Warn("amqp publisher unavailable; domain events disabled", zap.Error(err))
		return events.NopPublisher{}
	}
	return publisher
}

// Close releases every resource opened by Build.
func (components *Components) Close() error {
	var closeErrors []error
	for index := len(components.closers) - 1; index >= 0; index-- {
		if err := components.closers[index](); err != nil {
			closeErrors = append(closeErrors, err)
		}
	}
	components.closers = nil
	return errors.Join(closeErrors...)
}
