// Package config holds the runtime settings shared by ledgerd and ledgerjobs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/shopspring/decimal"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"

	defaultEnvironment        = EnvironmentProduction
	defaultListenAddr         = ":8080"
	defaultGRPCHealthAddr     = ":7000"
	defaultDatabaseURL        = "sqlite:///tmp/dtledger.db"
	defaultJWTIssuer          = "dtledger"
	defaultPlatformFeeRate    = "0.20"
	defaultMinimumPayoutKRW   = 10000
	defaultPayoutTimeZone     = "Asia/Seoul"
	defaultReconcileBatchSize = 50
	defaultReconcileStale     = 45 * time.Minute
	defaultDispatchBatchSize  = 100
	defaultDeliveryBatchSize  = 1000
	defaultReconcileSchedule  = "*/10 * * * *"
	defaultPayoutSchedule     = "0 3 1 * *"
	defaultDispatchSchedule   = "* * * * *"
	defaultJobTimeout         = 10 * time.Minute
	defaultNodeID             = 1
	maxNodeID                 = 1023
)

// ErrInvalidConfig reports a setting that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings. Secrets may be empty; the operation that needs one fails closed.
type Config struct {
	Environment    string
	ListenAddr     string
	GRPCHealthAddr string
	DatabaseURL    string

	TossWebhookSecret    string
	PortOneWebhookSecret string
	SkipWebhookSignature bool
	ServiceRoleSecret    string
	CronSecret           string
	JWTSigningKey        string
	JWTIssuer            string

	TossAPIBaseURL string
	TossSecretKey  string

	PlatformFeeRate         decimal.Decimal
	DefaultMinimumPayoutKRW int64
	PayoutTimeZone          string

	ReconcileBatchSize  int
	ReconcileStaleAfter time.Duration
	DispatchBatchSize   int
	DeliveryBatchSize   int

	RedisURL string
	AMQPURL  string

	ReconcileSchedule string
	PayoutSchedule    string
	DispatchSchedule  string
	JobTimeout        time.Duration

	// NodeID distinguishes processes minting payout ids.
	NodeID int64

	location *time.Location
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.Environment = strings.ToLower(defaultIfEmpty(cfg.Environment, defaultEnvironment))
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCHealthAddr = defaultIfEmpty(cfg.GRPCHealthAddr, defaultGRPCHealthAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.TossAPIBaseURL = defaultIfEmpty(cfg.TossAPIBaseURL, payments.DefaultTossBaseURL)
	cfg.PayoutTimeZone = defaultIfEmpty(cfg.PayoutTimeZone, defaultPayoutTimeZone)
	cfg.ReconcileSchedule = defaultIfEmpty(cfg.ReconcileSchedule, defaultReconcileSchedule)
	cfg.PayoutSchedule = defaultIfEmpty(cfg.PayoutSchedule, defaultPayoutSchedule)
	cfg.DispatchSchedule = defaultIfEmpty(cfg.DispatchSchedule, defaultDispatchSchedule)
	if cfg.DefaultMinimumPayoutKRW <= 0 {
		cfg.DefaultMinimumPayoutKRW = defaultMinimumPayoutKRW
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = defaultReconcileBatchSize
	}
	if cfg.ReconcileStaleAfter <= 0 {
		cfg.ReconcileStaleAfter = defaultReconcileStale
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = defaultDispatchBatchSize
	}
	if cfg.DeliveryBatchSize <= 0 {
		cfg.DeliveryBatchSize = defaultDeliveryBatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	switch cfg.Environment {
	case EnvironmentProduction, EnvironmentDevelopment, "staging", "test":
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, cfg.Environment)
	}
	if cfg.SkipWebhookSignature && cfg.IsProduction() {
		return fmt.Errorf("%w: webhook signature bypass is not allowed in production", ErrInvalidConfig)
	}
	if cfg.NodeID < 0 || cfg.NodeID > maxNodeID {
		return fmt.Errorf("%w: node id %d must be within [0, %d]", ErrInvalidConfig, cfg.NodeID, maxNodeID)
	}
	if cfg.PlatformFeeRate.IsNegative() || cfg.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: platform fee rate %s must be within [0, 1)", ErrInvalidConfig, cfg.PlatformFeeRate)
	}
	location, err := time.LoadLocation(cfg.PayoutTimeZone)
	if err != nil {
		return fmt.Errorf("%w: payout time zone %q: %v", ErrInvalidConfig, cfg.PayoutTimeZone, err)
	}
	cfg.location = location
	return nil
}

// IsProduction reports whether the process runs in production.
func (cfg Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// Location returns the payout time zone resolved by Validate.
func (cfg Config) Location() *time.Location {
	if cfg.location == nil {
		return time.UTC
	}
	return cfg.location
}

// WebhookConfig returns the per-provider webhook verification settings.
func (cfg Config) WebhookConfig() payments.WebhookConfig {
	secrets := make(map[payments.Provider]string, 2)
	if secret := strings.TrimSpace(cfg.TossWebhookSecret); secret != "" {
		secrets[payments.ProviderToss] = secret
	}
	if secret := strings.TrimSpace(cfg.PortOneWebhookSecret); secret != "" {
		secrets[payments.ProviderPortOne] = secret
	}
	return payments.WebhookConfig{Secrets: secrets, SkipSignature: cfg.SkipWebhookSignature}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
