package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DTLEDGER"

const (
	FlagEnvironment          = "environment"
	FlagListenAddr           = "listen-addr"
	FlagGRPCHealthAddr       = "grpc-health-addr"
	FlagDatabaseURL          = "database-url"
	FlagTossWebhookSecret    = "toss-webhook-secret"
	FlagPortOneWebhookSecret = "portone-webhook-secret"
	FlagSkipWebhookSignature = "skip-webhook-signature"
	FlagServiceRoleSecret    = "service-role-secret"
	FlagCronSecret           = "cron-secret"
	FlagJWTSigningKey        = "jwt-signing-key"
	FlagJWTIssuer            = "jwt-issuer"
	FlagTossAPIBaseURL       = "toss-api-base-url"
	FlagTossSecretKey        = "toss-secret-key"
	FlagPlatformFeeRate      = "platform-fee-rate"
	FlagMinimumPayoutKRW     = "minimum-payout-krw"
	FlagPayoutTimeZone       = "payout-time-zone"
	FlagReconcileBatchSize   = "reconcile-batch-size"
	FlagReconcileStaleAfter  = "reconcile-stale-after"
	FlagDispatchBatchSize    = "dispatch-batch-size"
	FlagDeliveryBatchSize    = "delivery-batch-size"
	FlagRedisURL             = "redis-url"
	FlagAMQPURL              = "amqp-url"
	FlagReconcileSchedule    = "reconcile-schedule"
	FlagPayoutSchedule       = "payout-schedule"
	FlagDispatchSchedule     = "dispatch-schedule"
	FlagJobTimeout           = "job-timeout"
	FlagNodeID               = "node-id"
)

// legacyEnv lists unprefixed variable names honoured alongside DTLEDGER_*.
var legacyEnv = map[string]string{
	FlagDatabaseURL:          "DATABASE_URL",
	FlagTossWebhookSecret:    "TOSS_WEBHOOK_SECRET",
	FlagPortOneWebhookSecret: "PORTONE_WEBHOOK_SECRET",
	FlagSkipWebhookSignature: "SKIP_WEBHOOK_SIGNATURE",
	FlagServiceRoleSecret:    "SERVICE_ROLE_KEY",
	FlagCronSecret:           "CRON_SECRET",
	FlagTossSecretKey:        "TOSS_SECRET_KEY",
	FlagRedisURL:             "REDIS_URL",
	FlagAMQPURL:              "AMQP_URL",
}

// RegisterFlags declares every setting on the provided flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagEnvironment, defaultEnvironment, "deployment environment (production, staging, development, test)")
	flags.String(FlagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(FlagGRPCHealthAddr, defaultGRPCHealthAddr, "gRPC health listen address")
	flags.String(FlagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite:// connection string")
	flags.String(FlagTossWebhookSecret, "", "Toss webhook HMAC secret")
	flags.String(FlagPortOneWebhookSecret, "", "PortOne webhook HMAC secret")
	flags.Bool(FlagSkipWebhookSignature, false, "skip webhook signature checks (never allowed in production)")
	flags.String(FlagServiceRoleSecret, "", "bearer secret for internal job endpoints")
	flags.String(FlagCronSecret, "", "x-cron-secret value for the scheduled dispatcher")
	flags.String(FlagJWTSigningKey, "", "HMAC key for user bearer tokens")
	flags.String(FlagJWTIssuer, defaultJWTIssuer, "expected issuer of user bearer tokens")
	flags.String(FlagTossAPIBaseURL, "", "Toss payments API base URL")
	flags.String(FlagTossSecretKey, "", "Toss payments API secret key")
	flags.String(FlagPlatformFeeRate, defaultPlatformFeeRate, "platform fee rate applied to creator gross")
	flags.Int64(FlagMinimumPayoutKRW, defaultMinimumPayoutKRW, "default minimum payout in KRW")
	flags.String(FlagPayoutTimeZone, defaultPayoutTimeZone, "time zone that defines payout months")
	flags.Int(FlagReconcileBatchSize, defaultReconcileBatchSize, "stale intents reconciled per run")
	flags.Duration(FlagReconcileStaleAfter, defaultReconcileStale, "age after which a pending intent is reconciled")
	flags.Int(FlagDispatchBatchSize, defaultDispatchBatchSize, "due messages dispatched per run")
	flags.Int(FlagDeliveryBatchSize, defaultDeliveryBatchSize, "delivery rows inserted per statement")
	flags.String(FlagRedisURL, "", "redis URL for job locks")
	flags.String(FlagAMQPURL, "", "RabbitMQ URL for domain events")
	flags.String(FlagReconcileSchedule, defaultReconcileSchedule, "cron schedule for payment reconciliation")
	flags.String(FlagPayoutSchedule, defaultPayoutSchedule, "cron schedule for the monthly payout batch")
	flags.String(FlagDispatchSchedule, defaultDispatchSchedule, "cron schedule for scheduled message dispatch")
	flags.Duration(FlagJobTimeout, defaultJobTimeout, "upper bound for a single job run")
	flags.Int64(FlagNodeID, defaultNodeID, "snowflake node id for payout ids (0-1023)")
}

// LoadDotEnv loads variables from the given .env files when present.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves flags and DTLEDGER_* environment variables into a validated Config.
func Load(flags *pflag.FlagSet) (Config, error) {
	resolver := viper.New()
	resolver.SetEnvPrefix(envPrefix)
	resolver.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	resolver.AutomaticEnv()

	if err := resolver.BindPFlags(flags); err != nil {
		return Config{}, err
	}
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := resolver.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, err
		}
	}

	feeRate, err := decimal.NewFromString(strings.TrimSpace(resolver.GetString(FlagPlatformFeeRate)))
	if err != nil {
		return Config{}, fmt.Errorf("%w: platform fee rate: %v", ErrInvalidConfig, err)
	}

	cfg := Config{
		Environment:             resolver.GetString(FlagEnvironment),
		ListenAddr:              resolver.GetString(FlagListenAddr),
		GRPCHealthAddr:          resolver.GetString(FlagGRPCHealthAddr),
		DatabaseURL:             resolver.GetString(FlagDatabaseURL),
		TossWebhookSecret:       resolver.GetString(FlagTossWebhookSecret),
		PortOneWebhookSecret:    resolver.GetString(FlagPortOneWebhookSecret),
		SkipWebhookSignature:    resolver.GetBool(FlagSkipWebhookSignature),
		ServiceRoleSecret:       resolver.GetString(FlagServiceRoleSecret),
		CronSecret:              resolver.GetString(FlagCronSecret),
		JWTSigningKey:           resolver.GetString(FlagJWTSigningKey),
		JWTIssuer:               resolver.GetString(FlagJWTIssuer),
		TossAPIBaseURL:          resolver.GetString(FlagTossAPIBaseURL),
		TossSecretKey:           resolver.GetString(FlagTossSecretKey),
		PlatformFeeRate:         feeRate,
		DefaultMinimumPayoutKRW: resolver.GetInt64(FlagMinimumPayoutKRW),
		PayoutTimeZone:          resolver.GetString(FlagPayoutTimeZone),
		ReconcileBatchSize:      resolver.GetInt(FlagReconcileBatchSize),
		ReconcileStaleAfter:     resolver.GetDuration(FlagReconcileStaleAfter),
		DispatchBatchSize:       resolver.GetInt(FlagDispatchBatchSize),
		DeliveryBatchSize:       resolver.GetInt(FlagDeliveryBatchSize),
		RedisURL:                resolver.GetString(FlagRedisURL),
		AMQPURL:                 resolver.GetString(FlagAMQPURL),
		ReconcileSchedule:       resolver.GetString(FlagReconcileSchedule),
		PayoutSchedule:          resolver.GetString(FlagPayoutSchedule),
		DispatchSchedule:        resolver.GetString(FlagDispatchSchedule),
		JobTimeout:              resolver.GetDuration(FlagJobTimeout),
		NodeID:                  resolver.GetInt64(FlagNodeID),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
