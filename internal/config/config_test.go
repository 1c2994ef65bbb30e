package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

func TestValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.Environment != EnvironmentProduction || cfg.ListenAddr != defaultListenAddr || cfg.DatabaseURL != defaultDatabaseURL {
		test.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconcileBatchSize != 50 || cfg.ReconcileStaleAfter != 45*time.Minute {
		test.Fatalf("unexpected reconcile defaults: %d %s", cfg.ReconcileBatchSize, cfg.ReconcileStaleAfter)
	}
	if cfg.TossAPIBaseURL != payments.DefaultTossBaseURL {
		test.Fatalf("unexpected toss base url %q", cfg.TossAPIBaseURL)
	}
	if cfg.Location().String() != "Asia/Seoul" {
		test.Fatalf("unexpected location %s", cfg.Location())
	}
}

func TestValidateRejectsUnusableValues(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "signature bypass in production", cfg: Config{Environment: "production", SkipWebhookSignature: true}},
		{name: "unknown environment", cfg: Config{Environment: "qa"}},
		{name: "negative fee", cfg: Config{PlatformFeeRate: decimal.RequireFromString("-0.1")}},
		{name: "fee of one", cfg: Config{PlatformFeeRate: decimal.NewFromInt(1)}},
		{name: "unknown time zone", cfg: Config{PayoutTimeZone: "Mars/Olympus"}},
		{name: "node id out of range", cfg: Config{NodeID: 4096}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestWebhookConfigSkipsEmptySecrets(test *testing.T) {
	test.Parallel()
	cfg := Config{TossWebhookSecret: " whsec_toss ", Environment: EnvironmentDevelopment, SkipWebhookSignature: true}
	webhook := cfg.WebhookConfig()
	if webhook.Secrets[payments.ProviderToss] != "whsec_toss" {
		test.Fatalf("unexpected toss secret %q", webhook.Secrets[payments.ProviderToss])
	}
	if _, exists := webhook.Secrets[payments.ProviderPortOne]; exists {
		test.Fatalf("expected no portone secret")
	}
	if !webhook.SkipSignature {
		test.Fatalf("expected signature bypass to carry over")
	}
}

func TestLoadReadsPrefixedAndLegacyEnvironment(test *testing.T) {
	test.Setenv("DTLEDGER_ENVIRONMENT", "development")
	test.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	test.Setenv("CRON_SECRET", "cron-legacy")
	test.Setenv("DTLEDGER_CRON_SECRET", "cron-prefixed")
	test.Setenv("DTLEDGER_RECONCILE_STALE_AFTER", "30m")
	test.Setenv("DTLEDGER_PLATFORM_FEE_RATE", "0.15")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	cfg, err := Load(flags)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvironmentDevelopment {
		test.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.DatabaseURL != "postgres://ledger@localhost/ledger" {
		test.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if cfg.CronSecret != "cron-prefixed" {
		test.Fatalf("expected prefixed variable to win, got %q", cfg.CronSecret)
	}
	if cfg.ReconcileStaleAfter != 30*time.Minute {
		test.Fatalf("unexpected staleness %s", cfg.ReconcileStaleAfter)
	}
	if !cfg.PlatformFeeRate.Equal(decimal.RequireFromString("0.15")) {
		test.Fatalf("unexpected fee rate %s", cfg.PlatformFeeRate)
	}
}

func TestLoadPrefersExplicitFlags(test *testing.T) {
	test.Setenv("DTLEDGER_LISTEN_ADDR", ":9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse([]string{"--listen-addr=:9100", "--reconcile-batch-size=5"}); err != nil {
		test.Fatalf("parse: %v", err)
	}
	cfg, err := Load(flags)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9100" || cfg.ReconcileBatchSize != 5 {
		test.Fatalf("unexpected config %s %d", cfg.ListenAddr, cfg.ReconcileBatchSize)
	}
}

func TestLoadRejectsMalformedFeeRate(test *testing.T) {
	test.Setenv("DTLEDGER_PLATFORM_FEE_RATE", "twenty percent")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	if _, err := Load(flags); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadDotEnv(test *testing.T) {
	const variable = "DTLEDGER_DOTENV_PROBE"
	test.Cleanup(func() { _ = os.Unsetenv(variable) })
	path := filepath.Join(test.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(variable+"=loaded\n"), 0o600); err != nil {
		test.Fatalf("write env file: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(test.TempDir(), "missing.env"), path); err != nil {
		test.Fatalf("load dotenv: %v", err)
	}
	if os.Getenv(variable) != "loaded" {
		test.Fatalf("expected variable from .env file")
	}
}
