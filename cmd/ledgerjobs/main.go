package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/dtledger/internal/app"
	"github.com/MarkoPoloResearchLab/dtledger/internal/config"
	"github.com/MarkoPoloResearchLab/dtledger/internal/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const flagOnce = "once"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerjobs: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config.Config
	var once string
	cmd := &cobra.Command{
		Use:           "ledgerjobs",
		Short:         "Runs reconcile, payout and dispatch batches on cron schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			loaded, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runJobs(ctx, cfg, once)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&once, flagOnce, "", "run one job immediately and exit ("+strings.Join([]string{app.JobReconcile, app.JobPayout, app.JobDispatch}, ", ")+")")
	return cmd
}

func runJobs(ctx context.Context, cfg config.Config, once string) error {
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := components.Close(); closeErr != nil {
			logger.Warn("close components", zap.Error(closeErr))
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	runner := scheduler.NewRunner(
		scheduler.WithLocker(locker),
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithLocation(cfg.Location()),
	)
	for _, job := range components.Jobs() {
		if strings.TrimSpace(once) != "" {
			job.Schedule = ""
		}
		if err := runner.Register(job); err != nil {
			return err
		}
	}

	if strings.TrimSpace(once) != "" {
		return runner.RunOnce(ctx, once)
	}

	runner.Start(ctx)
	logger.Info("scheduler started", zap.Strings("jobs", runner.Names()))
	<-ctx.Done()
	logger.Info("shutdown requested")
	<-runner.Stop().Done()
	return nil
}

// newLocker returns a Redis-backed locker when a Redis URL is configured.
func newLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (scheduler.Locker, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("redis url not configured; job locks are process-local")
		return scheduler.NopLocker{}, func() {}, nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return scheduler.NewRedisLocker(client, ""), func() { _ = client.Close() }, nil
}
