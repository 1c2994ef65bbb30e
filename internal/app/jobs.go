package app

import (
	"context"

	"github.com/MarkoPoloResearchLab/dtledger/internal/scheduler"
	"go.uber.org/zap"
)

// Job names accepted by ledgerjobs --once.
const (
	JobReconcile = "payment-reconcile"
	JobPayout    = "payout-calculate"
	JobDispatch  = "scheduled-dispatch"
)

// Jobs returns the batch jobs on their configured schedules.
func (components *Components) Jobs() []scheduler.Job {
	cfg := components.Config
	logger := components.Logger
	return []scheduler.Job{
		{
			Name:     JobReconcile,
			Schedule: cfg.ReconcileSchedule,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context) error {
				report, err := components.Reconciler.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("reconcile finished", zap.Int("processed", report.Processed))
				return nil
			},
		},
		{
			Name:     JobPayout,
			Schedule: cfg.PayoutSchedule,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context) error {
				report, err := components.Payouts.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("payout calculation finished",
					zap.String("period_start", report.Period.StartDate()),
					zap.Int("processed", report.Processed),
					zap.Int("created", report.Created),
					zap.Int("skipped", report.Skipped),
					zap.Int("errors", report.Errors),
				)
				return nil
			},
		},
		{
			Name:     JobDispatch,
			Schedule: cfg.DispatchSchedule,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context) error {
				report, err := components.Dispatcher.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("scheduled dispatch finished",
					zap.Int("processed", report.Processed),
					zap.Int("sent", report.Sent),
					zap.Int("failed", report.Failed),
					zap.Int64("monthly_reset", report.MonthlyReset),
				)
				return nil
			},
		},
	}
}
