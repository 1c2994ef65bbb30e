// Package scheduler runs the ledger batch jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 10 * time.Minute

var (
	// ErrInvalidJob reports a job without a name, schedule or body.
	ErrInvalidJob = errors.New("invalid scheduler job")
	// ErrUnknownJob reports a RunOnce call for a job that was never registered.
	ErrUnknownJob = errors.New("unknown scheduler job")
	// ErrJobLocked reports that another runner holds the job lock.
	ErrJobLocked = errors.New("scheduler job locked")
)

// Job describes one scheduled batch.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Option configures a Runner.
type Option func(*Runner)

// Runner owns the cron instance and the registered jobs.
type Runner struct {
	cron     *cron.Cron
	locker   Locker
	logger   *zap.Logger
	location *time.Location

	mutex sync.Mutex
	jobs  map[string]Job
	base  context.Context
}

// WithLocker guards every run with a distributed lock.
func WithLocker(locker Locker) Option {
	return func(runner *Runner) {
		if locker != nil {
			runner.locker = locker
		}
	}
}

// WithLogger overrides the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(runner *Runner) {
		if logger != nil {
			runner.logger = logger
		}
	}
}

// WithLocation interprets schedules in the provided time zone.
func WithLocation(location *time.Location) Option {
	return func(runner *Runner) {
		if location != nil {
			runner.location = location
		}
	}
}

// NewRunner constructs a Runner. Schedules use the standard five-field cron syntax.
func NewRunner(options ...Option) *Runner {
	runner := &Runner{
		locker:   NopLocker{},
		logger:   zap.NewNop(),
		location: time.UTC,
		jobs:     make(map[string]Job),
		base:     context.Background(),
	}
	for _, option := range options {
		option(runner)
	}
	cronLogger := zapCronLogger{logger: runner.logger.Sugar()}
	runner.cron = cron.New(
		cron.WithLocation(runner.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return runner
}

// Register validates the job and adds it to the cron table.
func (runner *Runner) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Schedule = strings.TrimSpace(job.Schedule)
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: name and run func are required", ErrInvalidJob)
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}

	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	if _, exists := runner.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s registered twice", ErrInvalidJob, job.Name)
	}
	if job.Schedule != "" {
		if _, err := runner.cron.AddFunc(job.Schedule, func() { runner.trigger(job) }); err != nil {
			return fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidJob, job.Name, job.Schedule, err)
		}
		runner.logger.Info("scheduled job", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	}
	runner.jobs[job.Name] = job
	return nil
}

// Names lists the registered job names.
func (runner *Runner) Names() []string {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	names := make([]string, 0, len(runner.jobs))
	for name := range runner.jobs {
		names = append(names, name)
	}
	return names
}

// Start begins firing schedules. Scheduled runs derive their context from ctx.
func (runner *Runner) Start(ctx context.Context) {
	runner.mutex.Lock()
	runner.base = ctx
	runner.mutex.Unlock()
	runner.cron.Start()
}

// Stop halts the schedule; the returned context is done once running jobs finish.
func (runner *Runner) Stop() context.Context {
	return runner.cron.Stop()
}

// RunOnce executes a registered job immediately under the same lock and timeout as a scheduled run.
func (runner *Runner) RunOnce(ctx context.Context, name string) error {
	runner.mutex.Lock()
	job, exists := runner.jobs[strings.TrimSpace(name)]
	runner.mutex.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return runner.execute(ctx, job)
}

func (runner *Runner) trigger(job Job) {
	runner.mutex.Lock()
	base := runner.base
	runner.mutex.Unlock()
	if err := runner.execute(base, job); err != nil && !errors.Is(err, ErrJobLocked) {
		runner.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
	}
}

func (runner *Runner) execute(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	release, acquired, err := runner.locker.Acquire(jobCtx, job.Name, job.Timeout)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", job.Name, err)
	}
	if !acquired {
		runner.logger.Info("job skipped; lock held elsewhere", zap.String("job", job.Name))
		return fmt.Errorf("%w: %s", ErrJobLocked, job.Name)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			runner.logger.Warn("job lock release failed", zap.String("job", job.Name), zap.Error(releaseErr))
		}
	}()

	started := time.Now()
	runErr := job.Run(jobCtx)
	fields := []zap.Field{zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started))}
	if runErr != nil {
		runner.logger.Error("job finished with error", append(fields, zap.Error(runErr))...)
		return runErr
	}
	runner.logger.Info("job finished", fields...)
	return nil
}

type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (cronLogger zapCronLogger) Info(message string, keysAndValues ...interface{}) {
	cronLogger.logger.Debugw(message, keysAndValues...)
}

func (cronLogger zapCronLogger) Error(err error, message string, keysAndValues ...interface{}) {
	cronLogger.logger.Errorw(message, append(keysAndValues, "error", err)...)
}
