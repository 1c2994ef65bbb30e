// Package grpcserver serves the gRPC health protocol for the ledger API process.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health key reported alongside the overall ("") status.
const ServiceName = "dtledger.v1.Ledger"

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 2 * time.Second
)

// Pinger checks a dependency the process cannot serve without. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthReporter keeps the health service in sync with the database.
type HealthReporter struct {
	health   *health.Server
	pinger   Pinger
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

// Option configures a HealthReporter.
type Option func(*HealthReporter)

// WithProbeInterval overrides how often Run pings the database.
func WithProbeInterval(interval time.Duration) Option {
	return func(reporter *HealthReporter) {
		if interval > 0 {
			reporter.interval = interval
		}
	}
}

// WithLogger overrides the reporter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(reporter *HealthReporter) {
		if logger != nil {
			reporter.logger = logger
		}
	}
}

// NewServer returns a gRPC server with the health service registered and its reporter.
// Both keys start NOT_SERVING until the first probe succeeds.
func NewServer(pinger Pinger, options ...Option) (*grpc.Server, *HealthReporter) {
	reporter := &HealthReporter{
		health:   health.NewServer(),
		pinger:   pinger,
		logger:   zap.NewNop(),
		interval: defaultProbeInterval,
		timeout:  defaultProbeTimeout,
	}
	for _, option := range options {
		option(reporter)
	}
	reporter.set(healthpb.HealthCheckResponse_NOT_SERVING)

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, reporter.health)
	return server, reporter
}

// Probe pings the database once and publishes the resulting status.
func (reporter *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if reporter.pinger != nil {
		probeCtx, cancel := context.WithTimeout(ctx, reporter.timeout)
		defer cancel()
		if err := reporter.pinger.PingContext(probeCtx); err != nil {
			reporter.logger.Warn("database ping failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	reporter.set(status)
	return status
}

// Run probes on every interval until ctx is done, then marks the process NOT_SERVING.
func (reporter *HealthReporter) Run(ctx context.Context) {
	reporter.Probe(ctx)
	ticker := time.NewTicker(reporter.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			reporter.health.Shutdown()
			return
		case <-ticker.C:
			reporter.Probe(ctx)
		}
	}
}

func (reporter *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	reporter.health.SetServingStatus("", status)
	reporter.health.SetServingStatus(ServiceName, status)
}
