package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/app"
	"github.com/MarkoPoloResearchLab/dtledger/internal/config"
	"github.com/MarkoPoloResearchLab/dtledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/dtledger/internal/httpapi"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config.Config
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "DT ledger HTTP API with gRPC health",
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
			return runServer(ctx, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
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

	if !cfg.IsProduction() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := httpapi.NewRouter(httpapi.AuthConfig{
		ServiceRoleSecret: cfg.ServiceRoleSecret,
		CronSecret:        cfg.CronSecret,
		JWTSigningKey:     cfg.JWTSigningKey,
		JWTIssuer:         cfg.JWTIssuer,
	}, httpapi.Dependencies{
		Ledger:     components.Ledger,
		Intake:     components.Intake,
		Reconciler: components.Reconciler,
		Payouts:    components.Payouts,
		Dispatcher: components.Dispatcher,
		Publisher:  components.Publisher,
		Logger:     logger.Named("http"),
		Location:   cfg.Location(),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sqlDB, err := components.Database.DB.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	grpcServer, reporter := grpcserver.NewServer(sqlDB, grpcserver.WithLogger(logger.Named("health")))
	grpcListener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("HTTP server starting", zap.String("listen_addr", cfg.ListenAddr), zap.String("environment", cfg.Environment))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", serveErr)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("gRPC health server starting", zap.String("listen_addr", cfg.GRPCHealthAddr))
		if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", serveErr)
		}
		return nil
	})
	group.Go(func() error {
		reporter.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
