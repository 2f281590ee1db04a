package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/payments"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/payments/stripeprocessor"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the internal gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	httpConfig := httpapi.Config{
		ListenAddr:        cfg.HTTPListenAddr,
		LedgerTimeout:     cfg.LedgerTimeout,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
	}
	if err := httpConfig.Validate(); err != nil {
		return err
	}

	opened, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer opened.close()
	if opened.database == databaseSQLite {
		if err := opened.migrate(ctx); err != nil {
			return err
		}
	}

	recorder := metrics.NewRecorder()
	ledgerService, err := newLedgerService(opened.store, logger, recorder)
	if err != nil {
		return err
	}

	dependencies := httpapi.Dependencies{
		Ledger:  ledgerService,
		Logger:  logger,
		Metrics: recorder.Handler(),
	}
	if cfg.StripeSecretKey != "" {
		processor, err := stripeprocessor.New(stripeprocessor.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
		if err != nil {
			return err
		}
		confirmer, err := payments.NewConfirmer(ledgerService, processor, logger, payments.WithEventRecorder(recorder))
		if err != nil {
			return err
		}
		dependencies.Payments = confirmer
	} else {
		logger.Warn("stripe is not configured; purchases are disabled")
	}

	router, err := httpapi.NewRouter(httpConfig, dependencies)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.Register(grpcServer, grpcserver.NewLedgerServer(ledgerService))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, httpConfig, router, logger)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

func newLedgerService(store ledger.Store, logger *zap.Logger, recorder *metrics.Recorder) (*ledger.Service, error) {
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store, clock, ledger.WithOperationLogger(oplog.New(logger), recorder))
	if err != nil {
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, nil
}
