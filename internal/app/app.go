package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/api"
	"github.com/craftsphere/wallet-ledger/internal/api/middleware"
	"github.com/craftsphere/wallet-ledger/internal/config"
	"github.com/craftsphere/wallet-ledger/internal/db"
	"github.com/craftsphere/wallet-ledger/internal/gateway"
	"github.com/craftsphere/wallet-ledger/internal/idempotency"
	"github.com/craftsphere/wallet-ledger/internal/observability"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"github.com/craftsphere/wallet-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	repo := repository.NewRepository(pool)
	store := repository.NewStore(pool)

	rail := gateway.NewMockRail()
	rail.RejectRate = cfg.MockRailRejectRate

	ledgerSvc := service.NewLedgerService(store)
	transferSvc := service.NewTransferService(store)
	payoutSvc := service.NewPayoutService(store, rail)
	revenueSvc := service.NewRevenueService(store, cfg.CommissionRate, cfg.PlatformWalletID)
	webhookSvc := service.NewWebhookService(revenueSvc, payoutSvc, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	reconcileSvc := service.NewReconciliationService(store, ledgerSvc)

	timeoutWorker := worker.NewPayoutTimeoutWorker(payoutSvc).
		WithWindow(cfg.WithdrawalTimeout).
		WithPollInterval(cfg.PayoutPollInterval).
		WithBatchSize(cfg.PayoutBatchSize)
	stopTimeoutWorker := timeoutWorker.Run(ctx)

	reconcileWorker := worker.NewReconciliationWorker(reconcileSvc, transferSvc).
		WithInterval(cfg.ReconciliationInterval).
		WithOrphanWindow(cfg.OrphanTransferWindow).
		WithIdempotencyStore(idemStore)
	stopReconcileWorker := reconcileWorker.Run(ctx)

	logger.Info("background workers started",
		zap.Duration("withdrawal_timeout", cfg.WithdrawalTimeout),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pool, repo, idemStore, redisClient,
		ledgerSvc, transferSvc, payoutSvc, webhookSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping background workers")
	stopTimeoutWorker()
	stopReconcileWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
