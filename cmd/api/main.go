package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deposit-gateway/config"
	httpHandler "deposit-gateway/internal/adapter/http/handler"
	pgStorage "deposit-gateway/internal/adapter/storage/postgres"
	redisStorage "deposit-gateway/internal/adapter/storage/redis"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/internal/service"
	"deposit-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Deposit Gateway")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	paymentRepo := pgStorage.NewPaymentRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	userRepo := pgStorage.NewUserRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	webhookCache := redisStorage.NewWebhookResultCache(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	registry := service.NewProviderRegistry(cfg.Providers)
	auditSvc := service.NewAuditService(auditRepo, log)
	ledgerSvc := service.NewLedgerService(walletRepo, transactor, log)

	paymentSvc := service.NewPaymentService(
		paymentRepo,
		userRepo,
		ledgerSvc,
		registry,
		sigSvc,
		transactor,
		auditSvc,
		webhookCache,
		cfg.Payments.ExpiryThreshold,
		log,
	)

	// Retry queue: its processor is the payment service itself.
	retryQueue := service.NewInProcessRetryQueue(service.RetryQueueConfig{
		MaxRetries: cfg.Payments.MaxRetries,
		BaseDelay:  cfg.Payments.RetryBaseDelay(),
		MaxDelay:   cfg.Payments.RetryMaxDelay(),
	}, paymentSvc.ProcessRetry, auditSvc, log)
	defer retryQueue.Stop()
	paymentSvc.SetRetryQueue(retryQueue)

	// Reconciliation sweep
	sweeper := service.NewReconciliationSweeper(paymentSvc, cfg.Payments.SweepInterval, log)
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
