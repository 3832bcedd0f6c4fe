package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/api"
	"github.com/jmflores/sms-recovery-pipeline/internal/attribution"
	"github.com/jmflores/sms-recovery-pipeline/internal/codes"
	"github.com/jmflores/sms-recovery-pipeline/internal/config"
	"github.com/jmflores/sms-recovery-pipeline/internal/discount"
	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/store"
	"github.com/jmflores/sms-recovery-pipeline/internal/transport"
	"github.com/jmflores/sms-recovery-pipeline/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	clock := engine.SystemClock()

	hours, err := engine.NewQuietHours(cfg.OpenHour, cfg.CloseHour, cfg.BusinessTimezone)
	if err != nil {
		logger.Error("invalid quiet hours config", "error", err)
		os.Exit(1)
	}

	window := engine.RecoveryWindow{
		Min: time.Duration(cfg.RecoveryMinHours) * time.Hour,
		Max: time.Duration(cfg.RecoveryMaxHours) * time.Hour,
	}

	// External clients
	discountClient := discount.NewClient(cfg.DiscountURL, cfg.DiscountToken)
	transportClient := transport.NewClient(cfg.TransportURL, cfg.TransportToken)

	// Engines
	scanner := engine.NewScanner(pgStore, window, clock, cfg.BatchSize, logger)
	claims := engine.NewClaimManager(pgStore, clock, logger)
	gate := engine.NewSendGate(redisStore.Client(), cfg.SendsPerMinute, logger)
	breaker := engine.NewTransportBreaker(redisStore.Client(), logger)
	dedup := engine.NewOrderDedup(redisStore.Client(), 24*time.Hour, logger)

	// Code issuance, one issuer per namespace
	primaryIssuer := codes.NewIssuer(
		codes.NewGenerator(pgStore, domain.PrimaryCodePrefix, clock),
		discountClient, cfg.PrimaryPercent, cfg.PrimaryPercent, cfg.CodeTTL, clock, logger,
	)
	recoveryIssuer := codes.NewIssuer(
		codes.NewGenerator(pgStore, domain.RecoveryCodePrefix, clock),
		discountClient, cfg.DiscountMinPercent, cfg.DiscountMaxPercent, cfg.CodeTTL, clock, logger,
	)

	// Workers
	onboarder := worker.NewOnboarder(pgStore, primaryIssuer, transportClient, clock, logger)
	scheduler := worker.NewScheduler(scanner, pgStore, hours, clock, logger)
	dispatcher := worker.NewDispatcher(scanner, claims, recoveryIssuer, transportClient, pgStore, gate, breaker, hours, clock, cfg.SendDelay, logger)
	attributor := attribution.NewAttributor(pgStore, dedup, clock, logger)

	// Background cycles
	runCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()
	runner := worker.NewRunner(scheduler, dispatcher, cfg.ScanInterval, logger)
	go runner.Start(runCtx)

	// Setup router
	router := api.NewRouter(pgStore, onboarder, attributor, hours, clock)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopRunner()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
