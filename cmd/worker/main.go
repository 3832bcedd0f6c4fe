package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/codes"
	"github.com/jmflores/sms-recovery-pipeline/internal/config"
	"github.com/jmflores/sms-recovery-pipeline/internal/discount"
	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/store"
	"github.com/jmflores/sms-recovery-pipeline/internal/transport"
	"github.com/jmflores/sms-recovery-pipeline/internal/worker"
)

// Standalone cycle worker. Runs the same scheduling and dispatch cycles as
// the server's background runner; any number of these may run alongside it.
// The claim's conditional update keeps a subscriber from being sent twice no
// matter how many instances overlap.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()

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

	discountClient := discount.NewClient(cfg.DiscountURL, cfg.DiscountToken)
	transportClient := transport.NewClient(cfg.TransportURL, cfg.TransportToken)

	scanner := engine.NewScanner(pgStore, window, clock, cfg.BatchSize, logger)
	claims := engine.NewClaimManager(pgStore, clock, logger)
	gate := engine.NewSendGate(redisStore.Client(), cfg.SendsPerMinute, logger)
	breaker := engine.NewTransportBreaker(redisStore.Client(), logger)

	recoveryIssuer := codes.NewIssuer(
		codes.NewGenerator(pgStore, domain.RecoveryCodePrefix, clock),
		discountClient, cfg.DiscountMinPercent, cfg.DiscountMaxPercent, cfg.CodeTTL, clock, logger,
	)

	scheduler := worker.NewScheduler(scanner, pgStore, hours, clock, logger)
	dispatcher := worker.NewDispatcher(scanner, claims, recoveryIssuer, transportClient, pgStore, gate, breaker, hours, clock, cfg.SendDelay, logger)
	runner := worker.NewRunner(scheduler, dispatcher, cfg.ScanInterval, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.Start(runCtx)
	logger.Info("worker stopped")
}
