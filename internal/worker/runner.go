package worker

import (
	"context"
	"log/slog"
	"time"
)

// Runner drives the scheduling and dispatch cycles on a fixed interval.
// Instances hold no shared in-process state, so any number of runners may
// poll concurrently; the store's conditional updates make the overlap safe.
type Runner struct {
	scheduler  *Scheduler
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

func NewRunner(scheduler *Scheduler, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		scheduler:  scheduler,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("cycle runner started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cycle runner stopping")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.scheduler.RunCycle(ctx); err != nil {
		r.logger.Error("scheduling cycle failed", "error", err)
	}
	if _, err := r.dispatcher.RunCycle(ctx); err != nil {
		r.logger.Error("dispatch cycle failed", "error", err)
	}
}
