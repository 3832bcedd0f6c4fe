package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
)

// ScheduleStore is the store slice the scheduler writes.
type ScheduleStore interface {
	// ScheduleRecovery stamps the dispatch instant, conditional on the
	// record still being unscheduled and eligible.
	ScheduleRecovery(ctx context.Context, id string, at time.Time) (bool, error)
}

// Scheduler runs the scheduling cycle: find subscribers inside the recovery
// window and pick each one's dispatch instant, pushed out of quiet hours.
type Scheduler struct {
	scanner *engine.Scanner
	store   ScheduleStore
	hours   engine.QuietHours
	clock   engine.Clock
	logger  *slog.Logger
}

func NewScheduler(scanner *engine.Scanner, store ScheduleStore, hours engine.QuietHours, clock engine.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scanner: scanner,
		store:   store,
		hours:   hours,
		clock:   clock,
		logger:  logger,
	}
}

// RunCycle schedules one batch. Per-subscriber failures are logged and
// skipped; only the scan itself aborts the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	subs, err := s.scanner.ScanForScheduling(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, sub := range subs {
		at := s.hours.NextSendable(s.clock.Now())

		ok, err := s.store.ScheduleRecovery(ctx, sub.ID, at)
		if err != nil {
			s.logger.Error("scheduling recovery failed",
				"error", err,
				"subscriber_id", sub.ID,
			)
			continue
		}
		if !ok {
			// Another instance scheduled it, or it converted meanwhile.
			continue
		}

		scheduled++
		s.logger.Info("recovery scheduled",
			"subscriber_id", sub.ID,
			"scheduled_for", at,
		)
	}

	return scheduled, nil
}
