package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

// RecoveryWindow is the rolling eligibility window: a subscriber qualifies
// for recovery between Min and Max after the first message was delivered.
type RecoveryWindow struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether a first-delivery instant falls inside the window
// as of now. The older boundary is inclusive on both ends: delivered exactly
// now-Min is eligible, delivered a minute later is not yet.
func (w RecoveryWindow) Contains(firstAt, now time.Time) bool {
	elapsed := now.Sub(firstAt)
	return elapsed >= w.Min && elapsed <= w.Max
}

// SubscriberSource is the slice of the store the scanner reads.
type SubscriberSource interface {
	// FindSchedulingEligible returns active, unconverted, unscheduled
	// subscribers whose first message was delivered between oldest and
	// newest, oldest first, at most limit rows.
	FindSchedulingEligible(ctx context.Context, oldest, newest time.Time, limit int) ([]domain.Subscriber, error)
	// FindDispatchReady returns active, unconverted, unclaimed subscribers
	// whose scheduled instant has passed, oldest scheduled first.
	FindDispatchReady(ctx context.Context, now time.Time, limit int) ([]domain.Subscriber, error)
}

// Scanner finds subscribers ready for their next lifecycle transition.
// Any number of scanner instances may run concurrently; the claim manager is
// what makes the overlap safe.
type Scanner struct {
	source SubscriberSource
	window RecoveryWindow
	clock  Clock
	limit  int
	logger *slog.Logger
}

func NewScanner(source SubscriberSource, window RecoveryWindow, clock Clock, limit int, logger *slog.Logger) *Scanner {
	return &Scanner{
		source: source,
		window: window,
		clock:  clock,
		limit:  limit,
		logger: logger,
	}
}

// ScanForScheduling returns subscribers whose recovery should be scheduled.
// Rows are re-checked against the window in-process: the query and this
// filter agree today, but the filter is what the boundary contract hangs on.
func (s *Scanner) ScanForScheduling(ctx context.Context) ([]domain.Subscriber, error) {
	now := s.clock.Now()
	oldest := now.Add(-s.window.Max)
	newest := now.Add(-s.window.Min)

	rows, err := s.source.FindSchedulingEligible(ctx, oldest, newest, s.limit)
	if err != nil {
		return nil, fmt.Errorf("scanning for scheduling: %w", err)
	}

	eligible := rows[:0]
	for _, sub := range rows {
		if sub.FirstMessageAt == nil || !s.window.Contains(*sub.FirstMessageAt, now) {
			continue
		}
		eligible = append(eligible, sub)
	}

	if len(eligible) > 0 {
		s.logger.Info("scheduling scan complete", "eligible", len(eligible))
	}
	return eligible, nil
}

// ScanDispatchReady returns subscribers whose scheduled instant has arrived.
// A subscriber who converted after being scheduled is dropped here and again
// by the claim's conditional update.
func (s *Scanner) ScanDispatchReady(ctx context.Context) ([]domain.Subscriber, error) {
	now := s.clock.Now()

	rows, err := s.source.FindDispatchReady(ctx, now, s.limit)
	if err != nil {
		return nil, fmt.Errorf("scanning for dispatch: %w", err)
	}

	ready := rows[:0]
	for _, sub := range rows {
		if sub.Converted || !sub.Contactable() || sub.RecoverySent {
			continue
		}
		ready = append(ready, sub)
	}

	if len(ready) > 0 {
		s.logger.Info("dispatch scan complete", "ready", len(ready))
	}
	return ready, nil
}
