package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

func deliveredSubscriber(id string, firstAt time.Time) domain.Subscriber {
	sub := domain.Subscriber{
		ID:                 id,
		Phone:              "+1555000" + id,
		Status:             domain.StatusActive,
		FirstMessageSent:   true,
		FirstMessageStatus: domain.MessageDelivered,
		RecoveryState:      domain.RecoveryNone,
	}
	sub.FirstMessageAt = &firstAt
	return sub
}

func TestScanForScheduling_WindowBoundary(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	window := RecoveryWindow{Min: 6 * time.Hour, Max: 24 * time.Hour}

	tests := []struct {
		name     string
		firstAt  time.Time
		eligible bool
	}{
		{"exactly min hours ago", now.Add(-6 * time.Hour), true},
		{"one minute younger than min", now.Add(-6*time.Hour + time.Minute), false},
		{"one minute older than min", now.Add(-6*time.Hour - time.Minute), true},
		{"exactly max hours ago", now.Add(-24 * time.Hour), true},
		{"older than max", now.Add(-24*time.Hour - time.Minute), false},
		{"delivered just now", now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.add(deliveredSubscriber("s1", tt.firstAt))

			s := NewScanner(store, window, FixedClock{T: now}, 10, testLogger())
			got, err := s.ScanForScheduling(context.Background())
			if err != nil {
				t.Fatalf("ScanForScheduling: %v", err)
			}
			if (len(got) == 1) != tt.eligible {
				t.Errorf("eligible = %v, want %v", len(got) == 1, tt.eligible)
			}
		})
	}
}

func TestScanForScheduling_SkipsAlreadyScheduled(t *testing.T) {
	now := time.Now()
	store := newFakeStore()

	sub := deliveredSubscriber("s1", now.Add(-7*time.Hour))
	scheduled := now.Add(time.Hour)
	sub.RecoveryScheduledFor = &scheduled
	store.add(sub)

	s := NewScanner(store, RecoveryWindow{Min: 6 * time.Hour, Max: 24 * time.Hour}, FixedClock{T: now}, 10, testLogger())
	got, err := s.ScanForScheduling(context.Background())
	if err != nil {
		t.Fatalf("ScanForScheduling: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("already-scheduled subscriber returned by scan")
	}
}

func TestScanDispatchReady_SkipsLateConversions(t *testing.T) {
	now := time.Now()
	store := newFakeStore()

	ready := deliveredSubscriber("s1", now.Add(-8*time.Hour))
	past := now.Add(-time.Minute)
	ready.RecoveryScheduledFor = &past
	store.add(ready)

	// Converted after scheduling but before dispatch must be excluded.
	converted := deliveredSubscriber("s2", now.Add(-8*time.Hour))
	converted.RecoveryScheduledFor = &past
	converted.Converted = true
	store.add(converted)

	// Not yet due.
	future := now.Add(time.Hour)
	pending := deliveredSubscriber("s3", now.Add(-8*time.Hour))
	pending.RecoveryScheduledFor = &future
	store.add(pending)

	s := NewScanner(store, RecoveryWindow{Min: 6 * time.Hour, Max: 24 * time.Hour}, FixedClock{T: now}, 10, testLogger())
	got, err := s.ScanDispatchReady(context.Background())
	if err != nil {
		t.Fatalf("ScanDispatchReady: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("dispatch-ready scan = %+v, want only s1", got)
	}
}
