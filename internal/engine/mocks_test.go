package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore implements SubscriberSource and ClaimStore with the same
// compare-and-set semantics the Postgres store provides per row.
type fakeStore struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscriber

	claimErr  error
	unlockErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[string]*domain.Subscriber)}
}

func (f *fakeStore) add(sub domain.Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := sub
	f.subs[sub.ID] = &cp
}

func (f *fakeStore) get(t *testing.T, id string) domain.Subscriber {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		t.Fatalf("subscriber %s not in fake store", id)
	}
	return *sub
}

func (f *fakeStore) FindSchedulingEligible(_ context.Context, oldest, newest time.Time, limit int) ([]domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range f.subs {
		if sub.Status != domain.StatusActive || sub.Converted || sub.RecoverySent {
			continue
		}
		if sub.RecoveryScheduledFor != nil || sub.FirstMessageAt == nil {
			continue
		}
		if sub.FirstMessageAt.Before(oldest) || sub.FirstMessageAt.After(newest) {
			continue
		}
		out = append(out, *sub)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) FindDispatchReady(_ context.Context, now time.Time, limit int) ([]domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range f.subs {
		if sub.Status != domain.StatusActive || sub.Converted || sub.RecoverySent {
			continue
		}
		if sub.RecoveryScheduledFor == nil || sub.RecoveryScheduledFor.After(now) {
			continue
		}
		out = append(out, *sub)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimRecovery(_ context.Context, id string, at time.Time) (*domain.Subscriber, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, nil
	}
	if sub.RecoverySent || sub.Converted || sub.Status != domain.StatusActive {
		return nil, nil
	}
	sub.RecoverySent = true
	sub.RecoveryState = domain.RecoveryClaimed
	sub.RecoveryAt = &at
	cp := *sub
	return &cp, nil
}

func (f *fakeStore) UnlockRecovery(_ context.Context, id string) error {
	if f.unlockErr != nil {
		return f.unlockErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		sub.RecoverySent = false
		sub.RecoveryState = domain.RecoveryScheduled
		sub.RecoveryAt = nil
		sub.RecoveryCode = nil
	}
	return nil
}
