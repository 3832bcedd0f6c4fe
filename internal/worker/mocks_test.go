package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func utcHours(t *testing.T) engine.QuietHours {
	t.Helper()
	q, err := engine.NewQuietHours(0, 24, "UTC")
	if err != nil {
		t.Fatalf("NewQuietHours: %v", err)
	}
	return q
}

// memStore implements every store slice the worker package consumes, with
// the same per-row compare-and-set behavior as the Postgres store.
type memStore struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscriber

	outcomes []string
	saved    []domain.IncentiveCode
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]*domain.Subscriber)}
}

func (m *memStore) add(sub domain.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sub
	m.subs[sub.ID] = &cp
}

func (m *memStore) get(t *testing.T, id string) domain.Subscriber {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		t.Fatalf("subscriber %s missing", id)
	}
	return *sub
}

func (m *memStore) FindSchedulingEligible(_ context.Context, oldest, newest time.Time, limit int) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range m.subs {
		if sub.Status != domain.StatusActive || sub.Converted || sub.RecoverySent || sub.RecoveryScheduledFor != nil {
			continue
		}
		if sub.FirstMessageAt == nil || sub.FirstMessageAt.Before(oldest) || sub.FirstMessageAt.After(newest) {
			continue
		}
		out = append(out, *sub)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) FindDispatchReady(_ context.Context, now time.Time, limit int) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range m.subs {
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

func (m *memStore) ClaimRecovery(_ context.Context, id string, at time.Time) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.RecoverySent || sub.Converted || sub.Status != domain.StatusActive {
		return nil, nil
	}
	sub.RecoverySent = true
	sub.RecoveryState = domain.RecoveryClaimed
	sub.RecoveryAt = &at
	cp := *sub
	return &cp, nil
}

func (m *memStore) UnlockRecovery(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		sub.RecoverySent = false
		sub.RecoveryState = domain.RecoveryScheduled
		sub.RecoveryAt = nil
		sub.RecoveryCode = nil
	}
	return nil
}

func (m *memStore) ScheduleRecovery(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.RecoveryScheduledFor != nil || sub.RecoverySent || sub.Converted || sub.Status != domain.StatusActive {
		return false, nil
	}
	cp := at
	sub.RecoveryScheduledFor = &cp
	sub.RecoveryState = domain.RecoveryScheduled
	return true, nil
}

func (m *memStore) SaveRecoveryCode(_ context.Context, id string, code domain.IncentiveCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || !sub.RecoverySent {
		return errors.New("record not claimed")
	}
	cp := code
	sub.RecoveryCode = &cp
	m.saved = append(m.saved, code)
	return nil
}

func (m *memStore) MarkDispatchOutcome(_ context.Context, id string, status domain.MessageStatus, messageID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return errors.New("missing subscriber")
	}
	sub.RecoveryStatus = status
	if status == domain.MessageFailed {
		sub.RecoveryState = domain.RecoveryFailedState
	} else {
		sub.RecoveryState = domain.RecoverySentState
	}
	if messageID != "" {
		sub.RecoveryMessageID = &messageID
	}
	if errMsg != "" {
		sub.RecoveryError = &errMsg
	}
	m.outcomes = append(m.outcomes, id+":"+string(status))
	return nil
}

func (m *memStore) CreateSubscriber(_ context.Context, phone string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.Phone == phone {
			return nil, errors.New("phone already subscribed")
		}
	}
	sub := &domain.Subscriber{
		ID:            "sub-" + phone,
		Phone:         phone,
		Status:        domain.StatusActive,
		RecoveryState: domain.RecoveryNone,
		CreatedAt:     time.Now(),
	}
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *memStore) MarkFirstMessage(_ context.Context, id string, code domain.IncentiveCode, status domain.MessageStatus, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return errors.New("missing subscriber")
	}
	sub.FirstMessageSent = true
	sub.FirstMessageStatus = status
	sub.FirstMessageAt = &at
	cp := code
	sub.PrimaryCode = &cp
	if messageID != "" {
		sub.FirstMessageID = &messageID
	}
	return nil
}

// fakeIssuer returns a canned code or error.
type fakeIssuer struct {
	mu     sync.Mutex
	code   domain.IncentiveCode
	err    error
	issued int
}

func (f *fakeIssuer) Issue(_ context.Context) (domain.IncentiveCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.IncentiveCode{}, f.err
	}
	f.issued++
	return f.code, nil
}

// fakeSender records sends and can fail at the provider or network level.
type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	result transport.SendResult
	err    error
}

func (f *fakeSender) Send(_ context.Context, to, body string) (transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.SendResult{}, f.err
	}
	f.sent = append(f.sent, to+"|"+body)
	return f.result, nil
}
