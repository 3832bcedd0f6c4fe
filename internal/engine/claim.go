package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

// ErrNotClaimed means the conditional update matched nothing: another worker
// already owns the subscriber, or it became ineligible (converted,
// unsubscribed) between the scan and the claim. Not an error condition for
// the batch; the caller just skips the record.
var ErrNotClaimed = errors.New("subscriber not claimed")

// ClaimStore is the slice of the store the claim manager mutates. Both
// operations must be single-record compare-and-set updates, never
// read-then-write.
type ClaimStore interface {
	// ClaimRecovery sets recovery_sent=true and stamps recovery_at, but only
	// if recovery_sent is false, converted is false and status is active.
	// Returns nil when the update matched no row.
	ClaimRecovery(ctx context.Context, id string, at time.Time) (*domain.Subscriber, error)
	// UnlockRecovery reverses a claim after a recoverable failure: resets
	// recovery_sent, clears recovery_at and any half-issued code fields.
	UnlockRecovery(ctx context.Context, id string) error
}

// ClaimManager guards the at-most-once dispatch invariant. The store's
// conditional update is the only synchronization point; any number of
// concurrent workers can race on the same subscriber and exactly one wins.
type ClaimManager struct {
	store  ClaimStore
	clock  Clock
	logger *slog.Logger
}

func NewClaimManager(store ClaimStore, clock Clock, logger *slog.Logger) *ClaimManager {
	return &ClaimManager{store: store, clock: clock, logger: logger}
}

// TryClaim attempts to take sole ownership of the subscriber's recovery
// dispatch for this cycle. Returns ErrNotClaimed when another worker won or
// the subscriber no longer qualifies.
func (m *ClaimManager) TryClaim(ctx context.Context, id string) (*domain.Subscriber, error) {
	sub, err := m.store.ClaimRecovery(ctx, id, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("claiming subscriber %s: %w", id, err)
	}
	if sub == nil {
		m.logger.Debug("claim lost", "subscriber_id", id)
		return nil, ErrNotClaimed
	}
	return sub, nil
}

// Unlock releases a held claim so a future cycle can retry. Only the owning
// worker calls this, and only for failures before anything reached the
// transport (code issuance); a transport failure keeps the lock on purpose.
// Safe to run concurrently with a fresh claim attempt; last writer wins.
func (m *ClaimManager) Unlock(ctx context.Context, id string) error {
	if err := m.store.UnlockRecovery(ctx, id); err != nil {
		return fmt.Errorf("unlocking subscriber %s: %w", id, err)
	}
	m.logger.Info("claim released for retry", "subscriber_id", id)
	return nil
}
