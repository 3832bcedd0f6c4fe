package domain

// RecoveryState is the explicit dispatch lifecycle of the recovery message.
// It replaces ad-hoc boolean combinations with a single enumerated state so
// that invalid mixes (e.g. a claimed record with no lock) cannot be stored.
type RecoveryState string

const (
	// RecoveryNone: first message handled, recovery not yet scheduled.
	RecoveryNone RecoveryState = "none"
	// RecoveryScheduled: a dispatch instant has been chosen.
	RecoveryScheduled RecoveryState = "scheduled"
	// RecoveryClaimed: a worker holds the dispatch lock for this cycle.
	RecoveryClaimed RecoveryState = "claimed"
	// RecoverySentState: the transport accepted the message. Terminal.
	RecoverySentState RecoveryState = "sent"
	// RecoveryFailedState: the transport failed. The lock is kept so the
	// record is never silently resent; only an explicit resend clears it.
	RecoveryFailedState RecoveryState = "failed"
)

var recoveryTransitions = map[RecoveryState][]RecoveryState{
	RecoveryNone:      {RecoveryScheduled},
	RecoveryScheduled: {RecoveryClaimed},
	RecoveryClaimed:   {RecoverySentState, RecoveryFailedState, RecoveryScheduled},
	// A failed dispatch can only move by explicit resend, which re-arms it.
	RecoveryFailedState: {RecoveryScheduled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Claimed -> Scheduled is the issuance-failure unlock; Failed -> Scheduled is
// the explicit operator resend.
func (from RecoveryState) CanTransition(to RecoveryState) bool {
	for _, next := range recoveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition exists.
func (s RecoveryState) Terminal() bool {
	return s == RecoverySentState
}
