package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/transport"
)

// CodeIssuer mints and registers an incentive code.
type CodeIssuer interface {
	Issue(ctx context.Context) (domain.IncentiveCode, error)
}

// Sender is the outbound message transport.
type Sender interface {
	Send(ctx context.Context, to, body string) (transport.SendResult, error)
}

// OutcomeStore is the store slice the dispatcher writes after claiming.
type OutcomeStore interface {
	SaveRecoveryCode(ctx context.Context, id string, code domain.IncentiveCode) error
	MarkDispatchOutcome(ctx context.Context, id string, status domain.MessageStatus, messageID, errMsg string) error
}

// SendGate throttles sends across worker instances.
type SendGate interface {
	Allow(ctx context.Context) bool
}

// Breaker gates sends on transport health.
type Breaker interface {
	Allow(ctx context.Context) bool
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
}

// DispatchStats summarizes one dispatch cycle.
type DispatchStats struct {
	Scanned   int
	Claimed   int
	Sent      int
	Failed    int
	Unlocked  int
	ClaimLost int
	Throttled int
}

// Dispatcher runs the dispatch cycle: claim, issue, send, record. Any number
// of dispatcher instances may overlap; the claim's conditional update is the
// only thing keeping a subscriber from being sent twice, so every mutation
// here happens strictly after TryClaim succeeds.
type Dispatcher struct {
	scanner *engine.Scanner
	claims  *engine.ClaimManager
	issuer  CodeIssuer
	sender  Sender
	store   OutcomeStore
	gate    SendGate
	breaker Breaker
	hours   engine.QuietHours
	clock   engine.Clock
	delay   time.Duration
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration)
}

func NewDispatcher(
	scanner *engine.Scanner,
	claims *engine.ClaimManager,
	issuer CodeIssuer,
	sender Sender,
	store OutcomeStore,
	gate SendGate,
	breaker Breaker,
	hours engine.QuietHours,
	clock engine.Clock,
	delay time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		scanner: scanner,
		claims:  claims,
		issuer:  issuer,
		sender:  sender,
		store:   store,
		gate:    gate,
		breaker: breaker,
		hours:   hours,
		clock:   clock,
		delay:   delay,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunCycle dispatches one batch. Failures local to one subscriber never
// abort the batch; each outcome is recorded individually.
func (d *Dispatcher) RunCycle(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats

	if !d.hours.SendableAt(d.clock.Now()) {
		return stats, nil
	}

	subs, err := d.scanner.ScanDispatchReady(ctx)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(subs)

	for i, sub := range subs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if i > 0 {
			d.sleep(ctx, d.delay)
		}

		if d.breaker != nil && !d.breaker.Allow(ctx) {
			stats.Throttled++
			d.logger.Warn("dispatch paused, transport breaker open")
			return stats, nil
		}

		if !d.dispatchOne(ctx, sub, &stats) {
			return stats, nil
		}
	}

	if stats.Claimed > 0 {
		d.logger.Info("dispatch cycle complete",
			"scanned", stats.Scanned,
			"claimed", stats.Claimed,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"unlocked", stats.Unlocked,
			"claim_lost", stats.ClaimLost,
		)
	}
	return stats, nil
}

// dispatchOne handles a single claimed send. It reports whether the batch
// should continue; a send-gate refusal ends the cycle until the window rolls
// over.
func (d *Dispatcher) dispatchOne(ctx context.Context, sub domain.Subscriber, stats *DispatchStats) bool {
	// The scan result may be stale; the claim re-checks converted, status
	// and the lock in one conditional update.
	claimed, err := d.claims.TryClaim(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, engine.ErrNotClaimed) {
			stats.ClaimLost++
			return true
		}
		stats.Failed++
		d.logger.Error("claim failed", "error", err, "subscriber_id", sub.ID)
		return true
	}
	stats.Claimed++

	// The gate is consulted only once the claim is won, so a lost claim
	// never charges the cross-instance send budget. A refusal releases the
	// claim; the record stays scheduled for a later cycle.
	if d.gate != nil && !d.gate.Allow(ctx) {
		stats.Throttled++
		if unlockErr := d.claims.Unlock(ctx, sub.ID); unlockErr != nil {
			d.logger.Error("unlock after send-gate refusal failed",
				"error", unlockErr,
				"subscriber_id", sub.ID,
			)
		} else {
			stats.Unlocked++
		}
		return false
	}

	code, err := d.issuer.Issue(ctx)
	if err != nil {
		// Nothing reached the transport, so the claim unwinds and the
		// subscriber is eligible again next cycle.
		d.logger.Warn("code issuance failed, releasing claim",
			"error", err,
			"subscriber_id", sub.ID,
		)
		if unlockErr := d.claims.Unlock(ctx, sub.ID); unlockErr != nil {
			d.logger.Error("unlock after issuance failure failed",
				"error", unlockErr,
				"subscriber_id", sub.ID,
			)
		} else {
			stats.Unlocked++
		}
		return true
	}

	if err := d.store.SaveRecoveryCode(ctx, claimed.ID, code); err != nil {
		d.logger.Error("saving recovery code failed", "error", err, "subscriber_id", sub.ID)
		if unlockErr := d.claims.Unlock(ctx, sub.ID); unlockErr == nil {
			stats.Unlocked++
		}
		return true
	}

	body := renderRecovery(code.Code, code.Percent)
	result, err := d.sender.Send(ctx, claimed.Phone, body)
	if err != nil || !result.Success {
		// The lock stays: a timed-out call may still have delivered, so an
		// automatic retry risks a duplicate real-world send. Failed
		// dispatches wait for an explicit resend decision.
		errMsg := result.Error
		if err != nil {
			errMsg = err.Error()
		}
		stats.Failed++
		if d.breaker != nil {
			d.breaker.RecordFailure(ctx)
		}
		if recErr := d.store.MarkDispatchOutcome(ctx, claimed.ID, domain.MessageFailed, result.MessageID, errMsg); recErr != nil {
			d.logger.Error("recording failed dispatch failed", "error", recErr, "subscriber_id", sub.ID)
		}
		d.logger.Warn("recovery dispatch failed",
			"subscriber_id", sub.ID,
			"error", errMsg,
		)
		return true
	}

	stats.Sent++
	if d.breaker != nil {
		d.breaker.RecordSuccess(ctx)
	}
	if recErr := d.store.MarkDispatchOutcome(ctx, claimed.ID, domain.MessageSent, result.MessageID, ""); recErr != nil {
		d.logger.Error("recording sent dispatch failed", "error", recErr, "subscriber_id", sub.ID)
	}
	d.logger.Info("recovery dispatched",
		"subscriber_id", sub.ID,
		"code", code.Code,
		"percent", code.Percent,
		"message_id", result.MessageID,
	)
	return true
}
