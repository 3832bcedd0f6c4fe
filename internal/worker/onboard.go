package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
)

// OnboardStore is the store slice first-contact handling uses.
type OnboardStore interface {
	CreateSubscriber(ctx context.Context, phone string) (*domain.Subscriber, error)
	MarkFirstMessage(ctx context.Context, id string, code domain.IncentiveCode, status domain.MessageStatus, messageID string, at time.Time) error
}

// Onboarder handles first contact: create the subscriber, issue the primary
// code and send the welcome message. First sends are not quiet-hours gated;
// the subscriber just opted in, so the message is expected immediately.
type Onboarder struct {
	store  OnboardStore
	issuer CodeIssuer
	sender Sender
	clock  engine.Clock
	logger *slog.Logger
}

func NewOnboarder(store OnboardStore, issuer CodeIssuer, sender Sender, clock engine.Clock, logger *slog.Logger) *Onboarder {
	return &Onboarder{
		store:  store,
		issuer: issuer,
		sender: sender,
		clock:  clock,
		logger: logger,
	}
}

// Onboard registers the phone and dispatches the first promotional message.
// The subscriber row survives downstream failures so the contact is never
// silently lost; a failed welcome is recorded like any other send outcome.
func (o *Onboarder) Onboard(ctx context.Context, phone string) (*domain.Subscriber, error) {
	sub, err := o.store.CreateSubscriber(ctx, phone)
	if err != nil {
		return nil, err
	}

	code, err := o.issuer.Issue(ctx)
	if err != nil {
		return sub, fmt.Errorf("issuing welcome code: %w", err)
	}

	body := renderWelcome(code.Code, code.Percent)
	result, err := o.sender.Send(ctx, sub.Phone, body)

	status := domain.MessageSent
	if err != nil || !result.Success {
		status = domain.MessageFailed
		errMsg := result.Error
		if err != nil {
			errMsg = err.Error()
		}
		o.logger.Warn("welcome send failed",
			"subscriber_id", sub.ID,
			"error", errMsg,
		)
	}

	if recErr := o.store.MarkFirstMessage(ctx, sub.ID, code, status, result.MessageID, o.clock.Now()); recErr != nil {
		return sub, fmt.Errorf("recording first message: %w", recErr)
	}

	if status == domain.MessageSent {
		o.logger.Info("welcome dispatched",
			"subscriber_id", sub.ID,
			"code", code.Code,
		)
	}
	return sub, nil
}
