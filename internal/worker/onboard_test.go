package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/transport"
)

func TestOnboard_SendsWelcomeWithPrimaryCode(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	store := newMemStore()
	issuer := &fakeIssuer{code: domain.IncentiveCode{Code: "SV1-AB2CD", Percent: 15}}
	sender := &fakeSender{result: transport.SendResult{Success: true, MessageID: "msg-100"}}

	o := NewOnboarder(store, issuer, sender, engine.FixedClock{T: now}, testLogger())

	sub, err := o.Onboard(context.Background(), "+15551112222")
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	got := store.get(t, sub.ID)
	if !got.FirstMessageSent || got.FirstMessageStatus != domain.MessageSent {
		t.Errorf("first message not recorded: sent=%v status=%q", got.FirstMessageSent, got.FirstMessageStatus)
	}
	if got.PrimaryCode == nil || got.PrimaryCode.Code != "SV1-AB2CD" {
		t.Errorf("primary code not stored: %+v", got.PrimaryCode)
	}
	if got.FirstMessageAt == nil || !got.FirstMessageAt.Equal(now) {
		t.Errorf("first message timestamp = %v, want %v", got.FirstMessageAt, now)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "SV1-AB2CD") || !strings.Contains(sender.sent[0], "15%") {
		t.Errorf("welcome body missing code or percent: %q", sender.sent[0])
	}
}

func TestOnboard_IssuanceFailureKeepsSubscriber(t *testing.T) {
	store := newMemStore()
	issuer := &fakeIssuer{err: errors.New("discount api down")}
	sender := &fakeSender{result: transport.SendResult{Success: true}}

	o := NewOnboarder(store, issuer, sender, engine.SystemClock(), testLogger())

	sub, err := o.Onboard(context.Background(), "+15551113333")
	if err == nil {
		t.Fatal("expected issuance error")
	}
	if sub == nil {
		t.Fatal("subscriber row should survive issuance failure")
	}

	got := store.get(t, sub.ID)
	if got.FirstMessageSent {
		t.Error("first message recorded despite issuance failure")
	}
	if len(sender.sent) != 0 {
		t.Error("message went out without a code")
	}
}

func TestOnboard_ProviderRefusalRecordedAsFailed(t *testing.T) {
	store := newMemStore()
	issuer := &fakeIssuer{code: domain.IncentiveCode{Code: "SV1-XYZ23", Percent: 15}}
	sender := &fakeSender{result: transport.SendResult{Success: false, Error: "invalid number"}}

	o := NewOnboarder(store, issuer, sender, engine.SystemClock(), testLogger())

	sub, err := o.Onboard(context.Background(), "+15551114444")
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	got := store.get(t, sub.ID)
	if got.FirstMessageStatus != domain.MessageFailed {
		t.Errorf("status = %q, want failed", got.FirstMessageStatus)
	}
	if got.PrimaryCode == nil {
		t.Error("issued code should be stored even when the send fails")
	}
}

func TestOnboard_DuplicatePhoneRejected(t *testing.T) {
	store := newMemStore()
	issuer := &fakeIssuer{code: domain.IncentiveCode{Code: "SV1-AAAAA", Percent: 15}}
	sender := &fakeSender{result: transport.SendResult{Success: true}}

	o := NewOnboarder(store, issuer, sender, engine.SystemClock(), testLogger())

	if _, err := o.Onboard(context.Background(), "+15551115555"); err != nil {
		t.Fatalf("first onboard: %v", err)
	}
	if _, err := o.Onboard(context.Background(), "+15551115555"); err == nil {
		t.Fatal("second onboard with the same phone should fail")
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(sender.sent))
	}
}
