package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmflores/sms-recovery-pipeline/internal/attribution"
	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

type fakeDeliveryStore struct {
	messageID string
	status    domain.MessageStatus
	matched   bool
	err       error
	calls     int
}

func (f *fakeDeliveryStore) UpdateDeliveryStatus(_ context.Context, messageID string, status domain.MessageStatus) (bool, error) {
	f.calls++
	f.messageID = messageID
	f.status = status
	return f.matched, f.err
}

type fakeAttributor struct {
	result attribution.Result
	err    error
	orders []domain.Order
}

func (f *fakeAttributor) Attribute(_ context.Context, order domain.Order) (attribution.Result, error) {
	f.orders = append(f.orders, order)
	return f.result, f.err
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestMessageStatus_AppliesTransportStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   domain.MessageStatus
	}{
		{"delivered", "delivered", domain.MessageDelivered},
		{"failed", "failed", domain.MessageFailed},
		{"undelivered", "undelivered", domain.MessageUndelivered},
		{"sent", "sent", domain.MessageSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeDeliveryStore{matched: true}
			h := NewWebhookHandler(&fakeAttributor{}, store)

			rec := postJSON(t, h.MessageStatus,
				`{"message_id":"SM1","status":"`+tt.status+`"}`)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if store.calls != 1 || store.status != tt.want || store.messageID != "SM1" {
				t.Errorf("store saw calls=%d status=%q id=%q", store.calls, store.status, store.messageID)
			}
		})
	}
}

func TestMessageStatus_RejectsUnknownStatus(t *testing.T) {
	store := &fakeDeliveryStore{}
	h := NewWebhookHandler(&fakeAttributor{}, store)

	rec := postJSON(t, h.MessageStatus, `{"message_id":"SM1","status":"teleported"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if store.calls != 0 {
		t.Error("store must not be touched for an unknown status")
	}
}

func TestMessageStatus_RequiresMessageID(t *testing.T) {
	h := NewWebhookHandler(&fakeAttributor{}, &fakeDeliveryStore{})

	rec := postJSON(t, h.MessageStatus, `{"status":"delivered"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMessageStatus_AcknowledgesUnknownMessageID(t *testing.T) {
	store := &fakeDeliveryStore{matched: false}
	h := NewWebhookHandler(&fakeAttributor{}, store)

	rec := postJSON(t, h.MessageStatus, `{"message_id":"not-ours","status":"undelivered"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the transport stops retrying", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"matched":false`) {
		t.Errorf("body = %s, want matched false", rec.Body.String())
	}
}

func TestOrderWebhook_ReportsOutcomes(t *testing.T) {
	attr := &fakeAttributor{result: attribution.Result{
		OrderID:  "ord-1",
		Outcomes: map[string]attribution.CodeOutcome{"SV2-AB3K9": attribution.OutcomeConverted},
	}}
	h := NewWebhookHandler(attr, &fakeDeliveryStore{})

	rec := postJSON(t, h.Order,
		`{"order_id":"ord-1","discount_codes":[{"code":"SV2-AB3K9","amount":11.2}],"total":40}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(attr.orders) != 1 || attr.orders[0].OrderID != "ord-1" {
		t.Errorf("attributor saw %+v", attr.orders)
	}
	if !strings.Contains(rec.Body.String(), "converted") {
		t.Errorf("body = %s, want converted outcome", rec.Body.String())
	}
}

func TestOrderWebhook_AttributionErrorTriggersRetry(t *testing.T) {
	attr := &fakeAttributor{err: errors.New("store unreachable")}
	h := NewWebhookHandler(attr, &fakeDeliveryStore{})

	rec := postJSON(t, h.Order, `{"order_id":"ord-2"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the sender redelivers", rec.Code)
	}
}
