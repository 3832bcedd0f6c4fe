package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jmflores/sms-recovery-pipeline/internal/attribution"
	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

// Attributor matches redeemed codes on an order back to subscribers.
type Attributor interface {
	Attribute(ctx context.Context, order domain.Order) (attribution.Result, error)
}

// DeliveryStore applies out-of-band delivery-status updates.
type DeliveryStore interface {
	UpdateDeliveryStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error)
}

// WebhookHandler receives the two inbound feeds: purchase notifications from
// the commerce platform and delivery callbacks from the message transport.
// Both are at-least-once; both answer 200 for anything we could parse so the
// sender stops retrying.
type WebhookHandler struct {
	attributor Attributor
	store      DeliveryStore
}

func NewWebhookHandler(a Attributor, s DeliveryStore) *WebhookHandler {
	return &WebhookHandler{attributor: a, store: s}
}

func (h *WebhookHandler) Order(w http.ResponseWriter, r *http.Request) {
	var order domain.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order payload")
		return
	}
	if order.OrderID == "" {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	result, err := h.attributor.Attribute(r.Context(), order)
	if err != nil {
		// The sender will retry; attribution is idempotent so the retry
		// is safe.
		respondError(w, http.StatusInternalServerError, "attribution failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":  result.OrderID,
		"duplicate": result.Duplicate,
		"outcomes":  result.Outcomes,
	})
}

type messageStatusPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (h *WebhookHandler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	var payload messageStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid status payload")
		return
	}
	if payload.MessageID == "" {
		respondError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	status := domain.MessageStatus(payload.Status)
	switch status {
	case domain.MessageSent, domain.MessageDelivered, domain.MessageFailed, domain.MessageUndelivered:
	default:
		respondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	matched, err := h.store.UpdateDeliveryStatus(r.Context(), payload.MessageID, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record delivery status")
		return
	}

	// Unknown message IDs are acknowledged: the transport also reports on
	// messages we did not send.
	respondJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}
