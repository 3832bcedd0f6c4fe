package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/store"
	"github.com/jmflores/sms-recovery-pipeline/internal/worker"
)

type SubscriberHandler struct {
	store     *store.PostgresStore
	onboarder *worker.Onboarder
	hours     engine.QuietHours
	clock     engine.Clock
}

func NewSubscriberHandler(s *store.PostgresStore, o *worker.Onboarder, hours engine.QuietHours, clock engine.Clock) *SubscriberHandler {
	return &SubscriberHandler{store: s, onboarder: o, hours: hours, clock: clock}
}

type createSubscriberRequest struct {
	Phone string `json:"phone"`
}

// Create registers a phone number and dispatches the welcome message with a
// fresh primary code. The row survives a failed welcome send; the failure is
// recorded on it.
func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}

	sub, err := h.onboarder.Onboard(r.Context(), req.Phone)
	if errors.Is(err, store.ErrDuplicatePhone) {
		respondError(w, http.StatusConflict, "phone already subscribed")
		return
	}
	if err != nil && sub == nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscriber")
		return
	}
	// sub != nil with err != nil means the row exists but the welcome did
	// not go out cleanly; the caller still gets the subscriber.
	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscriber(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// Resend re-arms a recovery message whose send failed at the transport. A
// failed send keeps its claim on purpose; this endpoint is the explicit
// decision that releases it back to the dispatcher.
func (h *SubscriberHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	at := h.hours.NextSendable(h.clock.Now())
	ok, err := h.store.ResendFailedRecovery(r.Context(), id, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to re-arm recovery")
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "recovery is not in a failed state")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscriber_id": id,
		"scheduled_for": at,
	})
}

type unsubscribeRequest struct {
	Phone string `json:"phone"`
}

func (h *SubscriberHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}

	ok, err := h.store.Unsubscribe(r.Context(), req.Phone)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no active subscriber for phone")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
