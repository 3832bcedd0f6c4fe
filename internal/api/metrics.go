package api

import (
	"net/http"

	"github.com/jmflores/sms-recovery-pipeline/internal/store"
)

type MetricsHandler struct {
	store *store.PostgresStore
}

func NewMetricsHandler(s *store.PostgresStore) *MetricsHandler {
	return &MetricsHandler{store: s}
}

// RecoveryFunnel reports the scheduled/sent/converted counts and recovered
// revenue that the analytics views read.
func (h *MetricsHandler) RecoveryFunnel(w http.ResponseWriter, r *http.Request) {
	funnel, err := h.store.GetRecoveryFunnel(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute funnel")
		return
	}

	respondJSON(w, http.StatusOK, funnel)
}
