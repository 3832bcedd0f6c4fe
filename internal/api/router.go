package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmflores/sms-recovery-pipeline/internal/attribution"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
	"github.com/jmflores/sms-recovery-pipeline/internal/store"
	"github.com/jmflores/sms-recovery-pipeline/internal/worker"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, onboarder *worker.Onboarder, attributor *attribution.Attributor, hours engine.QuietHours, clock engine.Clock) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	subHandler := NewSubscriberHandler(pgStore, onboarder, hours, clock)
	webhookHandler := NewWebhookHandler(attributor, pgStore)
	metricsHandler := NewMetricsHandler(pgStore)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscribers", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Post("/unsubscribe", subHandler.Unsubscribe)
			r.Get("/{id}", subHandler.Get)
			r.Post("/{id}/resend", subHandler.Resend)
		})

		r.Get("/metrics/recovery", metricsHandler.RecoveryFunnel)
	})

	// Inbound feeds
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/orders", webhookHandler.Order)
		r.Post("/message-status", webhookHandler.MessageStatus)
	})

	return r
}
