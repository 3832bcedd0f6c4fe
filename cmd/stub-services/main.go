package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Local stand-ins for the external message transport and discount API so the
// pipeline can run end to end on a laptop. Point TRANSPORT_URL and
// DISCOUNT_API_URL at this process.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "9090"
	}

	// Fraction of sends the stub transport refuses, to exercise the
	// failure path. STUB_FAIL_RATE=0.2 fails roughly one in five.
	failRate := 0.0
	if v := os.Getenv("STUB_FAIL_RATE"); v != "" {
		fmt.Sscanf(v, "%f", &failRate)
	}

	var mu sync.Mutex
	registered := make(map[string]bool)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Message transport
	r.Post("/messages", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			To   string `json:"to"`
			Body string `json:"body"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if rand.Float64() < failRate {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": false,
				"error":   "carrier rejected message",
			})
			return
		}

		logger.Info("stub message sent", "to", body.To, "body", body.Body)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"message_id": "stub-" + uuid.NewString(),
		})
	})

	// Discount API
	r.Post("/discount_codes", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Code    string `json:"code"`
			Percent int    `json:"percent"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mu.Lock()
		dup := registered[body.Code]
		registered[body.Code] = true
		mu.Unlock()

		if dup {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"success": false,
				"error":   "code already exists",
			})
			return
		}

		logger.Info("stub code registered", "code", body.Code, "percent", body.Percent)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"id":      uuid.NewString(),
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("stub services listening", "port", port, "fail_rate", failRate)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("stub server error", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
