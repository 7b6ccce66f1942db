// Package admin serves the daemon's ops endpoints.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lntap/monitor"
)

// StatusSource reports the reconciliation state of every channel.
type StatusSource interface {
	Status() []monitor.Status
}

// New builds the ops handler: liveness, per-channel status, and Prometheus
// metrics.
func New(src StatusSource) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Status())
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
