// Package ops exposes the operational endpoints: liveness, readiness, and
// Prometheus metrics. The business API lives in a separate system; this
// router exists so the intake daemon can be monitored.
package ops

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports readiness of a backing resource.
type HealthChecker func(ctx context.Context) error

// NewRouter builds the ops router. checkers run on /readyz; a nil map means
// always ready.
func NewRouter(checkers map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		for name, check := range checkers {
			if err := check(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + ": " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
