// Package httptransport is the HTTP surface of the identifier service. It
// decodes requests, calls the services and maps their errors; lifecycle
// rules live in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entityid/internal/platform/metrics"
	"entityid/internal/platform/middleware"
	"entityid/pkg/platform/httputil"
)

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	Validator middleware.TokenValidator
	AdminRole string
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Timeout   time.Duration
	// Checks are run by /readyz, keyed by backend name.
	Checks    map[string]func(context.Context) error
}

// NewRouter mounts the public, authenticated and admin routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Observe(logger, cfg.Metrics))
	r.Use(chimw.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(cfg.Checks))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, logger))
		h.Register(r)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(cfg.AdminRole, logger))
			h.RegisterAdmin(r)
		})
	})
	return r
}

const readinessTimeout = 2 * time.Second

func readiness(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}
