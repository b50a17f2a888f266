// Package httptransport assembles the public HTTP surface. Handlers stay
// thin and delegate to domain services; this package only wires routing and
// the middleware chain.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forgecert/internal/platform/metrics"
	"forgecert/internal/platform/middleware"
	"forgecert/internal/transport/http/shared"
)

// Registrar mounts routes on a router. Each module's handler implements it.
type Registrar interface {
	Register(r chi.Router)
}

// PublicRegistrar mounts routes that bypass authentication.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// HealthCheck probes one dependency. Nil-safe wiring is the caller's job.
type HealthCheck func(ctx context.Context) error

// NewRouter wires all endpoints. Mutating and privileged read routes sit
// behind RequireAuth; certificate verification, health and metrics are
// public.
func NewRouter(
	logger *slog.Logger,
	m *metrics.Metrics,
	resolver middleware.ActorResolver,
	authed []Registrar,
	public []PublicRegistrar,
	checks map[string]HealthCheck,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.LatencyMiddleware(m))

	r.Get("/healthz", handleHealth(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(pub chi.Router) {
		pub.Use(middleware.ContentTypeJSON)
		for _, reg := range public {
			reg.RegisterPublic(pub)
		}
	})

	r.Group(func(auth chi.Router) {
		auth.Use(middleware.ContentTypeJSON)
		auth.Use(middleware.RequireAuth(resolver, logger))
		for _, reg := range authed {
			reg.Register(auth)
		}
	})

	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				result[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		shared.WriteJSON(w, status, result)
	}
}
