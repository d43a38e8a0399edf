// Package httptransport assembles the public HTTP surface.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"glaze/internal/platform/metrics"
	"glaze/internal/platform/middleware"
	"glaze/pkg/platform/httputil"
	"glaze/pkg/platform/middleware/admin"
	"glaze/pkg/platform/middleware/metadata"
	"glaze/pkg/platform/middleware/requesttime"
	"glaze/pkg/requestcontext"
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts operator routes behind admin auth.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router needs.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Glaze          RouteRegistrar
	Admin          AdminRegistrar
	Health         Pinger
	ClientIP       *metadata.Resolver
	AdminToken     string
	RequestTimeout time.Duration
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewRouter wires middleware and every route. /metrics and /healthz sit
// outside the request timeout.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger, d.Metrics))
	if d.ClientIP != nil {
		r.Use(d.ClientIP.Middleware)
	} else {
		r.Use(metadata.ClientMetadata)
	}
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(d.Health, d.Logger))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}
		d.Glaze.Register(r)

		if d.Admin != nil {
			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
				d.Admin.RegisterAdmin(r)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "Not found."})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "Method not allowed."})
	})
	return r
}

func healthHandler(p Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if p != nil {
			if err := p.Ping(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
