// Package httptransport assembles the HTTP surface: the middleware chain, public
// credential routes, operational endpoints and the authenticated domain routes.
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
	"golang.org/x/sync/errgroup"

	"insureflow/internal/platform/metrics"
	"insureflow/internal/platform/middleware"
	"insureflow/pkg/platform/httputil"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// PublicRegistrar mounts routes that do not require a token.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.HTTP
	Gatherer       prometheus.Gatherer
	Tokens         middleware.ActorValidator
	RequestTimeout time.Duration
	Health         []HealthCheck
	Public         []PublicRegistrar
	Routes         []Registrar
}

// NewRouter builds the root handler. Domain routes sit behind RequireAuth under /api/v1.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(cfg.Logger, cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		for _, p := range cfg.Public {
			p.RegisterPublic(api)
		}
		api.Group(func(authed chi.Router) {
			authed.Use(middleware.RequireAuth(cfg.Tokens, cfg.Logger))
			for _, reg := range cfg.Routes {
				reg.Register(authed)
			}
		})
	})
	return r
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make([]string, len(checks))
		var g errgroup.Group
		for i, c := range checks {
			g.Go(func() error {
				if err := c.Check(ctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		err := g.Wait()

		components := make(map[string]string, len(checks))
		for i, c := range checks {
			components[c.Name] = results[i]
		}
		status, code := "ok", http.StatusOK
		if err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"status": status, "components": components})
	}
}
