package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"maskflow/internal/middleware"
	"maskflow/internal/service/runner"
)

// RouterConfig holds the cross-cutting pieces of the router.
type RouterConfig struct {
	Auth      *middleware.Authenticator
	RateLimit middleware.RateLimitConfig
	Metrics   http.Handler // served at /metrics when set

	CORSAllowedOrigins []string // no CORS headers when empty
}

// NewRouter mounts the handler. /healthz and /metrics are public; /v1 routes
// are authenticated and rate limited.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders: []string{"Location", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(cfg.RateLimit))
		}
		r.Post("/runs/discovery", h.TriggerRun(runner.KindDiscovery))
		r.Post("/runs/masking", h.TriggerRun(runner.KindMasking))
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/event-log", h.ListEventLog)
	})
	return r
}
