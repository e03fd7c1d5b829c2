package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/trace"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/infrastructure"
	"licsrv/internal/middleware"
	"licsrv/pkg/contracts"
)

// RouterConfig holds everything the router needs.
type RouterConfig struct {
	Keys         *KeyHandler
	Health       *HealthHandler
	Events       http.Handler // WebSocket upgrade handler
	Metrics      http.Handler // nil disables /metrics
	ErrorHandler *apierrors.ErrorHandler
	AdminAuth    middleware.AdminAuthConfig
	CORS         middleware.CORSConfig
	Tracer       trace.Tracer
	HTTPMetrics  *infrastructure.HTTPMetrics
	// RequestTimeout bounds every route except the event stream.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter assembles the middleware chain and routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(apierrors.RecoveryMiddleware(cfg.ErrorHandler))
	if cfg.Tracer != nil && cfg.HTTPMetrics != nil {
		r.Use(middleware.OTel(cfg.Tracer, cfg.HTTPMetrics))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.CORS))

	r.NotFound(cfg.ErrorHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrorHandler.MethodNotAllowed)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		r.Get("/healthz", cfg.Health.Liveness)
		r.Get("/readyz", cfg.Health.Readiness)
		if cfg.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", cfg.Metrics)
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, contracts.GetVersionInfo())
		})

		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(chimiddleware.Timeout(timeout))
			r.Post("/validate", cfg.Keys.Validate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.AdminAuth, cfg.ErrorHandler, cfg.Logger))

			// The event stream outlives any request timeout.
			if cfg.Events != nil {
				r.Method(http.MethodGet, "/events", cfg.Events)
			}

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(timeout))
				r.Get("/health", cfg.Health.Details)
				r.Mount("/keys", cfg.Keys.AdminRoutes())
			})
		})
	})

	return r
}
