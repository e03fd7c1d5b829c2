package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"licsrv/internal/services"
	api "licsrv/pkg/contracts/api/v1"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	status := h.service.Liveness(r.Context())
	render.Render(w, r, &api.HealthResponse{Status: status.Status, Version: status.Version})
}

// Readiness handles GET /readyz. It answers 503 while the store is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.service.Readiness(r.Context())
	render.Render(w, r, &api.HealthResponse{
		Status:  status.Status,
		Version: status.Version,
		Checks:  status.Checks,
	})
}

// Details handles GET /api/v1/admin/health with runtime information.
func (h *HealthHandler) Details(w http.ResponseWriter, r *http.Request) {
	status := h.service.Readiness(r.Context())
	if !status.Healthy() {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
