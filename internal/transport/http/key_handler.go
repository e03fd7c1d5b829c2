package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/exporter"
	"licsrv/internal/license"
	"licsrv/internal/middleware"
	"licsrv/internal/services"
	api "licsrv/pkg/contracts/api/v1"
)

// KeyHandler handles validation and key administration requests.
type KeyHandler struct {
	service      services.KeyService
	validator    *middleware.RequestValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	now          func() time.Time
}

// NewKeyHandler creates a new key handler
func NewKeyHandler(service services.KeyService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		service:      service,
		validator:    middleware.NewRequestValidator(),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "keys")),
		now:          time.Now,
	}
}

// AdminRoutes returns the key administration routes. Callers must mount them
// behind admin authentication.
func (h *KeyHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Generate)
	r.Get("/export", h.Export)

	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.UpdateNote)
		r.Delete("/", h.Delete)
		r.Post("/revoke", h.Revoke)
		r.Post("/activate", h.Activate)
	})

	return r
}

// Validate handles POST /api/v1/validate
func (h *KeyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	verdict, err := h.service.Validate(r.Context(), req.Key, req.HWID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Render(w, r, api.NewValidateResponse(verdict))
}

// Generate handles POST /api/v1/admin/keys. The body is optional.
func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req api.GenerateKeyRequest
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		if err := h.validator.Decode(r, &req); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
	}

	rec, err := h.service.Generate(r.Context(), actor, req.Note)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.Render(w, r, api.NewKeyResponse(rec))
}

// List handles GET /api/v1/admin/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := &api.KeyListResponse{
		Keys:  make([]*api.KeyResponse, 0, len(records)),
		Total: len(records),
	}
	for _, rec := range records {
		resp.Keys = append(resp.Keys, api.NewKeyResponse(rec))
	}
	render.Render(w, r, resp)
}

// Get handles GET /api/v1/admin/keys/{key}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.Render(w, r, api.NewKeyResponse(rec))
}

// Revoke handles POST /api/v1/admin/keys/{key}/revoke
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Revoke)
}

// Activate handles POST /api/v1/admin/keys/{key}/activate
func (h *KeyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Activate)
}

// Delete handles DELETE /api/v1/admin/keys/{key}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Delete)
}

// UpdateNote handles PATCH /api/v1/admin/keys/{key}
func (h *KeyHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req api.UpdateNoteRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.service.UpdateNote(r.Context(), actor, key, req.Note); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.Render(w, r, &api.SuccessResponse{Success: true, Key: key})
}

// Export handles GET /api/v1/admin/keys/export?format=csv|xlsx
func (h *KeyHandler) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	req := api.ExportRequest{Format: r.URL.Query().Get("format")}
	if err := h.validator.Struct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	format, err := exporter.ParseFormat(req.Format)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// Buffered so a listing failure still becomes a problem response instead
	// of a truncated file.
	var buf bytes.Buffer
	if _, err := h.service.Export(r.Context(), actor, &buf, format); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName(h.now())+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed", slog.String("error", err.Error()))
	}
}

type mutation func(ctx context.Context, actor license.Actor, key string) error

func (h *KeyHandler) mutate(w http.ResponseWriter, r *http.Request, op mutation) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	if err := op(r.Context(), actor, key); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.Render(w, r, &api.SuccessResponse{Success: true, Key: key})
}

// actor extracts the admin placed in the context by the auth middleware.
func (h *KeyHandler) actor(w http.ResponseWriter, r *http.Request) (license.Actor, bool) {
	actor, ok := license.ActorFromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, license.ErrUnauthenticated)
	}
	return actor, ok
}
