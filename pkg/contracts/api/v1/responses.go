package api

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licsrv/internal/license"
)

// ValidateResponse is the verdict returned by /validate. Rejections are
// reported here with status 200, never as HTTP errors.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// NewValidateResponse converts a verdict.
func NewValidateResponse(v license.Verdict) *ValidateResponse {
	return &ValidateResponse{Valid: v.Valid, Reason: string(v.Reason)}
}

func (*ValidateResponse) Render(http.ResponseWriter, *http.Request) error { return nil }

// KeyResponse is the admin view of a key record.
type KeyResponse struct {
	Key       string    `json:"key"`
	HWID      string    `json:"hwid,omitempty"`
	Active    bool      `json:"active"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note,omitempty"`
}

// NewKeyResponse converts a record.
func NewKeyResponse(rec license.KeyRecord) *KeyResponse {
	return &KeyResponse{
		Key:       rec.Key,
		HWID:      rec.HWID,
		Active:    rec.Active,
		State:     string(rec.State()),
		CreatedAt: rec.CreatedAt,
		Note:      rec.Note,
	}
}

func (*KeyResponse) Render(http.ResponseWriter, *http.Request) error { return nil }

// KeyListResponse wraps a key listing.
type KeyListResponse struct {
	Keys  []*KeyResponse `json:"keys"`
	Total int            `json:"total"`
}

func (*KeyListResponse) Render(http.ResponseWriter, *http.Request) error { return nil }

// SuccessResponse acknowledges an admin mutation.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
}

func (*SuccessResponse) Render(http.ResponseWriter, *http.Request) error { return nil }

// HealthResponse reports liveness or readiness.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (h *HealthResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if h.Status != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	return nil
}
