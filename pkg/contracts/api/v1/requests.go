// Package api contains the HTTP API contract for the license server.
// Version v1 represents the current stable API version.
package api

// ValidateRequest is sent by client tools to check a key for their device.
// Field contents are never a request error: empty, oversized or non-text
// values produce a "malformed request" verdict.
type ValidateRequest struct {
	Key  string `json:"key"`
	HWID string `json:"hwid"`
}

// GenerateKeyRequest creates a new license key.
type GenerateKeyRequest struct {
	Note string `json:"note" validate:"max=1024"`
}

// UpdateNoteRequest replaces the note on a key.
type UpdateNoteRequest struct {
	Note string `json:"note" validate:"max=1024"`
}

// ExportRequest selects the export file format.
type ExportRequest struct {
	Format string `query:"format" validate:"omitempty,oneof=csv xlsx"`
}
