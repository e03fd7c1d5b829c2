package license

import "errors"

// Store and engine errors. Callers classify with errors.Is; implementations wrap
// these with additional context.
var (
	ErrNotFound         = errors.New("license key not found")
	ErrDuplicateKey     = errors.New("license key already exists")
	ErrRevoked          = errors.New("license key revoked")
	ErrHWIDMismatch     = errors.New("license key bound to another device")
	ErrStoreUnavailable = errors.New("license store unavailable")
	ErrUnauthenticated  = errors.New("unauthenticated admin operation")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// IsTransient reports whether err is a store failure the caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
