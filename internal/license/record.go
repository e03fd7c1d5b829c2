package license

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Upper bounds on presented identifiers, in bytes.
const (
	MaxKeyLength  = 256
	MaxHWIDLength = 512
)

// State is the externally observable state of a key.
type State string

const (
	StateUnbound State = "UNBOUND"
	StateBound   State = "BOUND"
	StateRevoked State = "REVOKED"
)

// KeyRecord is the single persisted entity: a license key and its device binding.
type KeyRecord struct {
	Key       string    `json:"key"`
	HWID      string    `json:"hwid,omitempty"` // empty while unbound
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note,omitempty"`
}

// Bound reports whether the record has been bound to a device.
func (r KeyRecord) Bound() bool {
	return r.HWID != ""
}

// State derives the display state. Revocation is orthogonal to binding, so a
// revoked record keeps its HWID and reports REVOKED.
func (r KeyRecord) State() State {
	switch {
	case !r.Active:
		return StateRevoked
	case r.Bound():
		return StateBound
	default:
		return StateUnbound
	}
}

// NormalizeKey trims surrounding whitespace from a presented key.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// MaskKey hides the middle of a key for logging.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// validText reports whether s can be persisted: valid UTF-8 without NUL bytes.
func validText(s string) bool {
	return utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}

func wellFormed(s string, max int) bool {
	return s != "" && len(s) <= max && validText(s)
}

// checkKey rejects keys no store could hold.
func checkKey(key string) error {
	if !wellFormed(key, MaxKeyLength) {
		return fmt.Errorf("%w: malformed key", ErrInvalidArgument)
	}
	return nil
}

// checkNote rejects notes that are too long or not storable text.
func checkNote(note string) error {
	if len(note) > MaxNoteLength {
		return fmt.Errorf("%w: note exceeds %d bytes", ErrInvalidArgument, MaxNoteLength)
	}
	if !validText(note) {
		return fmt.Errorf("%w: note is not valid UTF-8 text", ErrInvalidArgument)
	}
	return nil
}
