package license

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultKeyPrefix is prepended to generated tokens.
const DefaultKeyPrefix = "RIXK"

// TokenGenerator produces a fresh candidate key token.
type TokenGenerator func() (string, error)

// NewTokenGenerator returns a generator yielding tokens of the form
// PREFIX-XXXX-XXXX-XXXX-XXXX-XXXX-XXXX-XXXX-XXXX built from a random UUIDv4,
// which carries 122 random bits.
func NewTokenGenerator(prefix string) TokenGenerator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	prefix = strings.ToUpper(prefix)

	return func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to read token entropy: %w", err)
		}
		raw := strings.ToUpper(hex.EncodeToString(id[:]))

		var b strings.Builder
		b.Grow(len(prefix) + len(raw) + len(raw)/4)
		b.WriteString(prefix)
		for i := 0; i < len(raw); i += 4 {
			b.WriteByte('-')
			b.WriteString(raw[i : i+4])
		}
		return b.String(), nil
	}
}
