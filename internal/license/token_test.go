package license_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsrv/internal/license"
)

func TestNewTokenGenerator(t *testing.T) {
	t.Run("default prefix", func(t *testing.T) {
		token, err := license.NewTokenGenerator("")()
		require.NoError(t, err)
		assert.Regexp(t, `^RIXK(-[0-9A-F]{4}){8}$`, token)
	})

	t.Run("custom prefix is upper-cased", func(t *testing.T) {
		token, err := license.NewTokenGenerator("acme")()
		require.NoError(t, err)
		assert.Regexp(t, `^ACME(-[0-9A-F]{4}){8}$`, token)
	})

	t.Run("tokens are distinct", func(t *testing.T) {
		gen := license.NewTokenGenerator(license.DefaultKeyPrefix)
		seen := make(map[string]struct{}, 1000)
		for i := 0; i < 1000; i++ {
			token, err := gen()
			require.NoError(t, err)
			_, dup := seen[token]
			require.False(t, dup, "duplicate token %s", token)
			seen[token] = struct{}{}
		}
	})
}
