package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"licsrv/internal/config"
	"licsrv/internal/license"
	"licsrv/internal/shared/testutil"
)

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

type harness struct {
	cli    *cli
	store  *license.MemoryStore
	stdout *bytes.Buffer
	closed *closeCounter
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	h := &harness{
		store:  license.NewMemoryStore(),
		stdout: &bytes.Buffer{},
		closed: &closeCounter{},
	}
	h.cli = &cli{
		stdin:  strings.NewReader(stdin),
		stdout: h.stdout,
		stderr: io.Discard,
		localHWID: func() (string, error) {
			return "HW-LOCAL", nil
		},
		loadConfig: func() (*config.Config, error) {
			cfg := config.Default()
			cfg.Store.Driver = config.DriverPostgres
			cfg.Store.DSN = "postgres://unused"
			cfg.Logging.Level = "error"
			return cfg, nil
		},
		openStore: func(context.Context, config.StoreConfig, *slog.Logger) (license.Store, io.Closer, error) {
			return h.store, h.closed, nil
		},
		user: "ops",
		now:  func() time.Time { return testutil.FixedTime.Add(48 * time.Hour) },
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.stdout.Reset()
	return h.cli.run(context.Background(), args)
}

func TestHashPassword(t *testing.T) {
	h := newHarness(t, "hunter2\n")
	require.NoError(t, h.run(t, "hash-password", "--cost", "4"))

	hash := strings.TrimSpace(h.stdout.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 4, cost)
}

func TestHashPassword_Empty(t *testing.T) {
	h := newHarness(t, "\n")
	assert.ErrorContains(t, h.run(t, "hash-password"), "password is empty")
}

func TestMemoryDriverIsRefused(t *testing.T) {
	h := newHarness(t, "")
	h.cli.loadConfig = func() (*config.Config, error) { return config.Default(), nil }

	err := h.run(t, "generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not durable")
}

func TestKeyLifecycleCommands(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "generate", "--note", "acme", "-n", "2"))
	keys := strings.Fields(h.stdout.String())
	require.Len(t, keys, 2)
	assert.Regexp(t, `^RIXK(-[0-9A-F]{4}){8}$`, keys[0])
	assert.Equal(t, 2, h.store.Len())

	key := keys[0]
	require.NoError(t, h.run(t, "validate", key, "HW-A"))
	assert.Equal(t, "valid\n", h.stdout.String())

	err := h.run(t, "validate", key, "HW-B")
	assert.ErrorIs(t, err, errInvalid)
	assert.Equal(t, "invalid: bound to another device\n", h.stdout.String())

	require.NoError(t, h.run(t, "revoke", key))
	assert.Equal(t, "revoked "+key+"\n", h.stdout.String())
	assert.ErrorIs(t, h.run(t, "validate", key, "HW-A"), errInvalid)

	require.NoError(t, h.run(t, "activate", key))
	require.NoError(t, h.run(t, "validate", key, "HW-A"))

	require.NoError(t, h.run(t, "note", key, "refunded"))
	rec, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "refunded", rec.Note)

	require.NoError(t, h.run(t, "delete", key))
	assert.ErrorIs(t, h.run(t, "delete", key), license.ErrNotFound)
	assert.Equal(t, 1, h.store.Len())

	assert.Equal(t, 10, h.closed.n, "every store-backed command closes the store")
}

func TestList(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.store.Insert(ctx, testutil.BoundRecord("RIXK-AAAA-BBBB-CCCC", "HW-0123456789")))

	require.NoError(t, h.run(t, "list"))
	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "KEY")
	assert.Contains(t, lines[1], "RIXK-AAAA-BBBB-CCCC")
	assert.Contains(t, lines[1], "BOUND")
	assert.Contains(t, lines[1], "HW-0****6789")
	assert.Contains(t, lines[1], "2 days ago")

	require.NoError(t, h.run(t, "list", "--hwid"))
	assert.Contains(t, h.stdout.String(), "HW-0123456789")
}

func TestExport(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.store.Insert(context.Background(), testutil.UnboundRecord("RIXK-0001")))

	path := filepath.Join(t.TempDir(), "keys.csv")
	require.NoError(t, h.run(t, "export", "-f", "csv", "-o", path))
	assert.Equal(t, "exported 1 keys to "+path+"\n", h.stdout.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RIXK-0001,UNBOUND,true")

	assert.Error(t, h.run(t, "export", "-f", "pdf", "-o", path))
}

func TestUsage(t *testing.T) {
	h := newHarness(t, "")
	assert.ErrorIs(t, h.run(t), errUsage)
	assert.ErrorIs(t, h.run(t, "frobnicate"), errUsage)
	assert.Error(t, h.run(t, "revoke"))
}

func TestLocalHWID(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.store.Insert(context.Background(), testutil.UnboundRecord("RIXK-0002")))

	require.NoError(t, h.run(t, "hwid"))
	assert.Equal(t, "HW-LOCAL\n", h.stdout.String())
	assert.Equal(t, 0, h.closed.n, "hwid never opens the store")

	require.NoError(t, h.run(t, "validate", "RIXK-0002"))
	rec, err := h.store.Get(context.Background(), "RIXK-0002")
	require.NoError(t, err)
	assert.Equal(t, "HW-LOCAL", rec.HWID)

	h.cli.localHWID = func() (string, error) { return "", errors.New("no hardware facts available") }
	assert.ErrorContains(t, h.run(t, "validate", "RIXK-0002"), "derive local hwid")
}
