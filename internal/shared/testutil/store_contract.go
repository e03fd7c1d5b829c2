package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"licsrv/internal/license"
)

// UniqueKey returns a key that does not collide across tests sharing a database.
func UniqueKey(name string) string {
	return fmt.Sprintf("TEST-%s-%s", name, uuid.NewString())
}

// AssertSameRecord compares records field by field, tolerating time zone
// differences introduced by the storage layer.
func AssertSameRecord(t *testing.T, want, got license.KeyRecord) {
	t.Helper()
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.HWID, got.HWID)
	assert.Equal(t, want.Active, got.Active)
	assert.Equal(t, want.Note, got.Note)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %s got %s", want.CreatedAt, got.CreatedAt)
}

// RunStoreContract exercises the behaviour every license.Store must provide.
// newStore must return an empty store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) license.Store) {
	ctx := context.Background()

	t.Run("insert then get", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("get"))
		rec.Note = "customer #42"

		require.NoError(t, s.Insert(ctx, rec))

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		AssertSameRecord(t, rec, got)
		assert.Equal(t, license.StateUnbound, got.State())
	})

	t.Run("insert duplicate key", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("dup"))
		require.NoError(t, s.Insert(ctx, rec))

		err := s.Insert(ctx, rec)
		assert.ErrorIs(t, err, license.ErrDuplicateKey)
	})

	t.Run("operations on unknown key", func(t *testing.T) {
		s := newStore(t)
		missing := UniqueKey("missing")

		_, err := s.Get(ctx, missing)
		assert.ErrorIs(t, err, license.ErrNotFound)

		_, err = s.BindIfUnbound(ctx, missing, "HW-A")
		assert.ErrorIs(t, err, license.ErrNotFound)

		assert.ErrorIs(t, s.SetActive(ctx, missing, false), license.ErrNotFound)
		assert.ErrorIs(t, s.UpdateNote(ctx, missing, "n"), license.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, missing), license.ErrNotFound)
	})

	t.Run("first bind sets hwid", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("bind"))
		require.NoError(t, s.Insert(ctx, rec))

		res, err := s.BindIfUnbound(ctx, rec.Key, "HW-A")
		require.NoError(t, err)
		assert.True(t, res.Bound)
		assert.Equal(t, "HW-A", res.Record.HWID)

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.Equal(t, "HW-A", got.HWID)
		assert.Equal(t, license.StateBound, got.State())
	})

	t.Run("empty hwid is rejected", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("empty"))
		require.NoError(t, s.Insert(ctx, rec))

		_, err := s.BindIfUnbound(ctx, rec.Key, "")
		assert.ErrorIs(t, err, license.ErrInvalidArgument)
	})

	t.Run("rebinding the same hwid is a no-op", func(t *testing.T) {
		s := newStore(t)
		rec := BoundRecord(UniqueKey("idem"), "HW-A")
		require.NoError(t, s.Insert(ctx, rec))

		for i := 0; i < 3; i++ {
			res, err := s.BindIfUnbound(ctx, rec.Key, "HW-A")
			require.NoError(t, err)
			assert.False(t, res.Bound)
		}

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		AssertSameRecord(t, rec, got)
	})

	t.Run("different hwid is rejected", func(t *testing.T) {
		s := newStore(t)
		rec := BoundRecord(UniqueKey("mismatch"), "HW-A")
		require.NoError(t, s.Insert(ctx, rec))

		_, err := s.BindIfUnbound(ctx, rec.Key, "HW-B")
		assert.ErrorIs(t, err, license.ErrHWIDMismatch)

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.Equal(t, "HW-A", got.HWID)
	})

	t.Run("inactive key cannot bind", func(t *testing.T) {
		s := newStore(t)
		rec := RevokedRecord(UniqueKey("revoked"), "")
		require.NoError(t, s.Insert(ctx, rec))

		_, err := s.BindIfUnbound(ctx, rec.Key, "HW-A")
		assert.ErrorIs(t, err, license.ErrRevoked)

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.Empty(t, got.HWID)
	})

	t.Run("set active and note keep binding", func(t *testing.T) {
		s := newStore(t)
		rec := BoundRecord(UniqueKey("toggle"), "HW-A")
		require.NoError(t, s.Insert(ctx, rec))

		require.NoError(t, s.SetActive(ctx, rec.Key, false))
		require.NoError(t, s.SetActive(ctx, rec.Key, false))
		require.NoError(t, s.UpdateNote(ctx, rec.Key, "refunded"))

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, "refunded", got.Note)
		assert.Equal(t, "HW-A", got.HWID)
		assert.Equal(t, license.StateRevoked, got.State())

		require.NoError(t, s.SetActive(ctx, rec.Key, true))
		got, err = s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.True(t, got.Active)
		assert.Equal(t, "HW-A", got.HWID)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		s := newStore(t)
		rec := BoundRecord(UniqueKey("delete"), "HW-A")
		require.NoError(t, s.Insert(ctx, rec))

		require.NoError(t, s.Delete(ctx, rec.Key))

		_, err := s.Get(ctx, rec.Key)
		assert.ErrorIs(t, err, license.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, rec.Key), license.ErrNotFound)
		_, err = s.BindIfUnbound(ctx, rec.Key, "HW-A")
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("deleted key is never reissued", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("tomb"))
		require.NoError(t, s.Insert(ctx, rec))
		require.NoError(t, s.Delete(ctx, rec.Key))

		assert.ErrorIs(t, s.Insert(ctx, rec), license.ErrDuplicateKey)
		records, err := license.Collect(s.List(ctx))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("text the store cannot hold is invalid", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("text"))
		require.NoError(t, s.Insert(ctx, rec))

		_, err := s.Get(ctx, rec.Key+"\x00")
		assert.ErrorIs(t, err, license.ErrInvalidArgument)
		_, err = s.BindIfUnbound(ctx, rec.Key, "HW-\x00")
		assert.ErrorIs(t, err, license.ErrInvalidArgument)
		_, err = s.BindIfUnbound(ctx, rec.Key, "HW-\xff")
		assert.ErrorIs(t, err, license.ErrInvalidArgument)
		assert.ErrorIs(t, s.UpdateNote(ctx, rec.Key, "note\x00"), license.ErrInvalidArgument)

		bad := UnboundRecord(UniqueKey("text-note"))
		bad.Note = "\xfe"
		assert.ErrorIs(t, s.Insert(ctx, bad), license.ErrInvalidArgument)

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.Empty(t, got.HWID)
		assert.Empty(t, got.Note)
	})

	t.Run("list is newest first and restartable", func(t *testing.T) {
		s := newStore(t)
		oldest := UnboundRecord(UniqueKey("list-a"))
		middle := BoundRecord(UniqueKey("list-b"), "HW-B")
		newest := RevokedRecord(UniqueKey("list-c"), "")
		middle.CreatedAt = oldest.CreatedAt.Add(time.Minute)
		newest.CreatedAt = oldest.CreatedAt.Add(2 * time.Minute)

		for _, rec := range []license.KeyRecord{middle, oldest, newest} {
			require.NoError(t, s.Insert(ctx, rec))
		}

		for pass := 0; pass < 2; pass++ {
			records, err := license.Collect(s.List(ctx))
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, newest.Key, records[0].Key)
			assert.Equal(t, middle.Key, records[1].Key)
			assert.Equal(t, oldest.Key, records[2].Key)
			assert.Equal(t, "HW-B", records[1].HWID)
		}
	})

	t.Run("list stops when the consumer breaks", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Insert(ctx, UnboundRecord(UniqueKey(fmt.Sprintf("brk%d", i)))))
		}

		seen := 0
		for _, err := range s.List(ctx) {
			require.NoError(t, err)
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
	})

	t.Run("concurrent first use binds exactly one device", func(t *testing.T) {
		s := newStore(t)
		rec := UnboundRecord(UniqueKey("race"))
		require.NoError(t, s.Insert(ctx, rec))

		const n = 32
		var bound, mismatched atomic.Int32
		var winner atomic.Value
		start := make(chan struct{})

		var g errgroup.Group
		for i := 0; i < n; i++ {
			hwid := fmt.Sprintf("HW-%02d", i)
			g.Go(func() error {
				<-start
				res, err := s.BindIfUnbound(ctx, rec.Key, hwid)
				switch {
				case err == nil && res.Bound:
					bound.Add(1)
					winner.Store(hwid)
					return nil
				case errors.Is(err, license.ErrHWIDMismatch):
					mismatched.Add(1)
					return nil
				case err == nil:
					return fmt.Errorf("%s: unexpected idempotent success", hwid)
				default:
					return err
				}
			})
		}
		close(start)
		require.NoError(t, g.Wait())

		assert.EqualValues(t, 1, bound.Load())
		assert.EqualValues(t, n-1, mismatched.Load())

		got, err := s.Get(ctx, rec.Key)
		require.NoError(t, err)
		assert.Equal(t, winner.Load(), got.HWID)
	})
}
