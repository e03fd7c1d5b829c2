package license

import (
	"context"
	"iter"
)

// BindResult describes a successful BindIfUnbound call.
type BindResult struct {
	// Bound is true when this call performed the first binding, false when the
	// key was already bound to the same HWID.
	Bound bool
	// Record is the state after the call.
	Record KeyRecord
}

// Store is the durable mapping from key token to KeyRecord.
//
// BindIfUnbound must be atomic with respect to concurrent callers presenting the
// same key; operations on different keys must not block each other. Keys, hwids
// and notes that are not valid UTF-8 or contain NUL bytes fail with
// ErrInvalidArgument.
type Store interface {
	// Insert stores a new record, failing with ErrDuplicateKey if the key exists
	// or ever existed: deleted keys are never reissued.
	Insert(ctx context.Context, rec KeyRecord) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, key string) (KeyRecord, error)
	// BindIfUnbound binds hwid to key on first use. An empty hwid is
	// ErrInvalidArgument. It fails with ErrNotFound,
	// ErrRevoked or ErrHWIDMismatch; re-presenting the bound HWID succeeds.
	BindIfUnbound(ctx context.Context, key, hwid string) (BindResult, error)
	// SetActive toggles the active flag.
	SetActive(ctx context.Context, key string, active bool) error
	// UpdateNote replaces the free-text note.
	UpdateNote(ctx context.Context, key, note string) error
	// Delete removes the record permanently. The key stays reserved.
	Delete(ctx context.Context, key string) error
	// List yields every record, newest first. The sequence is lazy and may be
	// ranged over more than once; an error ends the iteration.
	List(ctx context.Context) iter.Seq2[KeyRecord, error]
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[KeyRecord, error]) ([]KeyRecord, error) {
	var out []KeyRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
