package license

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
)

// entry holds one record behind its own lock. key and createdAt are immutable
// copies used for ordering without taking the lock.
type entry struct {
	key       string
	createdAt time.Time

	mu   sync.Mutex
	rec  KeyRecord
	dead bool
}

// MemoryStore is an in-process Store. The store-wide lock only guards map
// membership; record reads and writes happen under the per-key entry lock.
// Deleted entries stay in the map as tombstones so their keys are never reused.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
	}
}

func (s *MemoryStore) lookup(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e, ok
}

func invalidText(field string) error {
	return fmt.Errorf("%w: %s is not valid UTF-8 text", ErrInvalidArgument, field)
}

// withEntry runs fn with the live record for key locked.
func (s *MemoryStore) withEntry(key string, fn func(rec *KeyRecord) error) error {
	if !validText(key) {
		return invalidText("key")
	}
	e, ok := s.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, MaskKey(key))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return fmt.Errorf("%w: %s", ErrNotFound, MaskKey(key))
	}
	return fn(&e.rec)
}

func (s *MemoryStore) Insert(ctx context.Context, rec KeyRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if !validText(rec.Key) || !validText(rec.HWID) || !validText(rec.Note) {
		return invalidText("record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[rec.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, MaskKey(rec.Key))
	}

	s.entries[rec.Key] = &entry{
		key:       rec.Key,
		createdAt: rec.CreatedAt,
		rec:       rec,
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (KeyRecord, error) {
	var out KeyRecord
	err := s.withEntry(key, func(rec *KeyRecord) error {
		out = *rec
		return nil
	})
	return out, err
}

func (s *MemoryStore) BindIfUnbound(ctx context.Context, key, hwid string) (BindResult, error) {
	if hwid == "" {
		return BindResult{}, fmt.Errorf("%w: empty hwid", ErrInvalidArgument)
	}
	if !validText(hwid) {
		return BindResult{}, invalidText("hwid")
	}
	var res BindResult
	err := s.withEntry(key, func(rec *KeyRecord) error {
		if !rec.Active {
			return fmt.Errorf("%w: %s", ErrRevoked, MaskKey(key))
		}
		switch rec.HWID {
		case "":
			rec.HWID = hwid
			res.Bound = true
		case hwid:
		default:
			return fmt.Errorf("%w: %s", ErrHWIDMismatch, MaskKey(key))
		}
		res.Record = *rec
		return nil
	})
	return res, err
}

func (s *MemoryStore) SetActive(ctx context.Context, key string, active bool) error {
	return s.withEntry(key, func(rec *KeyRecord) error {
		rec.Active = active
		return nil
	})
}

func (s *MemoryStore) UpdateNote(ctx context.Context, key, note string) error {
	if !validText(note) {
		return invalidText("note")
	}
	return s.withEntry(key, func(rec *KeyRecord) error {
		rec.Note = note
		return nil
	})
}

// Delete turns the entry into a tombstone. Only the key is kept.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if !validText(key) {
		return invalidText("key")
	}
	e, ok := s.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, MaskKey(key))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return fmt.Errorf("%w: %s", ErrNotFound, MaskKey(key))
	}
	e.dead = true
	e.rec = KeyRecord{Key: key}
	return nil
}

// List snapshots the current membership, ordered newest first, and reads each
// record lazily as the caller advances. Records deleted mid-iteration are skipped.
func (s *MemoryStore) List(ctx context.Context) iter.Seq2[KeyRecord, error] {
	return func(yield func(KeyRecord, error) bool) {
		s.mu.RLock()
		snapshot := make([]*entry, 0, len(s.entries))
		for _, e := range s.entries {
			snapshot = append(snapshot, e)
		}
		s.mu.RUnlock()

		sort.Slice(snapshot, func(i, j int) bool {
			a, b := snapshot[i], snapshot[j]
			if !a.createdAt.Equal(b.createdAt) {
				return a.createdAt.After(b.createdAt)
			}
			return a.key < b.key
		})

		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(KeyRecord{}, err)
				return
			}

			e.mu.Lock()
			rec, dead := e.rec, e.dead
			e.mu.Unlock()
			if dead {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		e.mu.Lock()
		if !e.dead {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
