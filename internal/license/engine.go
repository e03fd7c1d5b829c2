package license

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

const (
	// DefaultMaxGenerateAttempts bounds token regeneration after collisions.
	DefaultMaxGenerateAttempts = 5
	// MaxNoteLength caps the admin note.
	MaxNoteLength = 1024
)

// Engine enforces the key lifecycle: generate, revoke, activate, note edits and
// delete. Every mutating call requires an authenticated Actor.
type Engine struct {
	store       Store
	newToken    TokenGenerator
	now         func() time.Time
	maxAttempts int
	sink        EventSink
	metrics     *Metrics
	logger      *slog.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithTokenGenerator replaces the default UUID-based generator.
func WithTokenGenerator(gen TokenGenerator) EngineOption {
	return func(e *Engine) { e.newToken = gen }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithMaxGenerateAttempts sets how many tokens Generate tries before giving up.
func WithMaxGenerateAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithEventSink sets where lifecycle events are published.
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a lifecycle engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		newToken:    NewTokenGenerator(DefaultKeyPrefix),
		now:         time.Now,
		maxAttempts: DefaultMaxGenerateAttempts,
		sink:        NopSink,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "license_engine"))
	return e
}

func (e *Engine) authorize(actor Actor) error {
	if actor.IsZero() {
		return ErrUnauthenticated
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, typ EventType, rec KeyRecord, actor Actor) {
	e.sink.Publish(ctx, Event{
		Type:  typ,
		Key:   rec.Key,
		HWID:  rec.HWID,
		Actor: actor.Subject,
		At:    e.now().UTC(),
	})
}

// Generate creates a new active, unbound key. Token collisions are retried
// transparently up to the configured attempt bound.
func (e *Engine) Generate(ctx context.Context, actor Actor, note string) (KeyRecord, error) {
	if err := e.authorize(actor); err != nil {
		return KeyRecord{}, err
	}
	if err := checkNote(note); err != nil {
		return KeyRecord{}, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		token, err := e.newToken()
		if err != nil {
			return KeyRecord{}, err
		}

		rec := KeyRecord{
			Key:       token,
			Active:    true,
			CreatedAt: e.now().UTC().Truncate(time.Microsecond),
			Note:      note,
		}

		err = e.store.Insert(ctx, rec)
		if errors.Is(err, ErrDuplicateKey) {
			e.metrics.recordCollision(ctx)
			e.logger.WarnContext(ctx, "generated key collided, retrying",
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return KeyRecord{}, fmt.Errorf("failed to store generated key: %w", err)
		}

		e.metrics.recordAdmin(ctx, "generate")
		e.logger.InfoContext(ctx, "license key generated",
			slog.String("key", MaskKey(rec.Key)),
			slog.String("actor", actor.Subject))
		e.publish(ctx, EventGenerated, rec, actor)
		return rec, nil
	}

	return KeyRecord{}, fmt.Errorf("failed to generate a unique key after %d attempts", e.maxAttempts)
}

// Revoke deactivates key. Revoking a revoked key succeeds.
func (e *Engine) Revoke(ctx context.Context, actor Actor, key string) error {
	return e.setActive(ctx, actor, key, false)
}

// Activate reactivates key. The HWID binding is preserved, so a previously bound
// key only becomes valid again for the same device.
func (e *Engine) Activate(ctx context.Context, actor Actor, key string) error {
	return e.setActive(ctx, actor, key, true)
}

func (e *Engine) setActive(ctx context.Context, actor Actor, key string, active bool) error {
	if err := e.authorize(actor); err != nil {
		return err
	}
	key = NormalizeKey(key)
	if err := checkKey(key); err != nil {
		return err
	}

	op, typ := "revoke", EventRevoked
	if active {
		op, typ = "activate", EventActivated
	}

	if err := e.store.SetActive(ctx, key, active); err != nil {
		return fmt.Errorf("failed to %s key: %w", op, err)
	}

	e.metrics.recordAdmin(ctx, op)
	e.logger.InfoContext(ctx, "license key "+op+"d",
		slog.String("key", MaskKey(key)),
		slog.String("actor", actor.Subject))
	e.publish(ctx, typ, KeyRecord{Key: key}, actor)
	return nil
}

// UpdateNote replaces the note on key.
func (e *Engine) UpdateNote(ctx context.Context, actor Actor, key, note string) error {
	if err := e.authorize(actor); err != nil {
		return err
	}
	if err := checkNote(note); err != nil {
		return err
	}
	key = NormalizeKey(key)
	if err := checkKey(key); err != nil {
		return err
	}

	if err := e.store.UpdateNote(ctx, key, note); err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	e.metrics.recordAdmin(ctx, "update_note")
	e.logger.InfoContext(ctx, "license key note updated",
		slog.String("key", MaskKey(key)),
		slog.String("actor", actor.Subject))
	e.publish(ctx, EventNoteUpdated, KeyRecord{Key: key}, actor)
	return nil
}

// Delete removes key permanently.
func (e *Engine) Delete(ctx context.Context, actor Actor, key string) error {
	if err := e.authorize(actor); err != nil {
		return err
	}
	key = NormalizeKey(key)
	if err := checkKey(key); err != nil {
		return err
	}

	if err := e.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	e.metrics.recordAdmin(ctx, "delete")
	e.logger.InfoContext(ctx, "license key deleted",
		slog.String("key", MaskKey(key)),
		slog.String("actor", actor.Subject))
	e.publish(ctx, EventDeleted, KeyRecord{Key: key}, actor)
	return nil
}

// Get returns the record for key.
func (e *Engine) Get(ctx context.Context, key string) (KeyRecord, error) {
	key = NormalizeKey(key)
	if err := checkKey(key); err != nil {
		return KeyRecord{}, err
	}
	return e.store.Get(ctx, key)
}

// List returns every record, newest first.
func (e *Engine) List(ctx context.Context) iter.Seq2[KeyRecord, error] {
	return e.store.List(ctx)
}
