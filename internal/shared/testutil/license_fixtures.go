package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"licsrv/internal/license"
)

// FixedTime is the creation time used by fixtures.
var FixedTime = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

// TestActor is an authenticated admin for engine calls.
var TestActor = license.Actor{
	Subject:         "admin",
	Method:          "test",
	AuthenticatedAt: FixedTime,
}

// UnboundRecord returns an active, unbound record.
func UnboundRecord(key string) license.KeyRecord {
	return license.KeyRecord{
		Key:       key,
		Active:    true,
		CreatedAt: FixedTime,
	}
}

// BoundRecord returns an active record bound to hwid.
func BoundRecord(key, hwid string) license.KeyRecord {
	rec := UnboundRecord(key)
	rec.HWID = hwid
	return rec
}

// RevokedRecord returns an inactive record, bound when hwid is non-empty.
func RevokedRecord(key, hwid string) license.KeyRecord {
	rec := BoundRecord(key, hwid)
	rec.Active = false
	return rec
}

// SequenceTokens returns a generator yielding tokens in order, then failing.
func SequenceTokens(tokens ...string) license.TokenGenerator {
	var i atomic.Int64
	return func() (string, error) {
		n := int(i.Add(1)) - 1
		if n >= len(tokens) {
			return "", fmt.Errorf("token sequence exhausted after %d tokens", len(tokens))
		}
		return tokens[n], nil
	}
}

// StepClock returns a clock advancing by step on every call, starting at FixedTime.
func StepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := FixedTime
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

// RecordingSink collects published events.
type RecordingSink struct {
	mu     sync.Mutex
	events []license.Event
}

// Publish implements license.EventSink.
func (s *RecordingSink) Publish(_ context.Context, ev license.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of the collected events.
func (s *RecordingSink) Events() []license.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]license.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the collected event types in order.
func (s *RecordingSink) Types() []license.EventType {
	var out []license.EventType
	for _, ev := range s.Events() {
		out = append(out, ev.Type)
	}
	return out
}
