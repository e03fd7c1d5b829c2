package license

import (
	"context"
	"time"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventGenerated   EventType = "key.generated"
	EventBound       EventType = "key.bound"
	EventRevoked     EventType = "key.revoked"
	EventActivated   EventType = "key.activated"
	EventNoteUpdated EventType = "key.note_updated"
	EventDeleted     EventType = "key.deleted"
)

// Event is published after a successful state change.
type Event struct {
	Type  EventType `json:"type"`
	Key   string    `json:"key"`
	HWID  string    `json:"hwid,omitempty"`
	Actor string    `json:"actor,omitempty"`
	At    time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}

// NopSink discards every event.
var NopSink EventSink = nopSink{}
