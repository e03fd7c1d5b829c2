// Package events defines the messages pushed to admin WebSocket clients.
package events

import (
	"time"

	"licsrv/internal/license"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeConnect  MessageType = "connect"
	MessageTypeKeyEvent MessageType = "key:event"
	MessageTypeError    MessageType = "error"
)

// Message is the envelope for every frame sent to admin clients.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// KeyEvent is the payload of a key:event message. Keys are masked; admins
// fetch full records through the REST API.
type KeyEvent struct {
	Event string    `json:"event"`
	Key   string    `json:"key"`
	Bound bool      `json:"bound,omitempty"`
	Actor string    `json:"actor,omitempty"`
	At    time.Time `json:"at"`
}

// NewKeyEvent converts a lifecycle event.
func NewKeyEvent(ev license.Event) KeyEvent {
	return KeyEvent{
		Event: string(ev.Type),
		Key:   license.MaskKey(ev.Key),
		Bound: ev.HWID != "",
		Actor: ev.Actor,
		At:    ev.At,
	}
}
