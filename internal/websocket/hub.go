package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"licsrv/internal/license"
	"licsrv/pkg/contracts/events"
)

// HubConfig tunes the hub.
type HubConfig struct {
	// EventBuffer is how many events may queue before Publish starts dropping.
	EventBuffer     int
	ClientBuffer    int
	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
	AllowedOrigins  []string
}

func (c *HubConfig) setDefaults() {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
}

// Hub fans license events out to connected admin clients. It implements
// license.EventSink; Publish never blocks the caller.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	events     chan license.Event
	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns so clients never block on a stopped hub.
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[*Client]struct{}

	dropped atomic.Int64
}

var _ license.EventSink = (*Hub)(nil)

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	cfg.setDefaults()
	return &Hub{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "websocket.hub")),
		events:     make(chan license.Event, cfg.EventBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Publish queues ev for delivery, dropping it when the queue is full.
func (h *Hub) Publish(ctx context.Context, ev license.Event) {
	select {
	case h.events <- ev:
	default:
		n := h.dropped.Add(1)
		h.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("event", string(ev.Type)),
			slog.Int64("dropped_total", n))
	}
}

// Dropped returns how many events Publish has discarded.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run delivers events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "websocket hub started")
	defer func() {
		h.stopOnce.Do(func() { close(h.done) })
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.InfoContext(ctx, "websocket hub shutting down")
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.InfoContext(ctx, "client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))
			h.sendTo(ctx, c, events.Message{
				ID:        uuid.NewString(),
				Type:      events.MessageTypeConnect,
				Timestamp: time.Now().UTC(),
				Data:      map[string]string{"client_id": c.id},
			})

		case c := <-h.unregister:
			if h.remove(c) {
				h.logger.InfoContext(ctx, "client unregistered",
					slog.String("client_id", c.id),
					slog.Duration("connection_duration", time.Since(c.connectedAt)))
			}

		case ev := <-h.events:
			h.broadcast(ctx, events.Message{
				ID:        uuid.NewString(),
				Type:      events.MessageTypeKeyEvent,
				Timestamp: time.Now().UTC(),
				Data:      events.NewKeyEvent(ev),
			})
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, msg events.Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(ctx, c, msg)
	}
}

// sendTo enqueues msg for c; a client whose buffer is full is disconnected.
func (h *Hub) sendTo(ctx context.Context, c *Client, msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode websocket message", slog.String("error", err.Error()))
		return
	}

	select {
	case c.send <- data:
	default:
		if h.remove(c) {
			h.logger.WarnContext(ctx, "client send buffer full, disconnecting",
				slog.String("client_id", c.id))
		}
	}
}

// leave unregisters c unless the hub has already stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
