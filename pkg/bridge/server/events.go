package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventMessage is one frame of the event stream.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

type eventClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *eventClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// EventHub fans response and lifecycle events out to connected websocket
// clients. A slow or broken client is dropped, never waited on.
type EventHub struct {
	mu       sync.Mutex
	clients  map[*eventClient]struct{}
	seq      int64
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewEventHub creates an empty hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		logger:  logger.With().Str("component", "events").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The bridge binds to loopback in the editor; origin
				// checks happen at that boundary.
				return true
			},
		},
	}
}

// ServeHTTP upgrades the connection and holds it open until the client
// goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &eventClient{conn: conn}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("Event client connected")

	// Drain the read side to notice the close handshake.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, client)
	count = len(h.clients)
	h.mu.Unlock()
	conn.Close()

	h.logger.Debug().Int("clients", count).Msg("Event client disconnected")
}

// Broadcast sends an event to every connected client.
func (h *EventHub) Broadcast(event string, data interface{}) {
	h.mu.Lock()
	h.seq++
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       h.seq,
	}
	targets := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	failed := 0
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			failed++
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
	if failed > 0 {
		h.logger.Warn().Int("failed", failed).Str("event", event).Msg("Dropped broken event clients")
	}
}

// ClientCount reports connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used during shutdown.
func (h *EventHub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}
