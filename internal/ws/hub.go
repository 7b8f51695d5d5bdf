package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manpreetbhatti/inkwell/internal/room"
	"github.com/manpreetbhatti/inkwell/internal/session"
)

type Config struct {
	MessagesPerSecond float64
	MessageBurst      int
	MaxViolations     int
	SendBuffer        int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxViolations:     1000,
		SendBuffer:        512,
		MaxMessageSize:    1024 * 1024,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
	}
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Hub tracks the live WebSocket clients and hands each one a protocol
// session. Room state itself lives in the session handler's registry.
type Hub struct {
	handler *session.Handler
	config  Config
	logger  *slog.Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex
}

type Option func(*Hub)

func WithConfig(cfg Config) Option {
	return func(h *Hub) { h.config = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

func NewHub(handler *session.Handler, opts ...Option) *Hub {
	h := &Hub{
		handler: handler,
		config:  DefaultConfig(),
		logger:  slog.Default(),
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "conn", c.id, "clients", total)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.session.Close()
	c.close()
	h.logger.Info("client disconnected", "conn", c.id, "room", c.session.RoomID(), "clients", total)
}

func (h *Hub) Registry() *room.Registry { return h.handler.Registry() }

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomCount returns the number of rooms with at least one member
func (h *Hub) GetRoomCount() int {
	return len(h.handler.Registry().ActiveRooms())
}

func (h *Hub) GetActiveRooms() map[string]int {
	return h.handler.Registry().ActiveRooms()
}

// Shutdown disconnects every client
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("hub shut down", "disconnected", len(clients))
}
