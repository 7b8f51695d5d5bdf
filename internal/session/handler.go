package session

import (
	"log/slog"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/manpreetbhatti/inkwell/internal/protocol"
	"github.com/manpreetbhatti/inkwell/internal/room"
)

// Colors handed out to members on join. Repeats are allowed.
var Palette = []string{
	"#1f77b4", "#2ca02c", "#d62728", "#9467bd", "#8c564b",
	"#7f7f7f", "#17becf", "#e377c2", "#bcbd22", "#393b79",
	"#637939", "#8c6d31", "#843c39", "#7b4173",
}

type Config struct {
	DefaultRoom     string
	DefaultName     string
	MaxRoomIDLength int
	MaxNameLength   int
	Limits          protocol.Limits
}

func DefaultConfig() Config {
	return Config{
		DefaultRoom:     "main",
		DefaultName:     "Anonymous",
		MaxRoomIDLength: 50,
		MaxNameLength:   50,
		Limits:          protocol.DefaultLimits(),
	}
}

// Handler holds what every session shares: the room registry, the color
// palette and input limits.
type Handler struct {
	registry *room.Registry
	config   Config
	logger   *slog.Logger
	palette  []string
	pick     func(n int) int
}

type Option func(*Handler)

func WithConfig(cfg Config) Option {
	return func(h *Handler) { h.config = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// Overrides the random palette index choice
func WithPicker(pick func(n int) int) Option {
	return func(h *Handler) { h.pick = pick }
}

func NewHandler(registry *room.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		palette:  Palette,
		pick:     rand.Intn,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Registry() *room.Registry { return h.registry }

// NewSession starts the protocol state for one connection
func (h *Handler) NewSession(peer room.Peer) *Session {
	return &Session{
		handler: h,
		peer:    peer,
		logger:  h.logger.With("conn", peer.ID()),
	}
}

func (h *Handler) pickColor() string {
	return h.palette[h.pick(len(h.palette))]
}

// cleanField trims s, falls back to def when empty and caps it at limit runes
func cleanField(s, def string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return s
}
