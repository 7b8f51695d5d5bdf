package reaper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manpreetbhatti/inkwell/internal/room"
)

type Config struct {
	Interval   time.Duration
	PendingTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		PendingTTL: 10 * time.Minute,
	}
}

// Service periodically drops pending strokes whose author stopped sending
// points without ending them.
type Service struct {
	registry *room.Registry
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(registry *room.Registry, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		config:   config,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("reaper started", "interval", s.config.Interval, "ttl", s.config.PendingTTL)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("reaper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep expires stale pending strokes in every room and returns how many
// were dropped.
func (s *Service) Sweep() int {
	cutoff := s.now().Add(-s.config.PendingTTL)

	total := 0
	for _, rm := range s.registry.Rooms() {
		if n := rm.ExpirePending(cutoff); n > 0 {
			s.logger.Info("expired pending strokes", "room", rm.ID, "count", n)
			total += n
		}
	}
	return total
}
