package archive

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
)

// Store is the part of the database the recorder writes to
type Store interface {
	CreateRoom(id string) error
	SaveOperation(roomID string, op drawing.Operation) error
	SetOperationActive(opID string, active bool) (bool, error)
}

type Config struct {
	QueueSize int
}

func DefaultConfig() Config {
	return Config{QueueSize: 4096}
}

type entryKind int

const (
	roomCreated entryKind = iota
	operationSealed
	operationToggled
)

type entry struct {
	kind   entryKind
	roomID string
	op     drawing.Operation
	toggle drawing.Toggle
}

// Recorder copies room history into the store. It implements room.Journal:
// calls are made with the room held, so they only enqueue, and a single
// worker applies entries in the order they were made. When the queue is
// full the entry is dropped and counted.
type Recorder struct {
	store  Store
	logger *slog.Logger
	queue  chan entry
	stop   chan struct{}
	wg     sync.WaitGroup

	stopped atomic.Bool
	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64
}

func New(store Store, config Config, logger *slog.Logger) *Recorder {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan entry, config.QueueSize),
		stop:   make(chan struct{}),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("archive recorder started", "queue", cap(r.queue))
}

// Stop writes out whatever is already queued and waits for the worker
func (r *Recorder) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.logger.Info("archive recorder stopped",
		"written", r.written.Load(), "dropped", r.dropped.Load(), "failed", r.failed.Load())
}

func (r *Recorder) RoomCreated(roomID string) {
	r.enqueue(entry{kind: roomCreated, roomID: roomID})
}

func (r *Recorder) OperationSealed(roomID string, op drawing.Operation) {
	r.enqueue(entry{kind: operationSealed, roomID: roomID, op: op})
}

func (r *Recorder) OperationToggled(roomID string, t drawing.Toggle) {
	r.enqueue(entry{kind: operationToggled, roomID: roomID, toggle: t})
}

// Dropped is the number of entries lost to a full queue or a stopped recorder
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) Written() int64 { return r.written.Load() }

func (r *Recorder) Failed() int64 { return r.failed.Load() }

func (r *Recorder) enqueue(e entry) {
	if r.stopped.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		n := r.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			r.logger.Warn("archive queue full, dropping entry", "room", e.roomID, "dropped", n)
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.queue:
			r.apply(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.queue:
					r.apply(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(e entry) {
	var err error
	switch e.kind {
	case roomCreated:
		err = r.store.CreateRoom(e.roomID)
	case operationSealed:
		err = r.store.SaveOperation(e.roomID, e.op)
	case operationToggled:
		var found bool
		found, err = r.store.SetOperationActive(e.toggle.OpID, e.toggle.Active)
		if err == nil && !found {
			r.logger.Warn("toggled operation missing from archive", "room", e.roomID, "opId", e.toggle.OpID)
		}
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("archive write failed", "room", e.roomID, "err", err)
		return
	}
	r.written.Add(1)
}
