package room

import (
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
)

// Registry maps room ids to rooms. Rooms are created on first use and live
// for the lifetime of the process.
type Registry struct {
	rooms map[string]*Room
	mu    sync.RWMutex

	journal   Journal
	now       func() time.Time
	stateOpts []drawing.Option
}

type Option func(*Registry)

func WithJournal(j Journal) Option {
	return func(r *Registry) {
		if j != nil {
			r.journal = j
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Options passed to every new room's drawing state
func WithStateOptions(opts ...drawing.Option) Option {
	return func(r *Registry) { r.stateOpts = append(r.stateOpts, opts...) }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		journal: nopJournal{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ensure returns the room with the given id, creating it if needed
func (r *Registry) Ensure(id string) *Room {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[id]; ok {
		return rm
	}

	rm = newRoom(id, r.now(), r.journal, r.stateOpts...)
	r.rooms[id] = rm
	r.journal.RoomCreated(id)
	return rm
}

func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

func (r *Registry) AddMember(roomID string, peer Peer, m Member) {
	r.Ensure(roomID).Do(func(tx *Tx) {
		tx.AddMember(peer, m)
	})
}

func (r *Registry) RemoveMember(roomID, connectionID string) bool {
	removed := false
	r.Ensure(roomID).Do(func(tx *Tx) {
		removed = tx.RemoveMember(connectionID)
	})
	return removed
}

func (r *Registry) ListMembers(roomID string) []Member {
	return r.Ensure(roomID).Members()
}

func (r *Registry) Log(roomID string) []drawing.Operation {
	return r.Ensure(roomID).Log()
}

// Rooms returns every room ordered by id
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ActiveRooms returns the member count of every room that has members
func (r *Registry) ActiveRooms() map[string]int {
	active := make(map[string]int)
	for _, rm := range r.Rooms() {
		if n := len(rm.Members()); n > 0 {
			active[rm.ID] = n
		}
	}
	return active
}
