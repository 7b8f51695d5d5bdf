package room

import (
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
)

// A participant as shown to the rest of the room
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Color        string `json:"color"`
}

// Outbound handle for one connection. Send must not block; it reports
// false when the message could not be queued.
type Peer interface {
	ID() string
	Send(msg []byte) bool
}

// Journal observes room history. It is called while the room is held, so
// implementations must return quickly and never call back into the room.
type Journal interface {
	RoomCreated(roomID string)
	OperationSealed(roomID string, op drawing.Operation)
	OperationToggled(roomID string, toggle drawing.Toggle)
}

type nopJournal struct{}

func (nopJournal) RoomCreated(string) {}
func (nopJournal) OperationSealed(string, drawing.Operation) {}
func (nopJournal) OperationToggled(string, drawing.Toggle) {}

type memberEntry struct {
	member Member
	peer   Peer
	order  uint64
}

// An isolated drawing session
type Room struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	state   *drawing.State
	members map[string]*memberEntry
	joins   uint64
	journal Journal
}

func newRoom(id string, createdAt time.Time, journal Journal, opts ...drawing.Option) *Room {
	return &Room{
		ID:        id,
		CreatedAt: createdAt,
		state:     drawing.NewState(opts...),
		members:   make(map[string]*memberEntry),
		journal:   journal,
	}
}

// Do runs fn with exclusive access to the room. All mutation of room state
// and all fan-out that must stay ordered with it happens inside fn.
func (r *Room) Do(fn func(tx *Tx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Tx{room: r})
}

// Members returns the current membership in join order
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

// Log returns a copy of the sealed operations in seq order
func (r *Room) Log() []drawing.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Log()
}

type Stats struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`
	Operations int       `json:"operations"`
	LastSeq    int64     `json:"last_seq"`
	Pending    int       `json:"pending"`
	UndoDepth  int       `json:"undo_depth"`
	RedoDepth  int       `json:"redo_depth"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Room) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ID:         r.ID,
		Members:    len(r.members),
		Operations: r.state.Len(),
		LastSeq:    r.state.LastSeq(),
		Pending:    r.state.PendingCount(),
		UndoDepth:  r.state.UndoDepth(),
		RedoDepth:  r.state.RedoDepth(),
		CreatedAt:  r.CreatedAt,
	}
}

// ExpirePending drops pending strokes idle since cutoff
func (r *Room) ExpirePending(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ExpirePending(cutoff)
}

func (r *Room) membersLocked() []Member {
	entries := make([]*memberEntry, 0, len(r.members))
	for _, e := range r.members {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	members := make([]Member, len(entries))
	for i, e := range entries {
		members[i] = e.member
	}
	return members
}

// Tx is the view of a room handed to Room.Do. It must not be retained
// after fn returns.
type Tx struct {
	room *Room
}

func (tx *Tx) RoomID() string { return tx.room.ID }

func (tx *Tx) State() *drawing.State { return tx.room.state }

func (tx *Tx) Journal() Journal { return tx.room.journal }

// AddMember registers a connection. Re-adding a connection id replaces its
// profile and peer but keeps its place in the join order.
func (tx *Tx) AddMember(peer Peer, m Member) {
	r := tx.room
	if e, ok := r.members[m.ConnectionID]; ok {
		e.member = m
		e.peer = peer
		return
	}
	r.joins++
	r.members[m.ConnectionID] = &memberEntry{member: m, peer: peer, order: r.joins}
}

func (tx *Tx) RemoveMember(connectionID string) bool {
	if _, ok := tx.room.members[connectionID]; !ok {
		return false
	}
	delete(tx.room.members, connectionID)
	return true
}

func (tx *Tx) Member(connectionID string) (Member, bool) {
	e, ok := tx.room.members[connectionID]
	if !ok {
		return Member{}, false
	}
	return e.member, true
}

func (tx *Tx) Members() []Member { return tx.room.membersLocked() }

// Broadcast queues msg for every member and returns how many accepted it
func (tx *Tx) Broadcast(msg []byte) int {
	return tx.BroadcastExcept(msg, "")
}

// BroadcastExcept queues msg for every member other than except
func (tx *Tx) BroadcastExcept(msg []byte, except string) int {
	delivered := 0
	for id, e := range tx.room.members {
		if id == except || e.peer == nil {
			continue
		}
		if e.peer.Send(msg) {
			delivered++
		}
	}
	return delivered
}

// Send queues msg for a single member
func (tx *Tx) Send(connectionID string, msg []byte) bool {
	e, ok := tx.room.members[connectionID]
	if !ok || e.peer == nil {
		return false
	}
	return e.peer.Send(msg)
}
