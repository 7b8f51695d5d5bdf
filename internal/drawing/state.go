package drawing

import (
	"time"

	"github.com/google/uuid"
)

type strokeKey struct {
	author  string
	localID string
}

type pendingStroke struct {
	style   Style
	points  []Point
	touched time.Time
}

// State is one room's drawing history: the sealed operation log, the strokes
// still being assembled, and the global undo/redo stacks.
//
// State is not safe for concurrent use; the owning room serializes access.
type State struct {
	ops     []*Operation
	byID    map[string]*Operation
	lastSeq int64
	pending map[strokeKey]*pendingStroke
	undo    []string
	redo    []string

	now   func() time.Time
	newID func() string
}

type Option func(*State)

// Overrides the clock used for seal timestamps and pending-stroke activity
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// Overrides operation id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *State) { s.newID = gen }
}

func NewState(opts ...Option) *State {
	s := &State{
		ops:     make([]*Operation, 0),
		byID:    make(map[string]*Operation),
		pending: make(map[strokeKey]*pendingStroke),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a pending stroke. A stroke already pending under the same
// author and local id is replaced; replaced reports whether that happened.
func (s *State) Begin(authorID, localID string, style Style) (preview Preview, replaced bool) {
	key := strokeKey{author: authorID, localID: localID}
	_, replaced = s.pending[key]

	s.pending[key] = &pendingStroke{
		style:   style,
		points:  make([]Point, 0),
		touched: s.now(),
	}

	return Preview{
		LocalID:  localID,
		AuthorID: authorID,
		Tool:     style.Tool,
		Color:    style.Color,
		Width:    style.Width,
		Points:   []Point{},
	}, replaced
}

// Append adds points to a pending stroke and returns a preview carrying only
// the new points.
func (s *State) Append(authorID, localID string, points []Point) (Preview, error) {
	p, ok := s.pending[strokeKey{author: authorID, localID: localID}]
	if !ok {
		return Preview{}, ErrUnknownStroke
	}

	p.points = append(p.points, points...)
	p.touched = s.now()

	batch := make([]Point, len(points))
	copy(batch, points)

	return Preview{
		LocalID:  localID,
		AuthorID: authorID,
		Points:   batch,
	}, nil
}

// End seals a pending stroke into the log. The pending entry is consumed
// even when it holds no points, in which case nothing is sealed.
func (s *State) End(authorID, localID string) (Operation, error) {
	key := strokeKey{author: authorID, localID: localID}
	p, ok := s.pending[key]
	if !ok {
		return Operation{}, ErrUnknownStroke
	}
	delete(s.pending, key)

	if len(p.points) == 0 {
		return Operation{}, ErrEmptyStroke
	}

	s.lastSeq++
	op := &Operation{
		OpID:      s.newID(),
		Seq:       s.lastSeq,
		LocalID:   localID,
		AuthorID:  authorID,
		Tool:      p.style.Tool,
		Color:     p.style.Color,
		Width:     p.style.Width,
		Points:    p.points[:len(p.points):len(p.points)],
		Timestamp: s.now().UnixMilli(),
		Active:    true,
	}

	s.ops = append(s.ops, op)
	s.byID[op.OpID] = op
	s.undo = append(s.undo, op.OpID)
	s.redo = s.redo[:0]

	return *op, nil
}

// Undo hides the most recently sealed or redone operation that is still
// visible, regardless of author.
func (s *State) Undo() (Toggle, error) {
	if len(s.undo) == 0 {
		return Toggle{}, ErrNoOpToUndo
	}

	opID := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]

	op, ok := s.byID[opID]
	if !ok {
		return Toggle{OpID: opID}, ErrUnknownToggleTarget
	}
	op.Active = false
	s.redo = append(s.redo, opID)

	return Toggle{OpID: opID, Active: false}, nil
}

// Redo restores the most recently undone operation.
func (s *State) Redo() (Toggle, error) {
	if len(s.redo) == 0 {
		return Toggle{}, ErrNoOpToRedo
	}

	opID := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]

	op, ok := s.byID[opID]
	if !ok {
		return Toggle{OpID: opID}, ErrUnknownToggleTarget
	}
	op.Active = true
	s.undo = append(s.undo, opID)

	return Toggle{OpID: opID, Active: true}, nil
}

// Log returns the sealed operations in seq order
func (s *State) Log() []Operation {
	log := make([]Operation, len(s.ops))
	for i, op := range s.ops {
		log[i] = *op
	}
	return log
}

func (s *State) Operation(opID string) (Operation, bool) {
	op, ok := s.byID[opID]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// ExpirePending drops pending strokes with no activity since cutoff and
// returns how many were dropped.
func (s *State) ExpirePending(cutoff time.Time) int {
	expired := 0
	for key, p := range s.pending {
		if p.touched.Before(cutoff) {
			delete(s.pending, key)
			expired++
		}
	}
	return expired
}

func (s *State) Len() int { return len(s.ops) }
func (s *State) LastSeq() int64 { return s.lastSeq }
func (s *State) PendingCount() int { return len(s.pending) }
func (s *State) UndoDepth() int { return len(s.undo) }
func (s *State) RedoDepth() int { return len(s.redo) }

// UndoStack returns a copy of the undo stack, bottom first
func (s *State) UndoStack() []string {
	out := make([]string, len(s.undo))
	copy(out, s.undo)
	return out
}

// RedoStack returns a copy of the redo stack, bottom first
func (s *State) RedoStack() []string {
	out := make([]string, len(s.redo))
	copy(out, s.redo)
	return out
}
