package session

import (
	"errors"
	"log/slog"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
	"github.com/manpreetbhatti/inkwell/internal/protocol"
	"github.com/manpreetbhatti/inkwell/internal/room"
)

type joinedPayload struct {
	RoomID       string              `json:"roomId"`
	Self         room.Member         `json:"self"`
	Members      []room.Member       `json:"members"`
	OperationLog []drawing.Operation `json:"operationLog"`
}

type presencePayload struct {
	Members []room.Member `json:"members"`
}

type cursorPayload struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	ConnectionID string  `json:"connectionId"`
	Color        string  `json:"color"`
	DisplayName  string  `json:"displayName"`
}

type ackPayload struct {
	OK     bool          `json:"ok"`
	Action protocol.Type `json:"action"`
}

// Session is the protocol state of one connection. It is driven by the
// connection's read loop and is not safe for concurrent use.
type Session struct {
	handler *Handler
	peer    room.Peer
	room    *room.Room
	self    room.Member
	closed  bool
	logger  *slog.Logger
}

func (s *Session) RoomID() string {
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

// HandleMessage decodes one raw frame and dispatches it. Malformed frames
// are logged and dropped.
func (s *Session) HandleMessage(raw []byte) {
	in, err := protocol.Decode(raw, s.handler.config.Limits)
	if err != nil {
		s.logger.Warn("dropping malformed message", "err", err)
		return
	}
	s.Handle(in)
}

// Handle dispatches one decoded event
func (s *Session) Handle(in protocol.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling message", "type", in.Event.Type(), "panic", r)
		}
	}()

	if s.closed {
		return
	}

	if s.room == nil {
		switch ev := in.Event.(type) {
		case protocol.Join:
			s.join(ev)
		case protocol.Undo, protocol.Redo:
			s.sendDirect(protocol.TypeAck, in.ID, ackPayload{OK: false, Action: in.Event.Type()})
		default:
			s.logger.Warn("dropping message sent before join", "type", in.Event.Type())
		}
		return
	}

	switch ev := in.Event.(type) {
	case protocol.Join:
		s.logger.Warn("ignoring repeated join", "requested", ev.RoomID)
	case protocol.Begin:
		s.begin(ev)
	case protocol.Points:
		s.points(ev)
	case protocol.End:
		s.end(ev)
	case protocol.Undo:
		s.toggle(in.ID, protocol.TypeUndo, (*drawing.State).Undo)
	case protocol.Redo:
		s.toggle(in.ID, protocol.TypeRedo, (*drawing.State).Redo)
	case protocol.Cursor:
		s.cursor(ev)
	}
}

// Close removes the connection from its room and tells the remaining
// members. Room history and pending strokes are left as they are.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.room == nil {
		return
	}

	remaining := 0
	s.room.Do(func(tx *room.Tx) {
		if !tx.RemoveMember(s.self.ConnectionID) {
			return
		}
		members := tx.Members()
		remaining = len(members)
		if msg := s.encode(protocol.TypePresence, 0, presencePayload{Members: members}); msg != nil {
			tx.Broadcast(msg)
		}
	})

	s.logger.Info("member left", "remaining", remaining)
}

func (s *Session) join(ev protocol.Join) {
	cfg := s.handler.config
	roomID := cleanField(ev.RoomID, cfg.DefaultRoom, cfg.MaxRoomIDLength)
	self := room.Member{
		ConnectionID: s.peer.ID(),
		DisplayName:  cleanField(ev.DisplayName, cfg.DefaultName, cfg.MaxNameLength),
		Color:        s.handler.pickColor(),
	}

	rm := s.handler.registry.Ensure(roomID)
	total := 0
	rm.Do(func(tx *room.Tx) {
		tx.AddMember(s.peer, self)
		members := tx.Members()
		total = len(members)

		joined := s.encode(protocol.TypeJoined, 0, joinedPayload{
			RoomID:       roomID,
			Self:         self,
			Members:      members,
			OperationLog: tx.State().Log(),
		})
		if joined != nil {
			tx.Send(self.ConnectionID, joined)
		}
		if presence := s.encode(protocol.TypePresence, 0, presencePayload{Members: members}); presence != nil {
			tx.BroadcastExcept(presence, self.ConnectionID)
		}
	})

	s.room = rm
	s.self = self
	s.logger = s.logger.With("room", roomID)
	s.logger.Info("member joined", "name", self.DisplayName, "members", total)
}

func (s *Session) begin(ev protocol.Begin) {
	s.room.Do(func(tx *room.Tx) {
		preview, replaced := tx.State().Begin(s.self.ConnectionID, ev.LocalID, ev.Style)
		if replaced {
			s.logger.Debug("begin replaced a pending stroke", "localId", ev.LocalID)
		}
		if msg := s.encode(protocol.TypePreview, 0, preview); msg != nil {
			tx.Broadcast(msg)
		}
	})
}

func (s *Session) points(ev protocol.Points) {
	s.room.Do(func(tx *room.Tx) {
		preview, err := tx.State().Append(s.self.ConnectionID, ev.LocalID, ev.Points)
		if err != nil {
			s.logger.Debug("dropping points", "localId", ev.LocalID, "err", err)
			return
		}
		if msg := s.encode(protocol.TypePreview, 0, preview); msg != nil {
			tx.Broadcast(msg)
		}
	})
}

func (s *Session) end(ev protocol.End) {
	s.room.Do(func(tx *room.Tx) {
		op, err := tx.State().End(s.self.ConnectionID, ev.LocalID)
		if err != nil {
			s.logger.Debug("dropping end", "localId", ev.LocalID, "err", err)
			return
		}
		tx.Journal().OperationSealed(tx.RoomID(), op)
		if msg := s.encode(protocol.TypeSealed, 0, op); msg != nil {
			tx.Broadcast(msg)
		}
		s.logger.Info("operation sealed", "opId", op.OpID, "seq", op.Seq, "points", len(op.Points))
	})
}

func (s *Session) toggle(id uint64, action protocol.Type, apply func(*drawing.State) (drawing.Toggle, error)) {
	s.room.Do(func(tx *room.Tx) {
		toggle, err := apply(tx.State())
		switch {
		case err == nil:
			tx.Journal().OperationToggled(tx.RoomID(), toggle)
			if msg := s.encode(protocol.TypeToggle, 0, toggle); msg != nil {
				tx.Broadcast(msg)
			}
			s.logger.Info("operation toggled", "action", action, "opId", toggle.OpID, "active", toggle.Active)
		case errors.Is(err, drawing.ErrUnknownToggleTarget):
			s.logger.Warn("toggle target missing from log", "action", action, "opId", toggle.OpID)
		default:
			s.logger.Debug("nothing to toggle", "action", action, "err", err)
		}

		if ack := s.encode(protocol.TypeAck, id, ackPayload{OK: err == nil, Action: action}); ack != nil {
			tx.Send(s.self.ConnectionID, ack)
		}
	})
}

func (s *Session) cursor(ev protocol.Cursor) {
	s.room.Do(func(tx *room.Tx) {
		me, ok := tx.Member(s.self.ConnectionID)
		if !ok {
			return
		}
		msg := s.encode(protocol.TypeCursor, 0, cursorPayload{
			X:            ev.X,
			Y:            ev.Y,
			ConnectionID: me.ConnectionID,
			Color:        me.Color,
			DisplayName:  me.DisplayName,
		})
		if msg != nil {
			tx.BroadcastExcept(msg, me.ConnectionID)
		}
	})
}

func (s *Session) sendDirect(t protocol.Type, id uint64, payload any) {
	if msg := s.encode(t, id, payload); msg != nil {
		s.peer.Send(msg)
	}
}

func (s *Session) encode(t protocol.Type, id uint64, payload any) []byte {
	msg, err := protocol.Encode(t, id, payload)
	if err != nil {
		s.logger.Error("failed to encode message", "type", t, "err", err)
		return nil
	}
	return msg
}
