package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event name carried in the envelope "type" field
type Type string

// Client to server
const (
	TypeJoin   Type = "join"
	TypeBegin  Type = "op:begin"
	TypePoints Type = "op:points"
	TypeEnd    Type = "op:end"
	TypeUndo   Type = "undo"
	TypeRedo   Type = "redo"
	TypeCursor Type = "cursor"
)

// Server to client
const (
	TypeJoined   Type = "joined"
	TypePresence Type = "presence"
	TypePreview  Type = "op:preview"
	TypeSealed   Type = "op:sealed"
	TypeToggle   Type = "op:toggle"
	TypeAck      Type = "ack"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is the frame shared by every message in both directions. ID is
// an optional client-chosen correlation id echoed back on acks.
type Envelope struct {
	Type Type            `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope of the given type
func Encode(t Type, id uint64, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		data = raw
	}
	return json.Marshal(Envelope{Type: t, ID: id, Data: data})
}

func malformed(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, t, fmt.Sprintf(format, args...))
}
