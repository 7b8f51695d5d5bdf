package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/manpreetbhatti/inkwell/internal/drawing"
)

// Event is one validated client message. The concrete type identifies the
// variant.
type Event interface {
	Type() Type
}

type Join struct {
	RoomID      string
	DisplayName string
}

type Begin struct {
	LocalID string
	Style   drawing.Style
}

type Points struct {
	LocalID string
	Points  []drawing.Point
}

type End struct {
	LocalID string
}

type Undo struct{}

type Redo struct{}

type Cursor struct {
	X, Y float64
}

func (Join) Type() Type { return TypeJoin }
func (Begin) Type() Type { return TypeBegin }
func (Points) Type() Type { return TypePoints }
func (End) Type() Type { return TypeEnd }
func (Undo) Type() Type { return TypeUndo }
func (Redo) Type() Type { return TypeRedo }
func (Cursor) Type() Type { return TypeCursor }

// Bounds applied while decoding
type Limits struct {
	MaxPointsPerBatch int
	MaxLocalIDLength  int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPointsPerBatch: 2048,
		MaxLocalIDLength:  128,
	}
}

// Inbound is a decoded client message together with its correlation id
type Inbound struct {
	ID    uint64
	Event Event
}

// Decode parses and validates one client frame. Any failure wraps
// ErrMalformed.
func Decode(raw []byte, limits Limits) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, malformed("envelope", "%v", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeJoin:
		ev, err = decodeJoin(env.Data)
	case TypeBegin:
		ev, err = decodeBegin(env.Data, limits)
	case TypePoints:
		ev, err = decodePoints(env.Data, limits)
	case TypeEnd:
		ev, err = decodeEnd(env.Data, limits)
	case TypeUndo:
		ev = Undo{}
	case TypeRedo:
		ev = Redo{}
	case TypeCursor:
		ev, err = decodeCursor(env.Data)
	case "":
		return Inbound{}, malformed("envelope", "missing type")
	default:
		return Inbound{}, malformed(env.Type, "unknown message type")
	}
	if err != nil {
		return Inbound{}, err
	}

	return Inbound{ID: env.ID, Event: ev}, nil
}

func unmarshalData(t Type, data json.RawMessage, v any) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return malformed(t, "missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return malformed(t, "%v", err)
	}
	return nil
}

func decodeJoin(data json.RawMessage) (Event, error) {
	// Both fields are optional; the session applies defaults.
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Join{}, nil
	}
	var p struct {
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName"`
	}
	if err := unmarshalData(TypeJoin, data, &p); err != nil {
		return nil, err
	}
	return Join{RoomID: p.RoomID, DisplayName: p.DisplayName}, nil
}

func checkLocalID(t Type, id string, limits Limits) error {
	if strings.TrimSpace(id) == "" {
		return malformed(t, "localId is required")
	}
	if limits.MaxLocalIDLength > 0 && len(id) > limits.MaxLocalIDLength {
		return malformed(t, "localId longer than %d bytes", limits.MaxLocalIDLength)
	}
	return nil
}

func decodeBegin(data json.RawMessage, limits Limits) (Event, error) {
	var p struct {
		LocalID string   `json:"localId"`
		Tool    string   `json:"tool"`
		Color   string   `json:"color"`
		Width   *float64 `json:"width"`
	}
	if err := unmarshalData(TypeBegin, data, &p); err != nil {
		return nil, err
	}
	if err := checkLocalID(TypeBegin, p.LocalID, limits); err != nil {
		return nil, err
	}
	if p.Tool == "" {
		return nil, malformed(TypeBegin, "tool is required")
	}
	if p.Color == "" {
		return nil, malformed(TypeBegin, "color is required")
	}
	if p.Width == nil {
		return nil, malformed(TypeBegin, "width is required")
	}
	if math.IsNaN(*p.Width) || math.IsInf(*p.Width, 0) || *p.Width <= 0 {
		return nil, malformed(TypeBegin, "width must be a positive number")
	}

	return Begin{
		LocalID: p.LocalID,
		Style:   drawing.Style{Tool: p.Tool, Color: p.Color, Width: *p.Width},
	}, nil
}

func decodePoints(data json.RawMessage, limits Limits) (Event, error) {
	var p struct {
		LocalID string          `json:"localId"`
		Points  json.RawMessage `json:"points"`
	}
	if err := unmarshalData(TypePoints, data, &p); err != nil {
		return nil, err
	}
	if err := checkLocalID(TypePoints, p.LocalID, limits); err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(p.Points)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, malformed(TypePoints, "points must be a list")
	}

	var pairs [][]*float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, malformed(TypePoints, "points must be [x, y] pairs: %v", err)
	}
	if limits.MaxPointsPerBatch > 0 && len(pairs) > limits.MaxPointsPerBatch {
		return nil, malformed(TypePoints, "%d points exceeds batch limit %d", len(pairs), limits.MaxPointsPerBatch)
	}

	points := make([]drawing.Point, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, malformed(TypePoints, "point %d has %d coordinates", i, len(pair))
		}
		if pair[0] == nil || pair[1] == nil {
			return nil, malformed(TypePoints, "point %d has a null coordinate", i)
		}
		points[i] = drawing.Point{*pair[0], *pair[1]}
	}

	return Points{LocalID: p.LocalID, Points: points}, nil
}

func decodeEnd(data json.RawMessage, limits Limits) (Event, error) {
	var p struct {
		LocalID string `json:"localId"`
	}
	if err := unmarshalData(TypeEnd, data, &p); err != nil {
		return nil, err
	}
	if err := checkLocalID(TypeEnd, p.LocalID, limits); err != nil {
		return nil, err
	}
	return End{LocalID: p.LocalID}, nil
}

func decodeCursor(data json.RawMessage) (Event, error) {
	var p struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := unmarshalData(TypeCursor, data, &p); err != nil {
		return nil, err
	}
	if p.X == nil || p.Y == nil {
		return nil, malformed(TypeCursor, "x and y are required")
	}
	return Cursor{X: *p.X, Y: *p.Y}, nil
}
