package drawing

// A single canvas coordinate, serialized as [x, y]
type Point [2]float64

// Stroke style fixed when a stroke begins
type Style struct {
	Tool  string  `json:"tool"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// A sealed stroke. Only Active changes after sealing, and only through
// Undo/Redo. Points is shared with the log and must not be modified.
type Operation struct {
	OpID      string  `json:"opId"`
	Seq       int64   `json:"seq"`
	LocalID   string  `json:"localId"`
	AuthorID  string  `json:"authorId"`
	Tool      string  `json:"tool"`
	Color     string  `json:"color"`
	Width     float64 `json:"width"`
	Points    []Point `json:"points"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds at seal time
	Active    bool    `json:"active"`
}

// Live view of an in-progress stroke. Style fields are only set for the
// preview emitted by Begin; later previews carry the new points only.
type Preview struct {
	LocalID  string  `json:"localId"`
	AuthorID string  `json:"authorId"`
	Tool     string  `json:"tool,omitempty"`
	Color    string  `json:"color,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Points   []Point `json:"points"`
}

// Result of an undo or redo
type Toggle struct {
	OpID   string `json:"opId"`
	Active bool   `json:"active"`
}
