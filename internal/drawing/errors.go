package drawing

import "errors"

var (
	ErrUnknownStroke       = errors.New("no pending stroke for local id")
	ErrEmptyStroke         = errors.New("stroke ended without points")
	ErrNoOpToUndo          = errors.New("nothing to undo")
	ErrNoOpToRedo          = errors.New("nothing to redo")
	ErrUnknownToggleTarget = errors.New("toggle target not in operation log")
)
