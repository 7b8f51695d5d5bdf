package drawing

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func newTestState() *State {
	n := 0
	clock := time.Unix(1700000000, 0)
	return NewState(
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("op-%d", n)
		}),
		WithClock(func() time.Time { return clock }),
	)
}

var brush = Style{Tool: "brush", Color: "#ff0000", Width: 4}

func drawStroke(t *testing.T, s *State, author, localID string, points ...Point) Operation {
	t.Helper()
	s.Begin(author, localID, brush)
	if _, err := s.Append(author, localID, points); err != nil {
		t.Fatalf("Append(%s) failed: %v", localID, err)
	}
	op, err := s.End(author, localID)
	if err != nil {
		t.Fatalf("End(%s) failed: %v", localID, err)
	}
	return op
}

func TestSealSingleStroke(t *testing.T) {
	s := newTestState()

	preview, replaced := s.Begin("author-a", "s1", brush)
	if replaced {
		t.Error("First begin should not replace anything")
	}
	if preview.Tool != "brush" || preview.Color != "#ff0000" || preview.Width != 4 {
		t.Errorf("Begin preview style mismatch: %+v", preview)
	}
	if preview.Points == nil || len(preview.Points) != 0 {
		t.Errorf("Begin preview should carry an empty points list, got %v", preview.Points)
	}

	if _, err := s.Append("author-a", "s1", []Point{{0, 0}, {1, 1}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	op, err := s.End("author-a", "s1")
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	want := []Point{{0, 0}, {1, 1}}
	if !reflect.DeepEqual(op.Points, want) {
		t.Errorf("Expected points %v, got %v", want, op.Points)
	}
	if !op.Active {
		t.Error("Sealed operation should be active")
	}
	if op.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", op.Seq)
	}
	if op.LocalID != "s1" || op.AuthorID != "author-a" {
		t.Errorf("Unexpected identity fields: %+v", op)
	}
	if op.Timestamp != time.Unix(1700000000, 0).UnixMilli() {
		t.Errorf("Unexpected timestamp %d", op.Timestamp)
	}

	if got := s.UndoStack(); !reflect.DeepEqual(got, []string{op.OpID}) {
		t.Errorf("Expected undo stack [%s], got %v", op.OpID, got)
	}
	if s.RedoDepth() != 0 {
		t.Errorf("Expected empty redo stack, got %v", s.RedoStack())
	}
	if s.PendingCount() != 0 {
		t.Errorf("Pending entry should be consumed, %d left", s.PendingCount())
	}
}

func TestPointsPreviewIsIncremental(t *testing.T) {
	s := newTestState()
	s.Begin("a", "s1", brush)

	if _, err := s.Append("a", "s1", []Point{{0, 0}, {1, 1}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	preview, err := s.Append("a", "s1", []Point{{2, 2}})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !reflect.DeepEqual(preview.Points, []Point{{2, 2}}) {
		t.Errorf("Preview should only carry the new batch, got %v", preview.Points)
	}
	if preview.Tool != "" || preview.Color != "" || preview.Width != 0 {
		t.Errorf("Points preview should not repeat style, got %+v", preview)
	}

	op, err := s.End("a", "s1")
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if len(op.Points) != 3 {
		t.Errorf("Expected 3 accumulated points, got %d", len(op.Points))
	}
}

func TestSeqStrictlyIncreasingAcrossAuthors(t *testing.T) {
	s := newTestState()

	// Interleave strokes from three authors, all reusing the same local ids.
	authors := []string{"a", "b", "c"}
	for round := 0; round < 5; round++ {
		localID := fmt.Sprintf("s%d", round)
		for _, author := range authors {
			s.Begin(author, localID, brush)
		}
		for _, author := range authors {
			if _, err := s.Append(author, localID, []Point{{float64(round), 0}}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}
		for i := len(authors) - 1; i >= 0; i-- {
			if _, err := s.End(authors[i], localID); err != nil {
				t.Fatalf("End failed: %v", err)
			}
		}
	}

	log := s.Log()
	if len(log) != 15 {
		t.Fatalf("Expected 15 operations, got %d", len(log))
	}
	seen := make(map[string]bool)
	for i, op := range log {
		if op.Seq != int64(i+1) {
			t.Errorf("Operation %d: expected seq %d, got %d", i, i+1, op.Seq)
		}
		if seen[op.OpID] {
			t.Errorf("Duplicate opId %s", op.OpID)
		}
		seen[op.OpID] = true
	}
	if s.LastSeq() != 15 {
		t.Errorf("Expected last seq 15, got %d", s.LastSeq())
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := newTestState()
	before := drawStroke(t, s, "a", "s1", Point{0, 0}, Point{1, 1})

	toggle, err := s.Undo()
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if toggle.OpID != before.OpID || toggle.Active {
		t.Errorf("Unexpected undo result %+v", toggle)
	}

	hidden, _ := s.Operation(before.OpID)
	if hidden.Active {
		t.Error("Operation should be inactive after undo")
	}
	if s.UndoDepth() != 0 {
		t.Errorf("Expected empty undo stack, got %v", s.UndoStack())
	}
	if got := s.RedoStack(); !reflect.DeepEqual(got, []string{before.OpID}) {
		t.Errorf("Expected redo stack [%s], got %v", before.OpID, got)
	}

	toggle, err = s.Redo()
	if err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if toggle.OpID != before.OpID || !toggle.Active {
		t.Errorf("Unexpected redo result %+v", toggle)
	}

	after, _ := s.Operation(before.OpID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Round trip changed the operation:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestUndoIsGlobalLIFO(t *testing.T) {
	s := newTestState()
	first := drawStroke(t, s, "a", "s1", Point{0, 0})
	second := drawStroke(t, s, "b", "s1", Point{5, 5})

	toggle, err := s.Undo()
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if toggle.OpID != second.OpID {
		t.Errorf("Expected latest op %s to be undone first, got %s", second.OpID, toggle.OpID)
	}

	toggle, err = s.Undo()
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if toggle.OpID != first.OpID {
		t.Errorf("Expected %s undone second, got %s", first.OpID, toggle.OpID)
	}

	toggle, _ = s.Redo()
	if toggle.OpID != first.OpID {
		t.Errorf("Redo should restore the last undone op %s, got %s", first.OpID, toggle.OpID)
	}
}

func TestSealClearsRedoStack(t *testing.T) {
	s := newTestState()
	drawStroke(t, s, "a", "s1", Point{0, 0})

	if _, err := s.Undo(); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if s.RedoDepth() != 1 {
		t.Fatalf("Expected redo depth 1, got %d", s.RedoDepth())
	}

	drawStroke(t, s, "b", "s2", Point{3, 3})

	if s.RedoDepth() != 0 {
		t.Errorf("Seal should clear redo stack, got %v", s.RedoStack())
	}
	if _, err := s.Redo(); !errors.Is(err, ErrNoOpToRedo) {
		t.Errorf("Expected ErrNoOpToRedo, got %v", err)
	}
}

func TestUndoOnEmptyStack(t *testing.T) {
	s := newTestState()
	if _, err := s.Undo(); !errors.Is(err, ErrNoOpToUndo) {
		t.Errorf("Expected ErrNoOpToUndo, got %v", err)
	}

	op := drawStroke(t, s, "a", "s1", Point{0, 0})
	if _, err := s.Undo(); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	before := s.Log()
	if _, err := s.Undo(); !errors.Is(err, ErrNoOpToUndo) {
		t.Errorf("Expected ErrNoOpToUndo, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Log()) {
		t.Error("Failed undo must not mutate any operation")
	}
	if got := s.RedoStack(); !reflect.DeepEqual(got, []string{op.OpID}) {
		t.Errorf("Failed undo must not touch redo stack, got %v", got)
	}
}

func TestToggleOfMissingOperation(t *testing.T) {
	s := newTestState()
	first := drawStroke(t, s, "a", "s1", Point{0, 0})
	second := drawStroke(t, s, "a", "s2", Point{1, 1})

	if _, err := s.Undo(); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	// Stack entries whose operation is gone from the log
	delete(s.byID, first.OpID)
	delete(s.byID, second.OpID)

	toggle, err := s.Redo()
	if !errors.Is(err, ErrUnknownToggleTarget) {
		t.Fatalf("Expected ErrUnknownToggleTarget from redo, got %v", err)
	}
	if toggle != (Toggle{OpID: second.OpID}) {
		t.Errorf("Failed redo should not report an active operation, got %+v", toggle)
	}

	toggle, err = s.Undo()
	if !errors.Is(err, ErrUnknownToggleTarget) {
		t.Fatalf("Expected ErrUnknownToggleTarget from undo, got %v", err)
	}
	if toggle != (Toggle{OpID: first.OpID}) {
		t.Errorf("Failed undo should carry only the op id, got %+v", toggle)
	}
}

func TestUnknownStrokeIsNoOp(t *testing.T) {
	s := newTestState()
	drawStroke(t, s, "a", "s1", Point{0, 0})
	logBefore := s.Log()
	undoBefore := s.UndoStack()

	if _, err := s.Append("a", "missing", []Point{{1, 1}}); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Expected ErrUnknownStroke from Append, got %v", err)
	}
	if _, err := s.End("a", "missing"); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Expected ErrUnknownStroke from End, got %v", err)
	}
	// Ended strokes are no longer pending.
	if _, err := s.End("a", "s1"); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Expected ErrUnknownStroke for an already sealed stroke, got %v", err)
	}

	if !reflect.DeepEqual(logBefore, s.Log()) {
		t.Error("Log changed after unknown stroke events")
	}
	if !reflect.DeepEqual(undoBefore, s.UndoStack()) {
		t.Error("Undo stack changed after unknown stroke events")
	}
	if s.RedoDepth() != 0 {
		t.Error("Redo stack changed after unknown stroke events")
	}
}

func TestStrokesAreScopedToAuthor(t *testing.T) {
	s := newTestState()
	s.Begin("a", "s1", brush)

	if _, err := s.Append("b", "s1", []Point{{1, 1}}); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Another author must not append to a's stroke, got %v", err)
	}
	if _, err := s.End("b", "s1"); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Another author must not end a's stroke, got %v", err)
	}
	if s.PendingCount() != 1 {
		t.Errorf("Expected a's stroke to remain pending, got %d pending", s.PendingCount())
	}
}

func TestEmptyStrokeIsNotSealed(t *testing.T) {
	s := newTestState()
	s.Begin("a", "s1", brush)

	if _, err := s.End("a", "s1"); !errors.Is(err, ErrEmptyStroke) {
		t.Errorf("Expected ErrEmptyStroke, got %v", err)
	}
	if s.Len() != 0 || s.LastSeq() != 0 {
		t.Errorf("Empty stroke must not be sealed: len=%d lastSeq=%d", s.Len(), s.LastSeq())
	}
	if s.PendingCount() != 0 {
		t.Error("Empty stroke should still be consumed")
	}

	op := drawStroke(t, s, "a", "s2", Point{7, 7})
	if op.Seq != 1 {
		t.Errorf("Dropped empty stroke must not consume a seq, got %d", op.Seq)
	}
}

func TestSinglePointStroke(t *testing.T) {
	s := newTestState()
	op := drawStroke(t, s, "a", "dot", Point{4, 2})
	if len(op.Points) != 1 {
		t.Errorf("Expected a single-point operation, got %v", op.Points)
	}
}

func TestRebeginOverwritesPendingStroke(t *testing.T) {
	s := newTestState()
	s.Begin("a", "s1", brush)
	if _, err := s.Append("a", "s1", []Point{{1, 1}, {2, 2}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	eraser := Style{Tool: "eraser", Color: "#ffffff", Width: 20}
	if _, replaced := s.Begin("a", "s1", eraser); !replaced {
		t.Error("Second begin should report replacement")
	}
	if _, err := s.Append("a", "s1", []Point{{9, 9}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	op, err := s.End("a", "s1")
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if op.Tool != "eraser" || len(op.Points) != 1 {
		t.Errorf("Expected the replacement stroke to be sealed, got %+v", op)
	}
}

func TestLogIsACopy(t *testing.T) {
	s := newTestState()
	op := drawStroke(t, s, "a", "s1", Point{0, 0})

	log := s.Log()
	log[0].Active = false
	log[0].Color = "#000000"

	stored, _ := s.Operation(op.OpID)
	if !stored.Active || stored.Color != "#ff0000" {
		t.Errorf("Mutating the returned log must not affect the state, got %+v", stored)
	}
}

func TestExpirePending(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState(WithClock(func() time.Time { return now }))

	s.Begin("a", "old", brush)
	now = now.Add(10 * time.Minute)
	s.Begin("b", "fresh", brush)

	expired := s.ExpirePending(now.Add(-5 * time.Minute))
	if expired != 1 {
		t.Errorf("Expected 1 expired stroke, got %d", expired)
	}
	if _, err := s.Append("a", "old", []Point{{1, 1}}); !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("Expired stroke should be gone, got %v", err)
	}
	if _, err := s.Append("b", "fresh", []Point{{1, 1}}); err != nil {
		t.Errorf("Fresh stroke should survive expiry: %v", err)
	}
}
