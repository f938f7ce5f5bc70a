package history

import "drawing-board/internal/canvas"

// EntryKind is the kind of local mutation an entry records
type EntryKind string

const (
	EntryAdd    EntryKind = "add"
	EntryRemove EntryKind = "remove"
	EntryModify EntryKind = "modify"
)

// Entry is one locally originated mutation. Objects and Previous hold
// copies taken at the time of the action, never live references.
type Entry struct {
	Kind     EntryKind
	Objects  []canvas.Object // added, removed, or the state after a modify
	Previous []canvas.Object // state before a modify, same order as Objects
}

// Effect carries an undo or redo step out to the canvas and the room. A
// step that returns an error must leave the canvas untouched; the cursor
// then stays where it was.
type Effect interface {
	// Remove takes objs off the canvas
	Remove(objs []canvas.Object) error
	// Restore puts objs back on the canvas
	Restore(objs []canvas.Object) error
	// Replace sets each object to the given state
	Replace(objs []canvas.Object) error
}

// Stack is a linear undo/redo log. cursor is the index of the last applied
// entry, -1 when nothing can be undone.
type Stack struct {
	entries []Entry
	cursor  int
	limit   int
}

// NewStack returns an empty stack. limit caps the number of kept entries,
// dropping the oldest; 0 means unbounded.
func NewStack(limit int) *Stack {
	return &Stack{cursor: -1, limit: limit}
}

// Push records entry, discarding anything that was undone before
func (s *Stack) Push(entry Entry) {
	entry = Entry{
		Kind:     entry.Kind,
		Objects:  canvas.CloneAll(entry.Objects),
		Previous: canvas.CloneAll(entry.Previous),
	}

	s.entries = append(s.entries[:s.cursor+1], entry)
	if s.limit > 0 && len(s.entries) > s.limit {
		drop := len(s.entries) - s.limit
		s.entries = append([]Entry(nil), s.entries[drop:]...)
	}
	s.cursor = len(s.entries) - 1
}

// Undo reverts the entry at the cursor through e. It returns false when
// there is nothing to undo. If e fails the cursor does not move.
func (s *Stack) Undo(e Effect) (bool, error) {
	if s.cursor < 0 {
		return false, nil
	}
	entry := s.entries[s.cursor]
	var err error
	switch entry.Kind {
	case EntryAdd:
		err = e.Remove(canvas.CloneAll(entry.Objects))
	case EntryRemove:
		err = e.Restore(canvas.CloneAll(entry.Objects))
	case EntryModify:
		err = e.Replace(canvas.CloneAll(entry.Previous))
	}
	if err != nil {
		return false, err
	}
	s.cursor--
	return true, nil
}

// Redo re-applies the entry after the cursor through e. It returns false
// when there is nothing to redo. If e fails the cursor does not move.
func (s *Stack) Redo(e Effect) (bool, error) {
	if s.cursor+1 >= len(s.entries) {
		return false, nil
	}
	entry := s.entries[s.cursor+1]
	var err error
	switch entry.Kind {
	case EntryAdd:
		err = e.Restore(canvas.CloneAll(entry.Objects))
	case EntryRemove:
		err = e.Remove(canvas.CloneAll(entry.Objects))
	case EntryModify:
		err = e.Replace(canvas.CloneAll(entry.Objects))
	}
	if err != nil {
		return false, err
	}
	s.cursor++
	return true, nil
}

func (s *Stack) CanUndo() bool { return s.cursor >= 0 }

func (s *Stack) CanRedo() bool { return s.cursor+1 < len(s.entries) }

// Len returns the number of stored entries, including undone ones
func (s *Stack) Len() int { return len(s.entries) }

// Reset drops all entries
func (s *Stack) Reset() {
	s.entries = nil
	s.cursor = -1
}
