package history

import (
	"errors"
	"testing"

	"github.com/tdewolff/test"

	"drawing-board/internal/canvas"
)

// modelEffect applies steps to a model and records what it was asked to do
type modelEffect struct {
	m     *canvas.Model
	calls []string
	fail  error
}

func (e *modelEffect) Remove(objs []canvas.Object) error {
	e.calls = append(e.calls, "remove")
	if e.fail != nil {
		return e.fail
	}
	for _, o := range objs {
		e.m.Remove(o.ID)
	}
	return nil
}

func (e *modelEffect) Restore(objs []canvas.Object) error {
	e.calls = append(e.calls, "restore")
	if e.fail != nil {
		return e.fail
	}
	for _, o := range objs {
		e.m.Add(o)
	}
	return nil
}

func (e *modelEffect) Replace(objs []canvas.Object) error {
	e.calls = append(e.calls, "replace")
	if e.fail != nil {
		return e.fail
	}
	for _, o := range objs {
		e.m.Modify(o.ID, canvas.PatchFrom(o))
	}
	return nil
}

// undo and redo drop the error for tests that never fail
func undo(s *Stack, e Effect) bool {
	ok, err := s.Undo(e)
	return ok && err == nil
}

func redo(s *Stack, e Effect) bool {
	ok, err := s.Redo(e)
	return ok && err == nil
}

func rect(id string, width float64) canvas.Object {
	obj, err := canvas.NewObject(id, canvas.KindRect, "me", canvas.RectGeometry{Width: width, Height: 1}, canvas.Style{StrokeColor: "#000000", StrokeWidth: 1})
	if err != nil {
		panic(err)
	}
	return obj
}

func TestUndoRedoAdd(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)

	obj := rect("a", 1)
	e.m.Add(obj)
	s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{obj}})
	before := e.m.Objects()

	test.That(t, undo(s, e))
	test.T(t, e.m.Len(), 0)
	test.That(t, redo(s, e))
	test.T(t, e.m.Objects(), before)
	test.T(t, e.calls, []string{"remove", "restore"})
}

func TestUndoRedoRemove(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)

	a, b := rect("a", 1), rect("b", 2)
	e.m.Add(a)
	e.m.Add(b)
	e.m.Clear()
	s.Push(Entry{Kind: EntryRemove, Objects: []canvas.Object{a, b}})

	test.That(t, undo(s, e))
	test.T(t, canvas.IDs(e.m.Objects()), []string{"a", "b"})
	test.That(t, redo(s, e))
	test.T(t, e.m.Len(), 0)
}

func TestUndoRedoModify(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)

	before := rect("a", 1)
	after := rect("a", 5)
	e.m.Add(after)
	s.Push(Entry{Kind: EntryModify, Objects: []canvas.Object{after}, Previous: []canvas.Object{before}})

	test.That(t, undo(s, e))
	got, _ := e.m.Get("a")
	test.That(t, got.Equal(before))

	test.That(t, redo(s, e))
	got, _ = e.m.Get("a")
	test.That(t, got.Equal(after))
}

func TestUndoOnEmptyIsNoop(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)
	test.That(t, !undo(s, e))
	test.That(t, !redo(s, e))
	test.T(t, len(e.calls), 0)
}

func TestPushTruncatesRedoTail(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)
	for _, id := range []string{"a", "b", "c"} {
		obj := rect(id, 1)
		e.m.Add(obj)
		s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{obj}})
	}

	test.That(t, undo(s, e))
	test.That(t, undo(s, e))
	test.That(t, s.CanRedo())

	d := rect("d", 1)
	e.m.Add(d)
	s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{d}})

	test.T(t, s.Len(), 2)
	test.That(t, !s.CanRedo())
	test.That(t, !redo(s, e))

	test.That(t, undo(s, e))
	test.That(t, undo(s, e))
	test.That(t, !s.CanUndo())
	test.T(t, e.m.Len(), 0)
}

func TestEntriesCapturedByValue(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)

	obj := rect("a", 1)
	e.m.Add(obj)
	s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{obj}})

	// later mutation of the caller's value and of the live object
	obj.Geometry[0] = 'X'
	width := 42.0
	e.m.Modify("a", canvas.Patch{StrokeWidth: &width})

	test.That(t, undo(s, e))
	test.That(t, redo(s, e))
	got, _ := e.m.Get("a")
	test.That(t, got.Equal(rect("a", 1)), "redo must restore the captured state, got", got)
}

func TestLimitDropsOldest(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(2)
	for _, id := range []string{"a", "b", "c"} {
		obj := rect(id, 1)
		e.m.Add(obj)
		s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{obj}})
	}
	test.T(t, s.Len(), 2)
	test.That(t, undo(s, e))
	test.That(t, undo(s, e))
	test.That(t, !undo(s, e))
	test.T(t, canvas.IDs(e.m.Objects()), []string{"a"})

	s.Reset()
	test.T(t, s.Len(), 0)
	test.That(t, !s.CanUndo())
}

func TestFailedStepKeepsCursor(t *testing.T) {
	e := &modelEffect{m: canvas.NewModel()}
	s := NewStack(0)

	obj := rect("a", 1)
	e.m.Add(obj)
	s.Push(Entry{Kind: EntryAdd, Objects: []canvas.Object{obj}})

	lost := errors.New("lost")
	e.fail = lost
	ok, err := s.Undo(e)
	test.That(t, !ok)
	test.That(t, errors.Is(err, lost))
	test.That(t, s.CanUndo())
	test.That(t, !s.CanRedo())
	test.T(t, e.m.Len(), 1)

	e.fail = nil
	test.That(t, undo(s, e))
	e.fail = lost
	ok, err = s.Redo(e)
	test.That(t, !ok)
	test.That(t, errors.Is(err, lost))
	test.That(t, s.CanRedo())
	test.T(t, e.m.Len(), 0)
}
