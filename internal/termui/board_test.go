package termui

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/tdewolff/test"

	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
	"drawing-board/internal/session"
)

type fakeCanvas struct {
	objs   []canvas.Object
	undos  int
	redos  int
	clears int
	err    error
}

func (f *fakeCanvas) Objects() []canvas.Object { return canvas.CloneAll(f.objs) }

func (f *fakeCanvas) Draw(kind canvas.Kind, geometry any, style canvas.Style) (canvas.Object, error) {
	if f.err != nil {
		return canvas.Object{}, f.err
	}
	obj, err := canvas.NewObject("obj", kind, "me", geometry, style)
	if err != nil {
		return canvas.Object{}, err
	}
	f.objs = append(f.objs, obj)
	return obj, nil
}

func (f *fakeCanvas) Clear() error {
	f.clears++
	f.objs = nil
	return f.err
}

func (f *fakeCanvas) Undo() (bool, error) {
	f.undos++
	return len(f.objs) > 0, f.err
}

func (f *fakeCanvas) Redo() (bool, error) {
	f.redos++
	return false, f.err
}

func newBoard(t *testing.T) (*Board, *fakeCanvas, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	test.Error(t, screen.Init())
	screen.SetSize(80, 24)
	t.Cleanup(screen.Fini)

	c := &fakeCanvas{}
	b := New(screen, "ABC123", "Alice")
	b.Attach(c)
	return b, c, screen
}

func key(k tcell.Key) *tcell.EventKey {
	return tcell.NewEventKey(k, 0, tcell.ModNone)
}

func char(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func press(b *Board, evs ...*tcell.EventKey) bool {
	for _, ev := range evs {
		if !b.HandleKey(ev) {
			return false
		}
	}
	return true
}

func TestBoardDrawsLine(t *testing.T) {
	b, c, screen := newBoard(t)
	test.That(t, press(b, char('l'), key(tcell.KeyRight), key(tcell.KeyRight), key(tcell.KeyRight), char('l')))

	test.T(t, len(c.objs), 1)
	test.T(t, c.objs[0].Kind, canvas.KindLine)
	var g canvas.LineGeometry
	test.Error(t, c.objs[0].DecodeGeometry(&g))
	test.T(t, g, canvas.LineGeometry{X1: 0, Y1: 0, X2: 3, Y2: 0})

	b.Draw()
	for x := 0; x < 3; x++ {
		r, _, _, _ := screen.GetContent(x, headerRows)
		test.T(t, r, '+')
	}
	r, _, _, _ := screen.GetContent(3, headerRows)
	test.T(t, r, '@', "cursor is drawn on top")
}

func TestBoardDrawsRect(t *testing.T) {
	b, c, _ := newBoard(t)
	press(b, key(tcell.KeyRight), key(tcell.KeyRight), char('r'), key(tcell.KeyLeft), key(tcell.KeyLeft), key(tcell.KeyDown), char('r'))

	test.T(t, len(c.objs), 1)
	var g canvas.RectGeometry
	test.Error(t, c.objs[0].DecodeGeometry(&g))
	test.T(t, g, canvas.RectGeometry{Left: 0, Top: 0, Width: 2, Height: 1})
}

func TestBoardPen(t *testing.T) {
	b, c, _ := newBoard(t)
	press(b, char('3'), char('p'), key(tcell.KeyDown), key(tcell.KeyRight), char('p'))

	test.T(t, len(c.objs), 1)
	test.T(t, c.objs[0].Style.StrokeColor, Palette[2])
	var g canvas.PathGeometry
	test.Error(t, c.objs[0].DecodeGeometry(&g))
	test.T(t, g.Points, []canvas.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}})
}

func TestBoardHistoryKeys(t *testing.T) {
	b, c, _ := newBoard(t)
	press(b, char('u'), char('y'), char('c'))
	test.T(t, c.undos, 1)
	test.T(t, c.redos, 1)
	test.T(t, c.clears, 1)
	test.That(t, !press(b, char('q')))
	test.That(t, !press(b, key(tcell.KeyEscape)))
}

func TestBoardCursorStaysOnScreen(t *testing.T) {
	b, _, _ := newBoard(t)
	press(b, key(tcell.KeyLeft), key(tcell.KeyUp))
	test.T(t, b.cursor, Cell{0, 0})
	for i := 0; i < 100; i++ {
		press(b, key(tcell.KeyDown), key(tcell.KeyRight))
	}
	test.T(t, b.cursor, Cell{79, 24 - headerRows - 1})
}

func TestBoardStatusLine(t *testing.T) {
	b, c, _ := newBoard(t)
	b.StateChanged(session.Active)
	b.RosterChanged([]protocol.Participant{{DisplayName: "Alice"}, {DisplayName: "Bob"}})

	c.err = session.ErrNotActive
	press(b, char('c'))

	line := b.statusLine()
	test.That(t, strings.Contains(line, "Alice@ABC123"))
	test.That(t, strings.Contains(line, "active"))
	test.That(t, strings.Contains(line, "Alice, Bob"))
	test.That(t, strings.Contains(line, "clear: not connected"), line)

	b.JoinFailed("InvalidRoomId")
	test.That(t, strings.Contains(b.statusLine(), "join rejected: InvalidRoomId"))

	c.err = errors.New("boom")
	press(b, char('u'))
	test.That(t, strings.Contains(b.statusLine(), "undo: boom"))
}

func TestBoardSaves(t *testing.T) {
	b, c, _ := newBoard(t)
	press(b, char('l'), key(tcell.KeyRight), key(tcell.KeyDown), char('l'))
	test.T(t, len(c.objs), 1)

	file := filepath.Join(t.TempDir(), "board.png")
	b.SetExportFile(file)
	press(b, char('s'))
	test.That(t, strings.Contains(b.statusLine(), "saved "+file))

	data, err := os.ReadFile(file)
	test.Error(t, err)
	test.That(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	b.SetExportFile(filepath.Join(t.TempDir(), "missing", "board.png"))
	press(b, char('s'))
	test.That(t, strings.Contains(b.statusLine(), "save: "))
}
