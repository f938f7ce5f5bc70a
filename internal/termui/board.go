package termui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"

	"drawing-board/internal/canvas"
	"drawing-board/internal/export"
	"drawing-board/internal/protocol"
	"drawing-board/internal/session"
)

// Canvas is what the board drives. *session.Session implements it.
type Canvas interface {
	Objects() []canvas.Object
	Draw(kind canvas.Kind, geometry any, style canvas.Style) (canvas.Object, error)
	Clear() error
	Undo() (bool, error)
	Redo() (bool, error)
}

// Tool is the active drawing tool
type Tool int

const (
	ToolNone Tool = iota
	ToolPen
	ToolLine
	ToolRect
)

func (t Tool) String() string {
	switch t {
	case ToolPen:
		return "pen"
	case ToolLine:
		return "line"
	case ToolRect:
		return "rect"
	}
	return "move"
}

// Palette selectable with the keys 1 to 4
var Palette = []string{"#ffffff", "#e74c3c", "#2ecc71", "#3498db"}

// canvas rows start below the status line
const headerRows = 1

// Board is a terminal drawing surface. It renders a Canvas and turns key
// presses into drawing actions. It implements session.Renderer and
// session.Observer by scheduling redraws, so it never calls back into the
// session from those hooks.
type Board struct {
	screen tcell.Screen
	roomID string
	name   string
	file   string

	mu      sync.Mutex
	canvas  Canvas
	cursor  Cell
	tool    Tool
	anchor  *Cell
	pen     []canvas.Point
	color   int
	state   session.State
	roster  []protocol.Participant
	message string
}

// New creates a board on an initialized screen
func New(screen tcell.Screen, roomID, name string) *Board {
	return &Board{
		screen: screen,
		roomID: roomID,
		name:   name,
		file:   "board.png",
	}
}

// SetExportFile sets where the save key writes the board. The extension
// picks the format.
func (b *Board) SetExportFile(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.file = name
}

// Attach sets the canvas the board drives
func (b *Board) Attach(c Canvas) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canvas = c
}

func (b *Board) RenderAdd([]canvas.Object) { b.invalidate() }
func (b *Board) RenderModify(canvas.Object) { b.invalidate() }
func (b *Board) RenderRemove([]string) { b.invalidate() }
func (b *Board) RenderClear() { b.invalidate() }

func (b *Board) StateChanged(state session.State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.invalidate()
}

func (b *Board) RosterChanged(roster []protocol.Participant) {
	b.mu.Lock()
	b.roster = roster
	b.mu.Unlock()
	b.invalidate()
}

func (b *Board) JoinFailed(reason string) {
	b.mu.Lock()
	b.message = "join rejected: " + reason
	b.mu.Unlock()
	b.invalidate()
}

// Notify shows a message in the status line
func (b *Board) Notify(msg string) {
	b.mu.Lock()
	b.message = msg
	b.mu.Unlock()
	b.invalidate()
}

type quitEvent struct{}

func (b *Board) invalidate() {
	// a full queue already holds a pending redraw
	_ = b.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

// Run processes input until the user quits or ctx is done
func (b *Board) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = b.screen.PostEvent(tcell.NewEventInterrupt(quitEvent{}))
	}()

	b.Draw()
	for {
		ev := b.screen.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return
		case *tcell.EventKey:
			if !b.HandleKey(ev) {
				return
			}
		case *tcell.EventResize:
			b.screen.Sync()
		case *tcell.EventInterrupt:
			if _, quit := ev.Data().(quitEvent); quit {
				return
			}
		}
		b.Draw()
	}
}

// HandleKey applies one key press. It returns false when the user quits.
func (b *Board) HandleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		b.move(0, -1)
	case tcell.KeyDown:
		b.move(0, 1)
	case tcell.KeyLeft:
		b.move(-1, 0)
	case tcell.KeyRight:
		b.move(1, 0)
	case tcell.KeyRune:
		return b.handleRune(ev.Rune())
	}
	return true
}

func (b *Board) handleRune(r rune) bool {
	if r == 'q' {
		return false
	}
	c := b.currentCanvas()
	if c == nil {
		return true
	}

	switch r {
	case 'p':
		b.togglePen()
	case 'l':
		b.place(ToolLine)
	case 'r':
		b.place(ToolRect)
	case 'u':
		b.step("undo", c.Undo)
	case 'y':
		b.step("redo", c.Redo)
	case 'c':
		b.report("clear", c.Clear())
	case 's':
		b.save(c)
	case '1', '2', '3', '4':
		b.mu.Lock()
		b.color = int(r - '1')
		b.mu.Unlock()
	}
	return true
}

func (b *Board) move(dx, dy int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, h := b.screen.Size()
	b.cursor.X = clamp(b.cursor.X+dx, 0, w-1)
	b.cursor.Y = clamp(b.cursor.Y+dy, 0, h-headerRows-1)
	if b.tool == ToolPen {
		b.pen = append(b.pen, canvas.Point{X: float64(b.cursor.X), Y: float64(b.cursor.Y)})
	}
}

func (b *Board) togglePen() {
	b.mu.Lock()
	if b.tool != ToolPen {
		b.tool = ToolPen
		b.anchor = nil
		b.pen = []canvas.Point{{X: float64(b.cursor.X), Y: float64(b.cursor.Y)}}
		b.mu.Unlock()
		return
	}
	points := b.pen
	b.tool = ToolNone
	b.pen = nil
	style := b.style()
	c := b.canvas
	b.mu.Unlock()

	_, err := c.Draw(canvas.KindPath, canvas.PathGeometry{Points: points}, style)
	b.report("draw", err)
}

// place sets the first corner of a line or rect, or commits the shape on
// the second press.
func (b *Board) place(tool Tool) {
	b.mu.Lock()
	if b.tool != tool || b.anchor == nil {
		anchor := b.cursor
		b.tool = tool
		b.anchor = &anchor
		b.pen = nil
		b.mu.Unlock()
		return
	}
	from, to := *b.anchor, b.cursor
	b.tool = ToolNone
	b.anchor = nil
	style := b.style()
	c := b.canvas
	b.mu.Unlock()

	var err error
	if tool == ToolLine {
		_, err = c.Draw(canvas.KindLine, canvas.LineGeometry{
			X1: float64(from.X), Y1: float64(from.Y),
			X2: float64(to.X), Y2: float64(to.Y),
		}, style)
	} else {
		_, err = c.Draw(canvas.KindRect, canvas.RectGeometry{
			Left:   float64(min(from.X, to.X)),
			Top:    float64(min(from.Y, to.Y)),
			Width:  float64(abs(to.X - from.X)),
			Height: float64(abs(to.Y - from.Y)),
		}, style)
	}
	b.report("draw", err)
}

func (b *Board) step(what string, fn func() (bool, error)) {
	ok, err := fn()
	if err == nil && !ok {
		b.Notify("nothing to " + what)
		return
	}
	b.report(what, err)
}

func (b *Board) save(c Canvas) {
	b.mu.Lock()
	file := b.file
	b.mu.Unlock()

	if err := export.Write(file, c.Objects()); err != nil {
		b.report("save", err)
		return
	}
	log.Printf("[Board] Saved board to %s", file)
	b.Notify("saved " + file)
}

func (b *Board) report(what string, err error) {
	if err == nil {
		b.Notify("")
		return
	}
	log.Printf("[Board] %s failed: %v", what, err)
	if errors.Is(err, session.ErrNotActive) {
		b.Notify(what + ": not connected")
		return
	}
	b.Notify(fmt.Sprintf("%s: %v", what, err))
}

func (b *Board) currentCanvas() Canvas {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canvas
}

// style returns the stroke style for new objects. Callers hold b.mu.
func (b *Board) style() canvas.Style {
	return canvas.Style{StrokeColor: Palette[b.color], StrokeWidth: 1}
}

// Draw repaints the whole screen
func (b *Board) Draw() {
	c := b.currentCanvas()
	var objs []canvas.Object
	if c != nil {
		objs = c.Objects()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.screen.Clear()
	for _, obj := range objs {
		cells, err := Rasterize(obj)
		if err != nil {
			log.Printf("[Board] Skipping object %s: %v", obj.ID, err)
			continue
		}
		style := tcell.StyleDefault.Foreground(tcell.GetColor(obj.Style.StrokeColor))
		glyph := glyphFor(obj.Kind)
		for _, cell := range cells {
			b.screen.SetContent(cell.X, cell.Y+headerRows, glyph, nil, style)
		}
	}

	preview := tcell.StyleDefault.Foreground(tcell.GetColor(Palette[b.color]))
	for _, cell := range rasterPath(b.pen) {
		b.screen.SetContent(cell.X, cell.Y+headerRows, '*', nil, preview)
	}
	if b.anchor != nil {
		b.screen.SetContent(b.anchor.X, b.anchor.Y+headerRows, 'x', nil, preview)
	}
	b.screen.SetContent(b.cursor.X, b.cursor.Y+headerRows, '@', nil, preview.Bold(true))

	drawText(b.screen, 0, 0, tcell.StyleDefault.Reverse(true), b.statusLine())
	b.screen.Show()
}

func (b *Board) statusLine() string {
	names := make([]string, 0, len(b.roster))
	for _, p := range b.roster {
		names = append(names, p.DisplayName)
	}
	line := fmt.Sprintf(" %s@%s | %s | %s | tool: %s | [p]en [l]ine [r]ect [u]ndo [y]redo [c]lear [s]ave [1-4] color [q]uit",
		b.name, b.roomID, b.state, strings.Join(names, ", "), b.tool)
	if b.message != "" {
		line += " | " + b.message
	}
	return line
}

func glyphFor(kind canvas.Kind) rune {
	switch kind {
	case canvas.KindLine:
		return '+'
	case canvas.KindRect:
		return '#'
	}
	return '*'
}

// drawText draws a string starting at x, y
func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range []rune(text) {
		screen.SetContent(x+i, y, r, nil, style)
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
