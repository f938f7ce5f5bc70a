package session

import (
	"errors"
	"testing"

	"github.com/tdewolff/test"

	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
)

type renderLog struct {
	calls []string
}

func (r *renderLog) RenderAdd(objs []canvas.Object) { r.calls = append(r.calls, "add") }
func (r *renderLog) RenderModify(obj canvas.Object) { r.calls = append(r.calls, "modify") }
func (r *renderLog) RenderRemove(ids []string) { r.calls = append(r.calls, "remove") }
func (r *renderLog) RenderClear() { r.calls = append(r.calls, "clear") }

type observerLog struct {
	states  []State
	rosters [][]protocol.Participant
	reasons []string
}

func (o *observerLog) StateChanged(state State) { o.states = append(o.states, state) }
func (o *observerLog) RosterChanged(roster []protocol.Participant) {
	o.rosters = append(o.rosters, roster)
}
func (o *observerLog) JoinFailed(reason string) { o.reasons = append(o.reasons, reason) }

var black = canvas.Style{StrokeColor: "#000000", StrokeWidth: 2}

// activeSession returns a session that behaves as if it had joined a room,
// with its outgoing queue exposed.
func activeSession(t *testing.T) (*Session, *link, *renderLog) {
	t.Helper()
	r := &renderLog{}
	s := New(Config{RoomID: "ABC123", DisplayName: "Alice", Renderer: r, SendBuffer: 64})
	l := newLink(nil, 64)
	s.link = l
	s.state = Active
	s.connectionID = "conn-a"
	return s, l, r
}

func sent(t *testing.T, l *link) []protocol.Operation {
	t.Helper()
	var ops []protocol.Operation
	for {
		select {
		case b := <-l.send:
			msg, err := protocol.Decode(b)
			test.Error(t, err)
			test.T(t, msg.Type, protocol.TypeOperation)
			test.T(t, msg.RoomID, "ABC123")
			op, err := msg.DecodeOperation()
			test.Error(t, err)
			ops = append(ops, op)
		default:
			return ops
		}
	}
}

func remote(t *testing.T, seq uint64, op protocol.Operation) []byte {
	t.Helper()
	b, err := protocol.Encode(protocol.TypeOperation, "ABC123", seq, op)
	test.Error(t, err)
	return b
}

func stroke() canvas.PathGeometry {
	return canvas.PathGeometry{Points: []canvas.Point{{X: 0, Y: 0}, {X: 3, Y: 4}}}
}

func TestActionsRequireActive(t *testing.T) {
	s := New(Config{RoomID: "ABC123"})
	_, err := s.Draw(canvas.KindPath, stroke(), black)
	test.That(t, errors.Is(err, ErrNotActive))
	test.That(t, errors.Is(s.Clear(), ErrNotActive))
	_, err = s.Undo()
	test.That(t, errors.Is(err, ErrNotActive))
	_, err = s.Redo()
	test.That(t, errors.Is(err, ErrNotActive))
	test.T(t, len(s.Objects()), 0)
	test.That(t, !s.CanUndo())
}

func TestDrawEmitsOneAdd(t *testing.T) {
	s, l, r := activeSession(t)
	obj, err := s.Draw(canvas.KindPath, stroke(), black)
	test.Error(t, err)
	test.T(t, obj.OwnerID, "conn-a")

	ops := sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Kind, protocol.OpAdd)
	test.T(t, canvas.IDs(ops[0].Objects), []string{obj.ID})
	test.That(t, s.CanUndo())
	test.T(t, r.calls, []string{"add"})
}

func TestDrawFailsWhenChannelLost(t *testing.T) {
	s, l, _ := activeSession(t)
	l.close()
	_, err := s.Draw(canvas.KindPath, stroke(), black)
	test.That(t, errors.Is(err, ErrChannelLost))
	test.T(t, len(s.Objects()), 0)
	test.That(t, !s.CanUndo())
}

func TestUndoRedoDraw(t *testing.T) {
	s, l, _ := activeSession(t)
	obj, err := s.Draw(canvas.KindPath, stroke(), black)
	test.Error(t, err)
	sent(t, l)
	before := s.Objects()

	ok, err := s.Undo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, len(s.Objects()), 0)

	ok, err = s.Redo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, s.Objects(), before)

	ops := sent(t, l)
	test.T(t, len(ops), 2)
	test.T(t, ops[0].Kind, protocol.OpRemove)
	test.T(t, ops[0].Targets, []string{obj.ID})
	test.T(t, ops[1].Kind, protocol.OpAdd)
	test.That(t, ops[1].Objects[0].Equal(obj))
}

func TestUndoRedoModify(t *testing.T) {
	s, l, _ := activeSession(t)
	obj, err := s.Draw(canvas.KindLine, canvas.LineGeometry{X2: 5, Y2: 5}, black)
	test.Error(t, err)

	red := "#ff0000"
	modified, err := s.Modify(obj.ID, canvas.Patch{StrokeColor: &red})
	test.Error(t, err)
	test.T(t, modified.Style.StrokeColor, red)
	sent(t, l)

	ok, err := s.Undo()
	test.That(t, ok)
	test.Error(t, err)
	test.That(t, s.Objects()[0].Equal(obj))

	ok, err = s.Redo()
	test.That(t, ok)
	test.Error(t, err)
	test.That(t, s.Objects()[0].Equal(modified))

	ops := sent(t, l)
	test.T(t, len(ops), 2)
	test.T(t, ops[0].Kind, protocol.OpModify)
	test.T(t, *ops[0].Patch.StrokeColor, "#000000")
	test.T(t, *ops[1].Patch.StrokeColor, red)
}

func TestModifyUnknownTarget(t *testing.T) {
	s, l, _ := activeSession(t)
	width := 4.0
	_, err := s.Modify("missing", canvas.Patch{StrokeWidth: &width})
	test.That(t, errors.Is(err, canvas.ErrUnknownTargetObject))
	test.T(t, len(sent(t, l)), 0)
	test.That(t, !s.CanUndo())
}

func TestClearIsSingleOperation(t *testing.T) {
	s, l, r := activeSession(t)
	for i := 0; i < 5; i++ {
		_, err := s.Draw(canvas.KindPath, stroke(), black)
		test.Error(t, err)
	}
	before := s.Objects()
	sent(t, l)
	r.calls = nil

	test.Error(t, s.Clear())
	ops := sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Kind, protocol.OpClear)
	test.T(t, len(s.Objects()), 0)
	test.T(t, r.calls, []string{"clear"})

	// undo restores every object with a single add
	ok, err := s.Undo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, s.Objects(), before)
	ops = sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Kind, protocol.OpAdd)
	test.T(t, len(ops[0].Objects), 5)

	// redo of a clear removes exactly what was cleared
	ok, err = s.Redo()
	test.That(t, ok)
	test.Error(t, err)
	ops = sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Kind, protocol.OpRemove)
	test.T(t, ops[0].Targets, canvas.IDs(before))
}

func TestRemoveAndUndo(t *testing.T) {
	s, l, _ := activeSession(t)
	a, _ := s.Draw(canvas.KindPath, stroke(), black)
	b, _ := s.Draw(canvas.KindPath, stroke(), black)
	sent(t, l)

	test.Error(t, s.Remove(a.ID, "missing"))
	ops := sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Targets, []string{a.ID})
	test.T(t, canvas.IDs(s.Objects()), []string{b.ID})

	ok, _ := s.Undo()
	test.That(t, ok)
	test.T(t, canvas.IDs(s.Objects()), []string{b.ID, a.ID})

	err := s.Remove("missing")
	test.That(t, errors.Is(err, canvas.ErrUnknownTargetObject))
}

func TestRemoteOperations(t *testing.T) {
	s, l, r := activeSession(t)
	obj, err := canvas.NewObject("remote-1", canvas.KindRect, "conn-b", canvas.RectGeometry{Width: 3, Height: 2}, black)
	test.Error(t, err)

	s.handleMessage(l, remote(t, 1, protocol.NewAdd("op1", obj)))
	test.T(t, canvas.IDs(s.Objects()), []string{"remote-1"})

	// unknown targets are ignored without touching state
	width := 9.0
	s.handleMessage(l, remote(t, 2, protocol.NewModify("op2", "nope", canvas.Patch{StrokeWidth: &width})))
	s.handleMessage(l, remote(t, 3, protocol.NewRemove("op3", "nope")))
	test.That(t, s.Objects()[0].Equal(obj))

	s.handleMessage(l, remote(t, 4, protocol.NewModify("op4", "remote-1", canvas.Patch{StrokeWidth: &width})))
	test.T(t, s.Objects()[0].Style.StrokeWidth, 9.0)

	s.handleMessage(l, remote(t, 5, protocol.NewClear("op5")))
	test.T(t, len(s.Objects()), 0)

	test.T(t, r.calls, []string{"add", "modify", "clear"})
	test.T(t, len(sent(t, l)), 0)
	test.That(t, !s.CanUndo(), "remote operations never enter local history")
	test.T(t, s.Gaps(), uint64(0))
}

func TestUndoAfterRemoteRemovalIsNoop(t *testing.T) {
	s, l, _ := activeSession(t)
	obj, _ := s.Draw(canvas.KindPath, stroke(), black)
	sent(t, l)

	s.handleMessage(l, remote(t, 1, protocol.NewRemove("op1", obj.ID)))
	test.T(t, len(s.Objects()), 0)

	ok, err := s.Undo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, len(sent(t, l)), 0)
}

func TestMalformedRemoteOperationDropped(t *testing.T) {
	s, l, _ := activeSession(t)
	s.handleMessage(l, []byte(`{"type":"operation","sequence":1,"data":{"v":1,"opId":"x","kind":"spray"}}`))
	s.handleMessage(l, []byte(`garbage`))
	test.T(t, len(s.Objects()), 0)
	test.T(t, s.State(), Active)
}

func TestSequenceGaps(t *testing.T) {
	s, l, _ := activeSession(t)
	s.lastSeq = 10
	s.handleMessage(l, remote(t, 11, protocol.NewClear("a")))
	s.handleMessage(l, remote(t, 14, protocol.NewClear("b")))
	s.handleMessage(l, remote(t, 15, protocol.NewClear("c")))
	test.T(t, s.Gaps(), uint64(1))
}

func TestRosterReplacedWholesale(t *testing.T) {
	o := &observerLog{}
	s := New(Config{RoomID: "ABC123", Observer: o})
	l := newLink(nil, 4)

	roster := func(names ...string) []byte {
		var ps []protocol.Participant
		for _, n := range names {
			ps = append(ps, protocol.Participant{ConnectionID: n, DisplayName: n, RoomID: "ABC123"})
		}
		b, err := protocol.Encode(protocol.TypeRoster, "ABC123", 0, protocol.Roster{Participants: ps})
		test.Error(t, err)
		return b
	}

	s.handleMessage(l, roster("A", "B"))
	s.handleMessage(l, roster("B"))
	test.T(t, len(s.Roster()), 1)
	test.T(t, s.Roster()[0].DisplayName, "B")
	test.T(t, len(o.rosters), 2)
}

func TestJoinAckActivates(t *testing.T) {
	o := &observerLog{}
	r := &renderLog{}
	s := New(Config{RoomID: "ABC123", Observer: o, Renderer: r})
	l := newLink(nil, 4)
	s.link = l
	s.state = Joining

	obj, _ := canvas.NewObject("snap-1", canvas.KindPath, "x", stroke(), black)
	b, err := protocol.Encode(protocol.TypeJoinAck, "ABC123", 7, protocol.JoinAck{
		RoomID: "ABC123", ConnectionID: "conn-a", Sequence: 7, Snapshot: true, Objects: []canvas.Object{obj},
	})
	test.Error(t, err)
	s.handleMessage(l, b)

	test.T(t, s.State(), Active)
	test.T(t, s.ConnectionID(), "conn-a")
	test.T(t, canvas.IDs(s.Objects()), []string{"snap-1"})
	test.T(t, o.states, []State{Active})
	test.T(t, r.calls, []string{"clear", "add"})
	test.Error(t, <-l.joinErr)
}

func TestJoinErrorReported(t *testing.T) {
	o := &observerLog{}
	s := New(Config{Observer: o})
	l := newLink(nil, 4)
	s.link = l
	s.state = Joining

	b, err := protocol.Encode(protocol.TypeJoinError, "", 0, protocol.JoinError{Reason: "InvalidRoomId"})
	test.Error(t, err)
	s.handleMessage(l, b)

	test.T(t, o.reasons, []string{"InvalidRoomId"})
	test.That(t, errors.Is(<-l.joinErr, ErrJoinRejected))
	test.T(t, s.State(), Joining)
}

func TestLoseMovesState(t *testing.T) {
	s, l, _ := activeSession(t)
	s.lose(l)
	test.T(t, s.State(), Disconnected)
	_, err := s.Draw(canvas.KindPath, stroke(), black)
	test.That(t, errors.Is(err, ErrNotActive))

	s, l, _ = activeSession(t)
	s.cfg.Reconnect = true
	s.lose(l)
	test.T(t, s.State(), Reconnecting)

	// a stale link does not touch the state
	s.state = Active
	s.link = newLink(nil, 4)
	s.lose(l)
	test.T(t, s.State(), Active)
}

func TestUndoRedoKeepStateWhenQueueFull(t *testing.T) {
	s, _, r := activeSession(t)
	l := newLink(nil, 1)
	s.link = l

	obj, err := s.Draw(canvas.KindPath, stroke(), black)
	test.Error(t, err)
	r.calls = nil

	// the add still occupies the only slot
	ok, err := s.Undo()
	test.That(t, !ok)
	test.That(t, errors.Is(err, ErrChannelLost), err)
	test.T(t, canvas.IDs(s.Objects()), []string{obj.ID})
	test.That(t, s.CanUndo())
	test.That(t, !s.CanRedo())
	test.T(t, len(r.calls), 0)

	sent(t, l)
	ok, err = s.Undo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, len(s.Objects()), 0)

	ok, err = s.Redo()
	test.That(t, !ok)
	test.That(t, errors.Is(err, ErrChannelLost), err)
	test.T(t, len(s.Objects()), 0)
	test.That(t, s.CanRedo())

	ops := sent(t, l)
	test.T(t, len(ops), 1)
	test.T(t, ops[0].Kind, protocol.OpRemove)
	ok, err = s.Redo()
	test.That(t, ok)
	test.Error(t, err)
	test.T(t, canvas.IDs(s.Objects()), []string{obj.ID})
}
