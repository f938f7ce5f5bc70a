package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawing-board/internal/canvas"
	"drawing-board/internal/history"
	"drawing-board/internal/protocol"
)

var (
	ErrNotActive    = errors.New("session not active")
	ErrChannelLost  = errors.New("channel to server lost")
	ErrJoinRejected = errors.New("join rejected")
	ErrClosed       = errors.New("session closed")
)

// State of the connection to the room
type State int

const (
	Disconnected State = iota
	Connecting
	Joining
	Active
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Renderer draws model changes. Calls happen with the session locked, so
// implementations must not call back into the Session.
type Renderer interface {
	RenderAdd(objs []canvas.Object)
	RenderModify(obj canvas.Object)
	RenderRemove(ids []string)
	RenderClear()
}

// Observer is told about connection state, presence and rejected joins.
// The same restriction as for Renderer applies.
type Observer interface {
	StateChanged(state State)
	RosterChanged(roster []protocol.Participant)
	JoinFailed(reason string)
}

type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8080/ws
	ServerURL   string
	RoomID      string
	DisplayName string

	// Reconnect makes Run re-establish lost connections with exponential backoff
	Reconnect            bool
	MaxReconnectAttempts uint64
	ReconnectMinInterval time.Duration
	ReconnectMaxInterval time.Duration

	SendBuffer   int
	HistoryLimit int
	PingInterval time.Duration
	WriteTimeout time.Duration
	PongTimeout  time.Duration

	Renderer Renderer
	Observer Observer
	Dialer   *websocket.Dialer
}

// Session is one participant's view of a room: its local canvas, its undo
// history, and the channel to the server. A single mutex guards all of it.
type Session struct {
	cfg Config

	mu           sync.Mutex
	state        State
	model        *canvas.Model
	history      *history.Stack
	roster       []protocol.Participant
	connectionID string
	lastSeq      uint64
	gaps         uint64
	link         *link
	closed       bool
}

// New creates a disconnected session
func New(cfg Config) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.ReconnectMinInterval <= 0 {
		cfg.ReconnectMinInterval = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxInterval <= 0 {
		cfg.ReconnectMaxInterval = 30 * time.Second
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:     cfg,
		state:   Disconnected,
		model:   canvas.NewModel(),
		history: history.NewStack(cfg.HistoryLimit),
	}
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionID returns the id the server issued for the current connection
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Objects returns copies of the objects on the local canvas
func (s *Session) Objects() []canvas.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Objects()
}

// Roster returns the last participant list received from the server
func (s *Session) Roster() []protocol.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Participant(nil), s.roster...)
}

// Gaps returns how many sequence gaps were observed in received operations
func (s *Session) Gaps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaps
}

// CanUndo and CanRedo report whether the history has anything to step over
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo()
}

// Draw adds a new object of the given kind to the canvas
func (s *Session) Draw(kind canvas.Kind, geometry any, style canvas.Style) (canvas.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return canvas.Object{}, ErrNotActive
	}
	obj, err := canvas.NewObject(uuid.NewString(), kind, s.connectionID, geometry, style)
	if err != nil {
		return canvas.Object{}, err
	}
	if err := s.model.Add(obj); err != nil {
		return canvas.Object{}, err
	}
	if err := s.emit(protocol.NewAdd(uuid.NewString(), obj)); err != nil {
		s.model.Remove(obj.ID)
		return canvas.Object{}, err
	}
	s.history.Push(history.Entry{Kind: history.EntryAdd, Objects: []canvas.Object{obj}})
	s.cfg.Renderer.RenderAdd([]canvas.Object{obj.Clone()})
	return obj, nil
}

// Modify merges p into the object with the given id
func (s *Session) Modify(id string, p canvas.Patch) (canvas.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return canvas.Object{}, ErrNotActive
	}
	if p.Empty() {
		return canvas.Object{}, fmt.Errorf("%w: empty patch", canvas.ErrInvalidObject)
	}
	prev, ok := s.model.Get(id)
	if !ok {
		return canvas.Object{}, fmt.Errorf("%w: %s", canvas.ErrUnknownTargetObject, id)
	}
	next := p.ApplyTo(prev)
	if err := next.Validate(); err != nil {
		return canvas.Object{}, err
	}
	if err := s.emit(protocol.NewModify(uuid.NewString(), id, p)); err != nil {
		return canvas.Object{}, err
	}
	next, _ = s.model.Modify(id, p)
	s.history.Push(history.Entry{
		Kind:     history.EntryModify,
		Objects:  []canvas.Object{next},
		Previous: []canvas.Object{prev},
	})
	s.cfg.Renderer.RenderModify(next.Clone())
	return next, nil
}

// Remove deletes the given objects. Ids not on the canvas are ignored; if
// none is present nothing is emitted.
func (s *Session) Remove(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return ErrNotActive
	}
	var objs []canvas.Object
	for _, id := range ids {
		if obj, ok := s.model.Get(id); ok {
			objs = append(objs, obj)
		}
	}
	if len(objs) == 0 {
		return fmt.Errorf("%w: %v", canvas.ErrUnknownTargetObject, ids)
	}
	removed := canvas.IDs(objs)
	if err := s.emit(protocol.NewRemove(uuid.NewString(), removed...)); err != nil {
		return err
	}
	for _, id := range removed {
		s.model.Remove(id)
	}
	s.history.Push(history.Entry{Kind: history.EntryRemove, Objects: objs})
	s.cfg.Renderer.RenderRemove(removed)
	return nil
}

// Clear removes every object with a single clear operation. The history
// entry holds everything that was on the canvas.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return ErrNotActive
	}
	objs := s.model.Objects()
	if err := s.emit(protocol.NewClear(uuid.NewString())); err != nil {
		return err
	}
	s.model.Clear()
	if len(objs) > 0 {
		s.history.Push(history.Entry{Kind: history.EntryRemove, Objects: objs})
	}
	s.cfg.Renderer.RenderClear()
	return nil
}

// Undo reverts the latest local action. It returns false when there was
// nothing to undo. If the inverse operation cannot be sent the canvas and
// history are left as they were.
func (s *Session) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return false, ErrNotActive
	}
	return s.history.Undo(effect{s})
}

// Redo re-applies the latest undone action
func (s *Session) Redo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return false, ErrNotActive
	}
	return s.history.Redo(effect{s})
}

// effect carries history steps to the room, then the model and the
// renderer. Objects a peer already removed are skipped. It runs with s.mu
// held.
type effect struct{ s *Session }

func (e effect) Remove(objs []canvas.Object) error {
	var removed []string
	for _, obj := range objs {
		if _, ok := e.s.model.Get(obj.ID); ok {
			removed = append(removed, obj.ID)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := e.s.emitEffect(protocol.NewRemove(uuid.NewString(), removed...)); err != nil {
		return err
	}
	for _, id := range removed {
		e.s.model.Remove(id)
	}
	e.s.cfg.Renderer.RenderRemove(removed)
	return nil
}

func (e effect) Restore(objs []canvas.Object) error {
	var added []canvas.Object
	for _, obj := range objs {
		if _, ok := e.s.model.Get(obj.ID); !ok {
			added = append(added, obj)
		}
	}
	if len(added) == 0 {
		return nil
	}
	if err := e.s.emitEffect(protocol.NewAdd(uuid.NewString(), added...)); err != nil {
		return err
	}
	for _, obj := range added {
		e.s.model.Add(obj)
	}
	e.s.cfg.Renderer.RenderAdd(canvas.CloneAll(added))
	return nil
}

func (e effect) Replace(objs []canvas.Object) error {
	for _, obj := range objs {
		if _, ok := e.s.model.Get(obj.ID); !ok {
			continue
		}
		p := canvas.PatchFrom(obj)
		if err := e.s.emitEffect(protocol.NewModify(uuid.NewString(), obj.ID, p)); err != nil {
			return err
		}
		next, _ := e.s.model.Modify(obj.ID, p)
		e.s.cfg.Renderer.RenderModify(next.Clone())
	}
	return nil
}

func (s *Session) emitEffect(op protocol.Operation) error {
	if err := s.emit(op); err != nil {
		log.Printf("[Session] Undo/redo step not sent, history unchanged: %v", err)
		return err
	}
	return nil
}

// emit queues op for the server. Callers hold s.mu.
func (s *Session) emit(op protocol.Operation) error {
	if s.link == nil {
		return ErrChannelLost
	}
	msg, err := protocol.Encode(protocol.TypeOperation, s.cfg.RoomID, 0, op)
	if err != nil {
		return err
	}
	return s.link.enqueue(msg)
}

// handleMessage applies one server message to the session
func (s *Session) handleMessage(l *link, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("[Session] Dropping undecodable message: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case protocol.TypeJoinAck:
		ack, err := msg.DecodeJoinAck()
		if err != nil {
			log.Printf("[Session] Bad joinAck: %v", err)
			return
		}
		s.connectionID = ack.ConnectionID
		s.lastSeq = ack.Sequence
		if ack.Snapshot {
			s.model.Reset(ack.Objects)
			s.cfg.Renderer.RenderClear()
			if len(ack.Objects) > 0 {
				s.cfg.Renderer.RenderAdd(canvas.CloneAll(ack.Objects))
			}
		}
		s.setState(Active)
		log.Printf("[Session] Joined room %s as %s at sequence %d", ack.RoomID, ack.ConnectionID, ack.Sequence)
		l.joined(nil)

	case protocol.TypeJoinError:
		je, err := msg.DecodeJoinError()
		if err != nil {
			log.Printf("[Session] Bad joinError: %v", err)
			return
		}
		log.Printf("[Session] Join rejected: %s", je.Reason)
		s.cfg.Observer.JoinFailed(je.Reason)
		l.joined(fmt.Errorf("%w: %s", ErrJoinRejected, je.Reason))

	case protocol.TypeRoster:
		roster, err := msg.DecodeRoster()
		if err != nil {
			log.Printf("[Session] Bad roster: %v", err)
			return
		}
		s.roster = append([]protocol.Participant(nil), roster.Participants...)
		s.cfg.Observer.RosterChanged(append([]protocol.Participant(nil), s.roster...))

	case protocol.TypeOperation:
		s.trackSequence(msg.Sequence)
		op, err := msg.DecodeOperation()
		if err != nil {
			log.Printf("[Session] Dropping operation at seq %d: %v", msg.Sequence, err)
			return
		}
		s.applyRemote(op)

	default:
		log.Printf("[Session] Ignoring message of type %q", msg.Type)
	}
}

func (s *Session) trackSequence(seq uint64) {
	if seq == 0 {
		return
	}
	if s.lastSeq != 0 && seq > s.lastSeq+1 {
		s.gaps++
		log.Printf("[Session] Sequence gap: expected %d, got %d", s.lastSeq+1, seq)
	}
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

func (s *Session) applyRemote(op protocol.Operation) {
	res, err := protocol.Apply(s.model, op)
	if err != nil {
		log.Printf("[Session] Remote %s %s partly ignored: %v", op.Kind, op.OpID, err)
	}
	switch {
	case res.Cleared:
		s.cfg.Renderer.RenderClear()
	case len(res.Added) > 0:
		s.cfg.Renderer.RenderAdd(res.Added)
	case len(res.Removed) > 0:
		s.cfg.Renderer.RenderRemove(res.Removed)
	case len(res.Modified) > 0:
		for _, obj := range res.Modified {
			s.cfg.Renderer.RenderModify(obj)
		}
	}
}

// setState records a transition. Callers hold s.mu.
func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	log.Printf("[Session] %s -> %s", s.state, state)
	s.state = state
	s.cfg.Observer.StateChanged(state)
}

type nopRenderer struct{}

func (nopRenderer) RenderAdd([]canvas.Object) {}
func (nopRenderer) RenderModify(canvas.Object) {}
func (nopRenderer) RenderRemove([]string) {}
func (nopRenderer) RenderClear() {}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) RosterChanged([]protocol.Participant) {}
func (nopObserver) JoinFailed(string) {}
