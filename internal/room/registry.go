package room

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
)

var (
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrInvalidParticipant = errors.New("invalid participant")
)

const (
	defaultMaxRoomIDLength = 64
	maxDisplayNameLength   = 64
	anonymousName          = "anonymous"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Sink is the outgoing queue of one connection. Send must not block; it
// returns false when the message was dropped.
type Sink interface {
	Send(msg []byte) bool
}

// Mirror receives roster changes, e.g. to export presence elsewhere.
// Calls are made with the room lock held, in the order the changes
// happened, so implementations must not block.
type Mirror interface {
	RosterChanged(roomID string, roster []protocol.Participant)
	RoomClosed(roomID string)
}

// Options configures a Registry
type Options struct {
	// GracePeriod keeps an empty room alive before deleting it
	GracePeriod time.Duration
	// Snapshots makes rooms track their object set and hand it to joiners
	Snapshots       bool
	MaxRoomIDLength int
	Mirror          Mirror
}

// Snapshot is the state handed to a joining participant
type Snapshot struct {
	RoomID       string
	Sequence     uint64
	Participants []protocol.Participant
	Objects      []canvas.Object
}

type member struct {
	participant protocol.Participant
	sink        Sink
}

// Room is a single broadcast domain. All mutations go through its lock.
type Room struct {
	id       string
	mu       sync.Mutex
	members  []*member
	sequence uint64
	model    *canvas.Model
	closed   bool
	grace    *time.Timer
}

// Registry manages all rooms and which room each connection is bound to
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	conns map[string]*Room
	opts  Options
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.MaxRoomIDLength <= 0 {
		opts.MaxRoomIDLength = defaultMaxRoomIDLength
	}
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]*Room),
		opts:  opts,
	}
}

// ValidateRoomID reports whether id can name a room
func (g *Registry) ValidateRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(id) > g.opts.MaxRoomIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidRoomID, g.opts.MaxRoomIDLength)
	}
	if !roomIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9_-]", ErrInvalidRoomID, id)
	}
	return nil
}

// Join binds the participant's connection to roomID, creating the room if
// needed. A connection already bound elsewhere is moved; joining the room it
// is already in only refreshes its entry. The joiner gets a joinAck followed
// by the roster; everybody else in the room gets the roster.
func (g *Registry) Join(roomID string, p protocol.Participant, sink Sink) (Snapshot, error) {
	if err := g.ValidateRoomID(roomID); err != nil {
		return Snapshot{}, err
	}
	if p.ConnectionID == "" || sink == nil {
		return Snapshot{}, fmt.Errorf("%w: missing connection", ErrInvalidParticipant)
	}

	p.RoomID = roomID
	p.DisplayName = normalizeName(p.DisplayName)

	g.mu.Lock()
	current := g.conns[p.ConnectionID]
	g.mu.Unlock()
	if current != nil && current.id == roomID {
		if snap, ok := g.rejoin(current, p, sink); ok {
			return snap, nil
		}
	}
	g.Leave(p.ConnectionID)

	for {
		room := g.bind(roomID, p.ConnectionID)

		room.mu.Lock()
		if room.closed {
			// lost a race against deletion, the next bind creates a fresh room
			room.mu.Unlock()
			continue
		}
		if room.grace != nil {
			room.grace.Stop()
			room.grace = nil
		}
		room.members = append(room.members, &member{participant: p, sink: sink})
		snap := room.welcome(p.ConnectionID, sink)
		room.sendRoster(snap.Participants)
		g.mirrorRoster(room.id, snap.Participants)
		room.mu.Unlock()

		log.Printf("[Room %s] %s (%s) joined, total: %d", room.id, p.ConnectionID, p.DisplayName, len(snap.Participants))
		return snap, nil
	}
}

// rejoin handles a join for the room the connection is already in. The
// room, its sequence and the other members are left alone; only a changed
// display name is announced. It returns false if the connection is no
// longer a member.
func (g *Registry) rejoin(room *Room, p protocol.Participant, sink Sink) (Snapshot, bool) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return Snapshot{}, false
	}
	var m *member
	for _, candidate := range room.members {
		if candidate.participant.ConnectionID == p.ConnectionID {
			m = candidate
			break
		}
	}
	if m == nil {
		return Snapshot{}, false
	}

	renamed := m.participant.DisplayName != p.DisplayName
	m.participant = p
	m.sink = sink
	snap := room.welcome(p.ConnectionID, sink)
	if renamed {
		room.sendRoster(snap.Participants)
		g.mirrorRoster(room.id, snap.Participants)
	} else {
		room.sendRosterTo(sink, snap.Participants)
	}
	log.Printf("[Room %s] %s joined again", room.id, p.ConnectionID)
	return snap, true
}

// Leave unbinds the connection from its room. Leaving twice is a no-op.
func (g *Registry) Leave(connectionID string) {
	g.mu.Lock()
	room, ok := g.conns[connectionID]
	delete(g.conns, connectionID)
	g.mu.Unlock()
	if !ok {
		return
	}

	room.mu.Lock()
	idx := -1
	for i, m := range room.members {
		if m.participant.ConnectionID == connectionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		room.mu.Unlock()
		return
	}
	room.members = append(room.members[:idx], room.members[idx+1:]...)
	roster := room.roster()
	room.sendRoster(roster)

	closeNow := false
	if len(room.members) == 0 && g.opts.GracePeriod <= 0 {
		g.closeRoom(room)
		closeNow = true
	} else {
		if len(room.members) == 0 {
			room.grace = time.AfterFunc(g.opts.GracePeriod, func() { g.expire(room) })
		}
		g.mirrorRoster(room.id, roster)
	}
	room.mu.Unlock()

	log.Printf("[Room %s] %s left, remaining: %d", room.id, connectionID, len(roster))
	if closeNow {
		g.drop(room)
	}
}

// Broadcast assigns the next sequence to op and relays it to every member
// of roomID except the sender. Operations for rooms that no longer exist,
// or from connections that are not members of the room, are dropped and 0
// is returned.
func (g *Registry) Broadcast(roomID, senderConnectionID string, op protocol.Operation) uint64 {
	if err := op.Validate(); err != nil {
		log.Printf("[Registry] Dropping operation from %s: %v", senderConnectionID, err)
		return 0
	}

	g.mu.Lock()
	room := g.rooms[roomID]
	senderRoom := g.conns[senderConnectionID]
	g.mu.Unlock()

	if room == nil || senderRoom != room {
		log.Printf("[Registry] Dropping %s from %s: not a member of room %q", op.Kind, senderConnectionID, roomID)
		return 0
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return 0
	}

	room.sequence++
	seq := room.sequence

	if room.model != nil {
		if _, err := protocol.Apply(room.model, op); err != nil {
			log.Printf("[Room %s] Snapshot skipped part of %s %s: %v", room.id, op.Kind, op.OpID, err)
		}
	}

	msg, err := protocol.Encode(protocol.TypeOperation, room.id, seq, op)
	if err != nil {
		log.Printf("[Room %s] Failed to encode operation %s: %v", room.id, op.OpID, err)
		return seq
	}
	for _, m := range room.members {
		if m.participant.ConnectionID == senderConnectionID {
			continue
		}
		if !m.sink.Send(msg) {
			log.Printf("[Room %s] Send queue full, dropped seq %d for %s", room.id, seq, m.participant.ConnectionID)
		}
	}
	return seq
}

// Roster returns the participants of roomID in join order
func (g *Registry) Roster(roomID string) []protocol.Participant {
	g.mu.Lock()
	room := g.rooms[roomID]
	g.mu.Unlock()
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.roster()
}

// Sequence returns the latest sequence of roomID
func (g *Registry) Sequence(roomID string) (uint64, bool) {
	g.mu.Lock()
	room := g.rooms[roomID]
	g.mu.Unlock()
	if room == nil {
		return 0, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.sequence, true
}

// Stats returns the number of live rooms and bound connections
func (g *Registry) Stats() (rooms, participants int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms), len(g.conns)
}

// Close stops pending grace timers
func (g *Registry) Close() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.grace != nil {
			r.grace.Stop()
			r.grace = nil
		}
		r.mu.Unlock()
	}
}

// bind returns the live room for id, creating it if absent, and records the
// connection as bound to it.
func (g *Registry) bind(id, connectionID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, exists := g.rooms[id]
	if !exists || room.isClosed() {
		room = &Room{
			id:      id,
			members: make([]*member, 0),
		}
		if g.opts.Snapshots {
			room.model = canvas.NewModel()
		}
		g.rooms[id] = room
		log.Printf("[Registry] Created room: %s", id)
	}
	g.conns[connectionID] = room
	return room
}

// expire deletes room once its grace period ran out, unless someone joined
func (g *Registry) expire(room *Room) {
	room.mu.Lock()
	if room.closed || len(room.members) > 0 {
		room.mu.Unlock()
		return
	}
	room.grace = nil
	g.closeRoom(room)
	room.mu.Unlock()
	g.drop(room)
}

// closeRoom marks room closed and tells the mirror. Callers hold room.mu,
// so a room created later under the same id is always mirrored after this.
func (g *Registry) closeRoom(room *Room) {
	room.closed = true
	if g.opts.Mirror != nil {
		g.opts.Mirror.RoomClosed(room.id)
	}
}

func (g *Registry) drop(room *Room) {
	g.mu.Lock()
	if g.rooms[room.id] == room {
		delete(g.rooms, room.id)
	}
	g.mu.Unlock()

	log.Printf("[Registry] Removed room: %s", room.id)
}

func (g *Registry) mirrorRoster(roomID string, roster []protocol.Participant) {
	if g.opts.Mirror != nil {
		g.opts.Mirror.RosterChanged(roomID, roster)
	}
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// roster returns a copy of the member list. Callers hold r.mu.
func (r *Room) roster() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	return out
}

// welcome sends the joinAck to a member that just joined and returns the
// room snapshot. Callers hold r.mu.
func (r *Room) welcome(connectionID string, sink Sink) Snapshot {
	snap := Snapshot{
		RoomID:       r.id,
		Sequence:     r.sequence,
		Participants: r.roster(),
	}
	ack := protocol.JoinAck{
		RoomID:       r.id,
		ConnectionID: connectionID,
		Sequence:     r.sequence,
	}
	if r.model != nil {
		snap.Objects = r.model.Objects()
		ack.Snapshot = true
		ack.Objects = snap.Objects
	}
	if msg, err := protocol.Encode(protocol.TypeJoinAck, r.id, r.sequence, ack); err == nil {
		sink.Send(msg)
	} else {
		log.Printf("[Room %s] Failed to encode joinAck: %v", r.id, err)
	}
	return snap
}

// sendRosterTo pushes the roster to a single sink. Callers hold r.mu.
func (r *Room) sendRosterTo(sink Sink, roster []protocol.Participant) {
	msg, err := protocol.Encode(protocol.TypeRoster, r.id, 0, protocol.Roster{Participants: roster})
	if err != nil {
		log.Printf("[Room %s] Failed to encode roster: %v", r.id, err)
		return
	}
	sink.Send(msg)
}

// sendRoster pushes the roster to every member. Callers hold r.mu.
func (r *Room) sendRoster(roster []protocol.Participant) {
	if len(r.members) == 0 {
		return
	}
	msg, err := protocol.Encode(protocol.TypeRoster, r.id, 0, protocol.Roster{Participants: roster})
	if err != nil {
		log.Printf("[Room %s] Failed to encode roster: %v", r.id, err)
		return
	}
	for _, m := range r.members {
		if !m.sink.Send(msg) {
			log.Printf("[Room %s] Send queue full, dropped roster for %s", r.id, m.participant.ConnectionID)
		}
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return anonymousName
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}
	return name
}
