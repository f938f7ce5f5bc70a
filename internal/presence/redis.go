package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"drawing-board/internal/protocol"
)

// Channel is the pub/sub channel roster changes are published on
const Channel = "drawing:rosters"

// RosterUpdate is stored per room and published on every change. An empty
// participant list with Closed set means the room is gone.
type RosterUpdate struct {
	RoomID       string                 `json:"roomId"`
	Participants []protocol.Participant `json:"participants"`
	Closed       bool                   `json:"closed,omitempty"`
	UpdatedAt    int64                  `json:"updatedAt"`
	ServerID     string                 `json:"serverId"`
}

// backend is the subset of Redis the mirror talks to
type backend interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
	get(ctx context.Context, key string) ([]byte, error)
	publish(ctx context.Context, channel string, value []byte) error
	// subscribe delivers payloads published on channel until stop is called
	subscribe(ctx context.Context, channel string) (updates <-chan []byte, stop func() error)
	close() error
}

// Mirror exports room rosters to Redis. Updates are queued and written by a
// single worker so the room registry never waits on the network and writes
// for one room keep their order. It also listens on Channel and keeps the
// latest roster of every room hosted by another server.
type Mirror struct {
	backend  backend
	ttl      time.Duration
	serverID string
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan RosterUpdate
	cancel context.CancelFunc
	wg     sync.WaitGroup

	peersMu sync.RWMutex
	peers   map[string]RosterUpdate
}

// NewMirror connects to Redis and starts the writer
func NewMirror(addr, password string, db int, ttl time.Duration, serverID string) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	log.Printf("[Presence] Connected to %s", addr)
	return newMirror(&redisBackend{client: client}, ttl, serverID), nil
}

func newMirror(b backend, ttl time.Duration, serverID string) *Mirror {
	m := &Mirror{
		backend:  b,
		ttl:      ttl,
		serverID: serverID,
		timeout:  3 * time.Second,
		queue:    make(chan RosterUpdate, 1024),
		peers:    make(map[string]RosterUpdate),
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	updates, stop := b.subscribe(ctx, Channel)

	m.wg.Add(2)
	go m.run()
	go m.watch(ctx, updates, stop)
	return m
}

func rosterKey(roomID string) string {
	return "drawing:room:" + roomID + ":roster"
}

// RosterChanged queues the new roster of roomID
func (m *Mirror) RosterChanged(roomID string, roster []protocol.Participant) {
	m.enqueue(RosterUpdate{
		RoomID:       roomID,
		Participants: append([]protocol.Participant(nil), roster...),
	})
}

// RoomClosed queues removal of roomID
func (m *Mirror) RoomClosed(roomID string) {
	m.enqueue(RosterUpdate{RoomID: roomID, Participants: []protocol.Participant{}, Closed: true})
}

func (m *Mirror) enqueue(u RosterUpdate) {
	u.UpdatedAt = time.Now().UnixMilli()
	u.ServerID = m.serverID

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- u:
	default:
		log.Printf("[Presence] Queue full, dropping update for room %s", u.RoomID)
	}
}

// Roster returns the roster of a room hosted elsewhere, from the updates
// seen on Channel or else from its Redis key. An unknown room yields nil.
func (m *Mirror) Roster(ctx context.Context, roomID string) (*RosterUpdate, error) {
	m.peersMu.RLock()
	u, ok := m.peers[roomID]
	m.peersMu.RUnlock()
	if ok {
		u.Participants = append([]protocol.Participant(nil), u.Participants...)
		return &u, nil
	}

	b, err := m.backend.get(ctx, rosterKey(roomID))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Close flushes queued updates and disconnects
func (m *Mirror) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return m.backend.close()
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for u := range m.queue {
		if err := m.write(u); err != nil {
			log.Printf("[Presence] Failed to mirror room %s: %v", u.RoomID, err)
		}
	}
}

func (m *Mirror) watch(ctx context.Context, updates <-chan []byte, stop func() error) {
	defer m.wg.Done()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-updates:
			if !ok {
				return
			}
			m.observe(b)
		}
	}
}

// observe records an update published by another server. Out of order
// deliveries for a room are ignored.
func (m *Mirror) observe(b []byte) {
	var u RosterUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		log.Printf("[Presence] Ignoring malformed update: %v", err)
		return
	}
	if u.ServerID == m.serverID || u.RoomID == "" {
		return
	}

	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	if cur, ok := m.peers[u.RoomID]; ok && cur.UpdatedAt > u.UpdatedAt {
		return
	}
	if u.Closed {
		delete(m.peers, u.RoomID)
		return
	}
	m.peers[u.RoomID] = u
}

func (m *Mirror) write(u RosterUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	var errs []error
	if u.Closed {
		errs = append(errs, m.backend.del(ctx, rosterKey(u.RoomID)))
	} else {
		errs = append(errs, m.backend.set(ctx, rosterKey(u.RoomID), data, m.ttl))
	}
	errs = append(errs, m.backend.publish(ctx, Channel, data))
	return errors.Join(errs...)
}

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (r *redisBackend) publish(ctx context.Context, channel string, value []byte) error {
	return r.client.Publish(ctx, channel, value).Err()
}

func (r *redisBackend) subscribe(ctx context.Context, channel string) (<-chan []byte, func() error) {
	sub := r.client.Subscribe(ctx, channel)
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
