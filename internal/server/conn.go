package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawing-board/internal/protocol"
	"drawing-board/internal/room"
)

// Join rejection reasons sent in joinError
const (
	ReasonInvalidRoomID = "InvalidRoomId"
	ReasonMalformedJoin = "MalformedJoin"
)

// connection is one websocket peer. It is the room.Sink the registry
// delivers to.
type connection struct {
	id    string
	conn  *websocket.Conn
	color string
	send  chan []byte

	mu     sync.Mutex
	closed bool

	// only touched by the read goroutine
	roomID string
}

// Send queues msg without blocking. A full queue drops the message for
// this peer only.
func (c *connection) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (s *Server) handleWebSocket(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade error: %v", err)
		return
	}

	c := &connection{
		id:    uuid.NewString(),
		conn:  conn,
		color: s.nextColor(),
		send:  make(chan []byte, s.cfg.WebSocket.SendBuffer),
	}
	s.track(c)
	log.Printf("[Conn %s] Connected from %s", c.id, ctx.Request.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// readPump handles messages from the peer until the connection drops
func (s *Server) readPump(c *connection) {
	defer func() {
		s.registry.Leave(c.id)
		c.close()
		c.conn.Close()
		s.untrack(c)
		log.Printf("[Conn %s] Disconnected", c.id)
	}()

	if s.cfg.WebSocket.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.cfg.WebSocket.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.WebSocket.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.WebSocket.PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Conn %s] WebSocket error: %v", c.id, err)
			}
			return
		}
		s.handleMessage(c, raw)
	}
}

// writePump drains the send queue and keeps the peer alive with pings
func (s *Server) writePump(c *connection) {
	ticker := time.NewTicker(s.cfg.WebSocket.PingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WebSocket.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WebSocket.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(c *connection, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("[Conn %s] Dropping undecodable message: %v", c.id, err)
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		s.handleJoin(c, msg)

	case protocol.TypeOperation:
		if c.roomID == "" {
			log.Printf("[Conn %s] Ignoring operation before join", c.id)
			return
		}
		if msg.RoomID != "" && msg.RoomID != c.roomID {
			log.Printf("[Conn %s] Dropping operation for room %q, bound to %q", c.id, msg.RoomID, c.roomID)
			return
		}
		op, err := msg.DecodeOperation()
		if err != nil {
			log.Printf("[Conn %s] Dropping operation: %v", c.id, err)
			return
		}
		s.registry.Broadcast(c.roomID, c.id, op)

	default:
		log.Printf("[Conn %s] Ignoring message of type %q", c.id, msg.Type)
	}
}

func (s *Server) handleJoin(c *connection, msg protocol.Message) {
	req, err := msg.DecodeJoin()
	if err != nil {
		log.Printf("[Conn %s] Bad join: %v", c.id, err)
		s.rejectJoin(c, msg.RoomID, ReasonMalformedJoin)
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = msg.RoomID
	}

	_, err = s.registry.Join(roomID, protocol.Participant{
		ConnectionID: c.id,
		DisplayName:  req.DisplayName,
		Color:        c.color,
	}, c)
	if err != nil {
		log.Printf("[Conn %s] Join rejected: %v", c.id, err)
		reason := ReasonMalformedJoin
		if errors.Is(err, room.ErrInvalidRoomID) {
			reason = ReasonInvalidRoomID
		}
		s.rejectJoin(c, roomID, reason)
		return
	}
	c.roomID = roomID
}

func (s *Server) rejectJoin(c *connection, roomID, reason string) {
	b, err := protocol.Encode(protocol.TypeJoinError, roomID, 0, protocol.JoinError{Reason: reason})
	if err != nil {
		log.Printf("[Conn %s] Failed to encode joinError: %v", c.id, err)
		return
	}
	c.Send(b)
}
