package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"drawing-board/internal/protocol"
)

// link is one websocket connection to the server. A session gets a new link
// on every (re)connect; the old one is never reused.
type link struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	joinErr chan error
}

func newLink(conn *websocket.Conn, buffer int) *link {
	return &link{
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		joinErr: make(chan error, 1),
	}
}

func (l *link) enqueue(msg []byte) error {
	select {
	case <-l.done:
		return ErrChannelLost
	default:
	}
	select {
	case l.send <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrChannelLost)
	}
}

// joined reports the outcome of the join handshake, only the first counts
func (l *link) joined(err error) {
	select {
	case l.joinErr <- err:
	default:
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		if l.conn != nil {
			l.conn.Close()
		}
	})
}

// Connect dials the server and joins the configured room. It returns once
// the server acknowledged or rejected the join.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.link != nil {
		s.mu.Unlock()
		return errors.New("session already connected")
	}
	if s.state != Reconnecting {
		s.setState(Connecting)
	}
	s.mu.Unlock()

	log.Printf("[Session] Connecting to %s", s.cfg.ServerURL)
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.ServerURL, nil)
	if err != nil {
		s.mu.Lock()
		if s.state != Reconnecting {
			s.setState(Disconnected)
		}
		s.mu.Unlock()
		return fmt.Errorf("dial %s: %w", s.cfg.ServerURL, err)
	}

	l := newLink(conn, s.cfg.SendBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.close()
		return ErrClosed
	}
	s.link = l
	s.setState(Joining)
	s.mu.Unlock()

	go s.readPump(l)
	go s.writePump(l)

	join, err := protocol.Encode(protocol.TypeJoin, s.cfg.RoomID, 0, protocol.JoinRequest{
		RoomID:      s.cfg.RoomID,
		DisplayName: s.cfg.DisplayName,
	})
	if err == nil {
		err = l.enqueue(join)
	}
	if err != nil {
		s.lose(l)
		return err
	}

	select {
	case err := <-l.joinErr:
		if err != nil {
			s.lose(l)
		}
		return err
	case <-l.done:
		return ErrChannelLost
	case <-ctx.Done():
		s.lose(l)
		return ctx.Err()
	}
}

// Run connects and keeps the session connected until ctx is done or Close
// is called. Without Reconnect it returns ErrChannelLost on the first loss.
// Local canvas and history survive reconnects; operations missed while
// away are not replayed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.connectWithRetry(ctx); err != nil {
		return err
	}
	for {
		s.mu.Lock()
		l := s.link
		s.mu.Unlock()
		if l == nil {
			return ErrChannelLost
		}

		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-l.done:
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}
		if !s.cfg.Reconnect {
			return ErrChannelLost
		}

		if err := s.connectWithRetry(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) connectWithRetry(ctx context.Context) error {
	if !s.cfg.Reconnect {
		return s.Connect(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.ReconnectMinInterval
	eb.MaxInterval = s.cfg.ReconnectMaxInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if s.cfg.MaxReconnectAttempts > 0 {
		b = backoff.WithMaxRetries(b, s.cfg.MaxReconnectAttempts)
	}

	// a rejected join or a closed session is final
	var final error
	err := backoff.Retry(func() error {
		err := s.Connect(ctx)
		if errors.Is(err, ErrJoinRejected) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
			final = err
			return nil
		}
		if err != nil {
			log.Printf("[Session] Connect failed, retrying: %v", err)
		}
		return err
	}, backoff.WithContext(b, ctx))

	if final != nil {
		s.mu.Lock()
		s.setState(Disconnected)
		s.mu.Unlock()
		return final
	}
	if err != nil {
		s.mu.Lock()
		s.setState(Disconnected)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrChannelLost, err)
	}
	return nil
}

// Close drops the connection and stops Run. The local canvas stays.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.link
	s.mu.Unlock()

	if l != nil {
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.lose(l)
	} else {
		s.mu.Lock()
		s.setState(Disconnected)
		s.mu.Unlock()
	}
	return nil
}

// lose tears down l. Only the current link moves the session state.
func (s *Session) lose(l *link) {
	l.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l {
		return
	}
	s.link = nil
	if s.cfg.Reconnect && !s.closed {
		s.setState(Reconnecting)
	} else {
		s.setState(Disconnected)
	}
}

func (s *Session) readPump(l *link) {
	defer s.lose(l)

	l.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Session] Read error: %v", err)
			}
			return
		}
		s.handleMessage(l, message)
	}
}

func (s *Session) writePump(l *link) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.lose(l)
	}()

	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Session] Write error: %v", err)
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Session] Ping error: %v", err)
				return
			}

		case <-l.done:
			return
		}
	}
}
