package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"drawing-board/internal/config"
	"drawing-board/internal/presence"
	"drawing-board/internal/room"
)

// RosterSource looks up rosters that are not held locally, e.g. rooms
// served by another instance.
type RosterSource interface {
	Roster(ctx context.Context, roomID string) (*presence.RosterUpdate, error)
}

// Server accepts websocket connections and relays them through a room
// registry.
type Server struct {
	cfg      *config.Config
	registry *room.Registry
	remote   RosterSource
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection

	colorMu    sync.Mutex
	colorIndex int
}

// New builds the HTTP engine. remote may be nil.
func New(cfg *config.Config, registry *room.Registry, remote RosterSource) *Server {
	switch cfg.Server.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Server.GinMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		remote:   remote,
		conns:    make(map[string]*connection),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}

	r := gin.Default()
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	api.POST("/rooms", s.handleCreateRoom)
	api.GET("/rooms/:roomId", s.handleGetRoom)

	s.engine = r
	return s
}

// Handler exposes the engine, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[Server] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	// hijacked websocket connections are not tracked by http.Server
	s.closeConnections()
	s.registry.Close()
	if err != nil {
		return err
	}
	log.Println("[Server] Exited")
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORS.Origins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.Printf("[Server] Rejected websocket origin %s", origin)
	return false
}

func (s *Server) track(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

func (s *Server) closeConnections() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.conn.Close()
	}
}

// User colors for visual distinction
var userColors = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12",
	"#9b59b6", "#1abc9c", "#e67e22", "#34495e",
}

func (s *Server) nextColor() string {
	s.colorMu.Lock()
	defer s.colorMu.Unlock()
	color := userColors[s.colorIndex%len(userColors)]
	s.colorIndex++
	return color
}
