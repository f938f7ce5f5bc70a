package server

import (
	"crypto/rand"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"drawing-board/internal/protocol"
)

const roomCodeLength = 6

// newRoomCode returns a short code like "K3F9QZ"
func newRoomCode() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}

type roomResponse struct {
	RoomID       string                 `json:"roomId"`
	Sequence     uint64                 `json:"sequence"`
	Participants []protocol.Participant `json:"participants"`
	Remote       bool                   `json:"remote,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	rooms, participants := s.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"rooms":        rooms,
		"participants": participants,
	})
}

// handleCreateRoom hands out a room code that is not in use here. The room
// itself only comes to life on the first join.
func (s *Server) handleCreateRoom(c *gin.Context) {
	for i := 0; i < 5; i++ {
		code, err := newRoomCode()
		if err != nil {
			log.Printf("[Server] Failed to generate room code: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate room code"})
			return
		}
		if _, exists := s.registry.Sequence(code); !exists {
			c.JSON(http.StatusCreated, gin.H{"roomId": code})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no free room code"})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	if err := s.registry.ValidateRoomID(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if seq, ok := s.registry.Sequence(roomID); ok {
		c.JSON(http.StatusOK, roomResponse{
			RoomID:       roomID,
			Sequence:     seq,
			Participants: s.registry.Roster(roomID),
		})
		return
	}

	if s.remote != nil {
		u, err := s.remote.Roster(c.Request.Context(), roomID)
		if err != nil {
			log.Printf("[Server] Remote roster lookup for %s failed: %v", roomID, err)
		} else if u != nil {
			c.JSON(http.StatusOK, roomResponse{RoomID: roomID, Participants: u.Participants, Remote: true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
}
