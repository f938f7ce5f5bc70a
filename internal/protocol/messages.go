package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"drawing-board/internal/canvas"
)

// MessageType constants for WebSocket communication
type MessageType string

const (
	// client -> server
	TypeJoin MessageType = "join"

	// both directions
	TypeOperation MessageType = "operation"

	// server -> client
	TypeRoster    MessageType = "roster"
	TypeJoinAck   MessageType = "joinAck"
	TypeJoinError MessageType = "joinError"
)

// Message is the envelope for all WebSocket messages
type Message struct {
	Type     MessageType     `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	Sequence uint64          `json:"sequence,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Participant is one connection bound to a room
type Participant struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	RoomID       string `json:"roomId"`
	Color        string `json:"color,omitempty"`
}

// JoinRequest asks to bind the connection to a room
type JoinRequest struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// JoinAck confirms a join. Objects is only filled when the server keeps
// room snapshots.
type JoinAck struct {
	RoomID       string          `json:"roomId"`
	ConnectionID string          `json:"connectionId"`
	Sequence     uint64          `json:"sequence"`
	Snapshot     bool            `json:"snapshot,omitempty"`
	Objects      []canvas.Object `json:"objects,omitempty"`
}

// JoinError reports a rejected join
type JoinError struct {
	Reason string `json:"reason"`
}

// Roster is the full participant list of a room
type Roster struct {
	Participants []Participant `json:"participants"`
}

// Encode wraps data into an envelope and serializes it
func Encode(t MessageType, roomID string, sequence uint64, data any) ([]byte, error) {
	msg := Message{Type: t, RoomID: roomID, Sequence: sequence}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", t, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Decode parses an envelope
func Decode(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("message without type")
	}
	return msg, nil
}

// DecodeJoin extracts a join request
func (m Message) DecodeJoin() (JoinRequest, error) {
	var req JoinRequest
	err := m.decodeData(&req)
	return req, err
}

// DecodeJoinAck extracts a join acknowledgement
func (m Message) DecodeJoinAck() (JoinAck, error) {
	var ack JoinAck
	err := m.decodeData(&ack)
	return ack, err
}

// DecodeJoinError extracts a join error
func (m Message) DecodeJoinError() (JoinError, error) {
	var je JoinError
	err := m.decodeData(&je)
	return je, err
}

// DecodeRoster extracts a roster
func (m Message) DecodeRoster() (Roster, error) {
	var r Roster
	err := m.decodeData(&r)
	return r, err
}

// DecodeOperation extracts and validates an operation. Unknown fields are
// rejected so every receiver agrees on what is malformed.
func (m Message) DecodeOperation() (Operation, error) {
	var op Operation
	if len(m.Data) == 0 {
		return op, fmt.Errorf("%w: no payload", ErrMalformedOperation)
	}
	dec := json.NewDecoder(bytes.NewReader(m.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		return op, fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	return op, op.Validate()
}

func (m Message) decodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message without data", m.Type)
	}
	return json.Unmarshal(m.Data, v)
}
