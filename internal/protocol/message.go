// Package protocol defines the JSON messages exchanged between participants and
// the relay over the signaling WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
}

// Participant to relay.
const (
	TypeCreateRoom    = "create_room"
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeSendOffer     = "send_offer"
	TypeSendSignal    = "send_signal"
	TypeSendReturning = "send_returning"
)

// Relay to participant.
const (
	TypeSession           = "session"
	TypeRoomCreated       = "room_created"
	TypeRosterSnapshot    = "roster_snapshot"
	TypeParticipantJoined = "participant_joined"
	TypeSignal            = "signal"
	TypeReturningFragment = "returning_fragment"
	TypeParticipantLeft   = "participant_left"
	TypeError             = "error"
)

// SessionPayload carries the id the relay assigned to a connection.
type SessionPayload struct {
	ID string `json:"id"`
}

// JoinPayload optionally names the joining participant.
type JoinPayload struct {
	Name string `json:"name,omitempty"`
}

// RosterPayload lists members already in the room, oldest first.
type RosterPayload struct {
	IDs []string `json:"ids"`
}

// OutboundPayload is sent by a participant to reach another one.
// FromID is informational; the relay always stamps the real sender.
type OutboundPayload struct {
	ToID     string `json:"to_id"`
	FromID   string `json:"from_id,omitempty"`
	Fragment []byte `json:"fragment"`
}

// InboundPayload is a fragment delivered by the relay. Fragments travel as
// base64 so arbitrary engine payloads survive unchanged.
type InboundPayload struct {
	FromID   string `json:"from_id"`
	Fragment []byte `json:"fragment"`
}

// LeftPayload names a participant that left the room.
type LeftPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a message with a JSON-encoded payload. A nil payload is omitted.
func New(t string, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// MustNew is New for payload types that always encode.
func MustNew(t string, payload any) *Message {
	msg, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

// ErrorMessage builds an error frame for the participant.
func ErrorMessage(text string) *Message {
	return MustNew(TypeError, ErrorPayload{Error: text})
}
