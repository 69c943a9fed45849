// Package mesh keeps the local participant's view of a full-mesh room: one peer
// connection per remote participant, with initiator and responder roles decided by
// which notification created it.
package mesh

import "context"

// ParticipantID is the relay-issued identifier of one connection session.
type ParticipantID string

// RoomID names a room. It is supplied by the user, never generated here.
type RoomID string

// Fragment is one opaque unit of connection negotiation. It is forwarded byte-for-byte.
type Fragment []byte

// Envelope routes a fragment between two participants.
type Envelope struct {
	From     ParticipantID
	To       ParticipantID
	Fragment Fragment
}

type Role int

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// State is the negotiation phase of a single connection.
type State int

const (
	StateCreated State = iota
	StateNegotiatingLocal
	StateNegotiatingRemote
	StateStreamReady
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNegotiatingLocal:
		return "negotiating-local"
	case StateNegotiatingRemote:
		return "negotiating-remote"
	case StateStreamReady:
		return "stream-ready"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// advance moves to next unless the current state is terminal for negotiation.
// The two negotiating states may alternate freely while fragments are trickled.
func (s State) advance(next State) State {
	switch {
	case s == StateReleased:
		return s
	case s == StateStreamReady && next != StateReleased:
		return s
	default:
		return next
	}
}

// LocalStream is the captured media shared read-only by every connection.
type LocalStream interface {
	ID() string
	Live() bool
}

// RemoteStream describes media realized from a remote participant.
type RemoteStream struct {
	ID    string
	Kinds []string
}

// PeerInfo is what a remote participant says about itself once connected.
type PeerInfo struct {
	Name    string
	Version string
}

// ConnectionOptions are handed to a ConnectionFactory for every new entry.
type ConnectionOptions struct {
	Peer   ParticipantID
	Role   Role
	Stream LocalStream
}

// Connection is one media negotiation with a remote participant.
//
// Signal must not block. Events is closed by the connection after Close returns
// and no further events will be produced.
type Connection interface {
	Signal(Fragment) error
	Events() <-chan ConnEvent
	Close() error
}

type ConnectionFactory interface {
	NewConnection(opts ConnectionOptions) (Connection, error)
}

// Sender carries coordinator intents to the signaling relay.
type Sender interface {
	JoinRoom(room RoomID) error
	SendOffer(env Envelope) error
	SendSignal(env Envelope) error
	SendReturning(env Envelope) error
	LeaveRoom(room RoomID) error
}

// EventSink accepts events for later, ordered handling.
type EventSink interface {
	Post(ctx context.Context, ev Event) error
}

// Observer is notified from the coordinator's event loop. Implementations must
// return quickly.
type Observer interface {
	PeerAdded(PeerView)
	PeerChanged(PeerView)
	StreamReady(PeerView)
	PeerRemoved(ParticipantID)
}

// PeerEntry is the coordinator's record for one remote participant.
type PeerEntry struct {
	ID     ParticipantID
	Role   Role
	State  State
	Conn   Connection
	Info   PeerInfo
	Link   string
	Stream *RemoteStream

	emitted  int
	released bool
}

// PeerView is a read-only copy of a PeerEntry for presentation.
type PeerView struct {
	ID     ParticipantID
	Role   Role
	State  State
	Name   string
	Link   string
	Stream *RemoteStream
	Conn   Connection
}

func (e *PeerEntry) view() PeerView {
	return PeerView{
		ID:     e.ID,
		Role:   e.Role,
		State:  e.State,
		Name:   e.Info.Name,
		Link:   e.Link,
		Stream: e.Stream,
		Conn:   e.Conn,
	}
}
