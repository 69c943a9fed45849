package mesh

// Event is anything the coordinator loop handles. The set is closed.
type Event interface {
	event()
}

// JoinRoom asks the coordinator to join a room with an already captured stream.
type JoinRoom struct {
	Room   RoomID
	Stream LocalStream
}

// RosterSnapshot lists the members present before the local participant joined,
// in the order the relay recorded them.
type RosterSnapshot struct {
	IDs []ParticipantID
}

// ParticipantJoined is a newcomer's first fragment addressed to us.
type ParticipantJoined struct {
	From     ParticipantID
	Fragment Fragment
}

// FragmentReceived is any later fragment from a tracked participant.
type FragmentReceived struct {
	Envelope Envelope
}

// ParticipantLeft reports that a remote participant left the room.
type ParticipantLeft struct {
	ID ParticipantID
}

// LocalLeave is the local user leaving the room. When Done is set it receives
// the outcome once the mesh is torn down and the relay has been told. It must
// have room for one value.
type LocalLeave struct {
	Done chan<- error
}

// ChannelLost reports that the signaling channel dropped.
type ChannelLost struct {
	Err error
}

func (JoinRoom) event()          {}
func (RosterSnapshot) event()    {}
func (ParticipantJoined) event() {}
func (FragmentReceived) event()  {}
func (ParticipantLeft) event()   {}
func (LocalLeave) event()        {}
func (ChannelLost) event()       {}

type ConnEventKind int

const (
	// FragmentEmitted carries a locally generated fragment for the remote side.
	FragmentEmitted ConnEventKind = iota + 1
	// StreamRealized reports the first remote media of the connection.
	StreamRealized
	// PeerInfoReceived carries the remote participant's self description.
	PeerInfoReceived
	// LinkStateChanged reports a transport state such as "connected" or "failed".
	LinkStateChanged
)

func (k ConnEventKind) String() string {
	switch k {
	case FragmentEmitted:
		return "fragment-emitted"
	case StreamRealized:
		return "stream-realized"
	case PeerInfoReceived:
		return "peer-info"
	case LinkStateChanged:
		return "link-state"
	default:
		return "unknown"
	}
}

// ConnEvent is produced by a Connection on its Events channel.
type ConnEvent struct {
	Kind     ConnEventKind
	Fragment Fragment
	Stream   RemoteStream
	Info     PeerInfo
	Link     string
}

// connEvent tags a ConnEvent with the connection it came from so events from a
// released connection can be told apart from its replacement.
type connEvent struct {
	peer ParticipantID
	conn Connection
	ev   ConnEvent
}

func (connEvent) event() {}
