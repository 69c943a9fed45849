package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureUnavailable = errors.New("local media capture unavailable")
	ErrUnknownPeer        = errors.New("unknown peer")
	ErrDuplicateJoin      = errors.New("peer already tracked")
	ErrChannelLost        = errors.New("signaling channel lost")
	ErrNotJoined          = errors.New("not joined to a room")
	ErrAlreadyJoined      = errors.New("already joined to a room")
	ErrRosterReplayed     = errors.New("roster snapshot delivered twice for one join")
	ErrSelfReference      = errors.New("event names the local participant")
	ErrStopped            = errors.New("coordinator stopped")
)

// Error records the coordinator operation and remote participant an error belongs to.
type Error struct {
	Op   string
	Peer ParticipantID
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op string, peer ParticipantID, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
