package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/protocol"
)

// ErrLost is reported when the relay connection ends without a cause.
var ErrLost = errors.New("signaling channel lost")

// Router speaks the relay protocol for one participant. It implements
// mesh.Sender and turns relay messages into mesh events.
type Router struct {
	client *Client
	name   string
	self   mesh.ParticipantID
	errors chan string
	log    *slog.Logger
}

// NewRouter wraps a connected client. name is announced on join.
func NewRouter(client *Client, name string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client: client,
		name:   name,
		errors: make(chan string, 8),
		log:    logger.With("component", "signaling"),
	}
}

// Self returns the session id, empty until WaitSession succeeds.
func (r *Router) Self() mesh.ParticipantID {
	return r.self
}

// Errors carries error texts sent by the relay once Start is running.
func (r *Router) Errors() <-chan string {
	return r.errors
}

// WaitSession blocks until the relay assigns this connection its id.
func (r *Router) WaitSession(ctx context.Context) (mesh.ParticipantID, error) {
	msg, err := r.await(ctx, protocol.TypeSession)
	if err != nil {
		return "", err
	}

	var session protocol.SessionPayload
	if err := msg.Decode(&session); err != nil {
		return "", err
	}
	if session.ID == "" {
		return "", errors.New("relay sent an empty session id")
	}

	r.self = mesh.ParticipantID(session.ID)
	return r.self, nil
}

// CreateRoom asks the relay for a fresh room name. Call it before Start.
func (r *Router) CreateRoom(ctx context.Context) (mesh.RoomID, error) {
	if err := r.client.Send(&protocol.Message{Type: protocol.TypeCreateRoom}); err != nil {
		return "", err
	}

	msg, err := r.await(ctx, protocol.TypeRoomCreated)
	if err != nil {
		return "", err
	}
	return mesh.RoomID(msg.RoomID), nil
}

// await reads until a message of type want arrives. Relay errors end the wait.
func (r *Router) await(ctx context.Context, want string) (*protocol.Message, error) {
	for {
		select {
		case msg, ok := <-r.client.Incoming():
			if !ok {
				return nil, r.lostCause()
			}
			switch msg.Type {
			case want:
				return msg, nil
			case protocol.TypeError:
				return nil, fmt.Errorf("relay: %s", errorText(msg))
			default:
				r.log.Debug("skipping message while waiting", "type", msg.Type, "want", want)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Start delivers relay messages to sink until the connection ends, then posts
// mesh.ChannelLost. It returns early if ctx is cancelled or the sink stops.
func (r *Router) Start(ctx context.Context, sink mesh.EventSink) {
	defer close(r.errors)

	for {
		select {
		case msg, ok := <-r.client.Incoming():
			if !ok {
				cause := r.lostCause()
				r.log.Warn("relay connection lost", "err", cause)
				if err := sink.Post(ctx, mesh.ChannelLost{Err: cause}); err != nil {
					r.log.Debug("event sink closed", "err", err)
				}
				return
			}

			ev, err := r.translate(msg)
			if err != nil {
				r.log.Warn("malformed relay message", "type", msg.Type, "err", err)
				continue
			}
			if ev == nil {
				continue
			}
			if err := sink.Post(ctx, ev); err != nil {
				r.log.Debug("event sink closed", "err", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// translate maps a relay message to a mesh event. It returns nil for messages
// that carry nothing for the coordinator.
func (r *Router) translate(msg *protocol.Message) (mesh.Event, error) {
	switch msg.Type {
	case protocol.TypeRosterSnapshot:
		var roster protocol.RosterPayload
		if err := msg.Decode(&roster); err != nil {
			return nil, err
		}
		ids := make([]mesh.ParticipantID, len(roster.IDs))
		for i, id := range roster.IDs {
			ids[i] = mesh.ParticipantID(id)
		}
		return mesh.RosterSnapshot{IDs: ids}, nil

	case protocol.TypeParticipantJoined:
		var in protocol.InboundPayload
		if err := msg.Decode(&in); err != nil {
			return nil, err
		}
		return mesh.ParticipantJoined{From: mesh.ParticipantID(in.FromID), Fragment: in.Fragment}, nil

	case protocol.TypeSignal, protocol.TypeReturningFragment:
		var in protocol.InboundPayload
		if err := msg.Decode(&in); err != nil {
			return nil, err
		}
		return mesh.FragmentReceived{Envelope: mesh.Envelope{
			From:     mesh.ParticipantID(in.FromID),
			To:       r.self,
			Fragment: in.Fragment,
		}}, nil

	case protocol.TypeParticipantLeft:
		var left protocol.LeftPayload
		if err := msg.Decode(&left); err != nil {
			return nil, err
		}
		return mesh.ParticipantLeft{ID: mesh.ParticipantID(left.ID)}, nil

	case protocol.TypeError:
		text := errorText(msg)
		r.log.Warn("relay error", "error", text)
		select {
		case r.errors <- text:
		default:
		}
		return nil, nil

	default:
		r.log.Debug("ignoring relay message", "type", msg.Type)
		return nil, nil
	}
}

func (r *Router) lostCause() error {
	if err := r.client.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLost, err)
	}
	return ErrLost
}

func errorText(msg *protocol.Message) string {
	var e protocol.ErrorPayload
	if err := msg.Decode(&e); err != nil || e.Error == "" {
		return "unknown error from relay"
	}
	return e.Error
}

// JoinRoom implements mesh.Sender.
func (r *Router) JoinRoom(room mesh.RoomID) error {
	msg, err := protocol.New(protocol.TypeJoinRoom, protocol.JoinPayload{Name: r.name})
	if err != nil {
		return err
	}
	msg.RoomID = string(room)
	return r.client.Send(msg)
}

func (r *Router) SendOffer(env mesh.Envelope) error {
	return r.forward(protocol.TypeSendOffer, env)
}

func (r *Router) SendSignal(env mesh.Envelope) error {
	return r.forward(protocol.TypeSendSignal, env)
}

func (r *Router) SendReturning(env mesh.Envelope) error {
	return r.forward(protocol.TypeSendReturning, env)
}

func (r *Router) LeaveRoom(room mesh.RoomID) error {
	return r.client.Send(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: string(room)})
}

func (r *Router) forward(t string, env mesh.Envelope) error {
	msg, err := protocol.New(t, protocol.OutboundPayload{
		ToID:     string(env.To),
		FromID:   string(env.From),
		Fragment: env.Fragment,
	})
	if err != nil {
		return err
	}
	return r.client.Send(msg)
}
