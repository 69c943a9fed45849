package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const defaultQueueSize = 64

type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseActive
)

// Config holds the collaborators of a Coordinator.
type Config struct {
	// Self is the identity the relay assigned to this connection.
	Self ParticipantID

	Factory  ConnectionFactory
	Sender   Sender
	Observer Observer
	Logger   *slog.Logger

	// QueueSize bounds the event queue. Defaults to 64.
	QueueSize int
}

// Coordinator owns the peer map of the local participant.
//
// All state is mutated from one goroutine: either the one running Run, or a
// caller invoking Handle directly when no Run loop is active. Connections report
// back through per-connection pumps that post into the same queue.
type Coordinator struct {
	self     ParticipantID
	factory  ConnectionFactory
	sender   Sender
	observer Observer
	log      *slog.Logger

	events chan Event
	stop   chan struct{}
	once   sync.Once

	phase      phase
	room       RoomID
	stream     LocalStream
	rosterSeen bool
	peers      map[ParticipantID]*PeerEntry
	order      []ParticipantID

	mu       sync.RWMutex
	snapshot []PeerView

	pumps sync.WaitGroup
}

func New(cfg Config) *Coordinator {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		self:     cfg.Self,
		factory:  cfg.Factory,
		sender:   cfg.Sender,
		observer: cfg.Observer,
		log:      logger.With("component", "mesh", "self", string(cfg.Self)),
		events:   make(chan Event, size),
		stop:     make(chan struct{}),
		peers:    make(map[ParticipantID]*PeerEntry),
	}
}

// Self returns the local participant id.
func (c *Coordinator) Self() ParticipantID {
	return c.self
}

// Join validates the captured stream and queues a join request.
// The stream is checked here so a missing capture is reported to the caller
// before anything is sent to the relay.
func (c *Coordinator) Join(ctx context.Context, room RoomID, stream LocalStream) error {
	if stream == nil || !stream.Live() {
		return NewError("join", ErrCaptureUnavailable)
	}
	return c.Post(ctx, JoinRoom{Room: room, Stream: stream})
}

// Leave asks the Run loop to leave the room and waits until every connection
// is released and leave_room has been handed to the sender.
func (c *Coordinator) Leave(ctx context.Context) error {
	done := make(chan error, 1)
	if err := c.Post(ctx, LocalLeave{Done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-c.stop:
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues an event for the Run loop.
func (c *Coordinator) Post(ctx context.Context, ev Event) error {
	select {
	case <-c.stop:
		return ErrStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles queued events one at a time until ctx is cancelled. On exit every
// connection is released.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.publish()
			return ctx.Err()

		case ev := <-c.events:
			if err := c.Handle(ev); err != nil {
				c.report(ev, err)
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.once.Do(func() { close(c.stop) })
	c.pumps.Wait()
}

// report logs a handler error. Nothing is dropped without a record.
func (c *Coordinator) report(ev Event, err error) {
	attrs := []any{"event", fmt.Sprintf("%T", ev), "err", err}

	switch {
	case errors.Is(err, ErrUnknownPeer), errors.Is(err, ErrDuplicateJoin), errors.Is(err, ErrSelfReference):
		c.log.Warn("event dropped", attrs...)
	case errors.Is(err, ErrNotJoined):
		c.log.Warn("event ignored before join", attrs...)
	default:
		c.log.Error("event failed", attrs...)
	}
}

// Handle processes a single event to completion.
func (c *Coordinator) Handle(ev Event) error {
	defer c.publish()

	switch ev := ev.(type) {
	case JoinRoom:
		return c.join(ev.Room, ev.Stream)
	case RosterSnapshot:
		return c.onRosterSnapshot(ev.IDs)
	case ParticipantJoined:
		return c.onParticipantJoined(ev.From, ev.Fragment)
	case FragmentReceived:
		return c.onFragmentReceived(ev.Envelope)
	case ParticipantLeft:
		return c.onParticipantLeft(ev.ID)
	case LocalLeave:
		err := c.onLocalLeave()
		if ev.Done != nil {
			ev.Done <- err
		}
		return err
	case ChannelLost:
		return c.onChannelDisconnected(ev.Err)
	case connEvent:
		return c.onConnEvent(ev)
	default:
		return fmt.Errorf("mesh: unhandled event %T", ev)
	}
}

func (c *Coordinator) join(room RoomID, stream LocalStream) error {
	if stream == nil || !stream.Live() {
		return NewError("join", ErrCaptureUnavailable)
	}
	if c.phase != phaseIdle {
		return NewError("join", ErrAlreadyJoined)
	}

	if err := c.sender.JoinRoom(room); err != nil {
		return NewError("join", err)
	}

	c.phase = phaseJoining
	c.room = room
	c.stream = stream
	c.rosterSeen = false

	c.log.Info("join requested", "room", string(room))
	return nil
}

func (c *Coordinator) onRosterSnapshot(ids []ParticipantID) error {
	if c.phase == phaseIdle {
		return NewError("roster snapshot", ErrNotJoined)
	}
	if c.rosterSeen {
		return NewError("roster snapshot", ErrRosterReplayed)
	}
	c.rosterSeen = true
	c.phase = phaseActive

	c.log.Info("roster received", "room", string(c.room), "members", len(ids))

	var errs []error
	for _, id := range ids {
		switch {
		case id == c.self:
			errs = append(errs, NewPeerError("roster snapshot", id, ErrSelfReference))
			continue
		case c.peers[id] != nil:
			errs = append(errs, NewPeerError("roster snapshot", id, ErrDuplicateJoin))
			continue
		}

		if _, err := c.addPeer(id, RoleInitiator); err != nil {
			errs = append(errs, NewPeerError("roster snapshot", id, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Coordinator) onParticipantJoined(from ParticipantID, initial Fragment) error {
	if c.phase == phaseIdle {
		return NewPeerError("participant joined", from, ErrNotJoined)
	}
	if from == c.self {
		return NewPeerError("participant joined", from, ErrSelfReference)
	}
	if _, ok := c.peers[from]; ok {
		return NewPeerError("participant joined", from, ErrDuplicateJoin)
	}

	entry, err := c.addPeer(from, RoleResponder)
	if err != nil {
		return NewPeerError("participant joined", from, err)
	}

	if err := entry.Conn.Signal(initial); err != nil {
		return NewPeerError("participant joined", from, err)
	}
	entry.State = entry.State.advance(StateNegotiatingRemote)
	return nil
}

func (c *Coordinator) onFragmentReceived(env Envelope) error {
	if c.phase == phaseIdle {
		return NewPeerError("fragment received", env.From, ErrNotJoined)
	}

	entry, ok := c.peers[env.From]
	if !ok {
		return NewPeerError("fragment received", env.From, ErrUnknownPeer)
	}

	if err := entry.Conn.Signal(env.Fragment); err != nil {
		return NewPeerError("fragment received", env.From, err)
	}
	entry.State = entry.State.advance(StateNegotiatingRemote)
	return nil
}

func (c *Coordinator) onParticipantLeft(id ParticipantID) error {
	if c.phase == phaseIdle {
		return NewPeerError("participant left", id, ErrNotJoined)
	}

	entry, ok := c.peers[id]
	if !ok {
		return NewPeerError("participant left", id, ErrUnknownPeer)
	}

	c.release(entry)
	c.removePeer(id)

	c.log.Info("participant left", "peer", string(id))
	return nil
}

func (c *Coordinator) onLocalLeave() error {
	if c.phase == phaseIdle {
		return nil
	}

	room := c.room
	c.teardown()

	if err := c.sender.LeaveRoom(room); err != nil {
		return NewError("leave", err)
	}

	c.log.Info("left room", "room", string(room))
	return nil
}

func (c *Coordinator) onChannelDisconnected(cause error) error {
	if c.phase == phaseIdle {
		return nil
	}

	released := len(c.peers)
	c.teardown()

	if cause == nil {
		cause = ErrChannelLost
	}
	c.log.Warn("signaling channel lost, mesh torn down", "released", released, "cause", cause)
	return nil
}

func (c *Coordinator) onConnEvent(ce connEvent) error {
	entry, ok := c.peers[ce.peer]
	if !ok || entry.Conn != ce.conn {
		c.log.Debug("event from released connection", "peer", string(ce.peer), "kind", ce.ev.Kind.String())
		return nil
	}

	switch ce.ev.Kind {
	case FragmentEmitted:
		return c.route(entry, ce.ev.Fragment)

	case StreamRealized:
		if entry.State == StateStreamReady {
			return nil
		}
		stream := ce.ev.Stream
		entry.Stream = &stream
		entry.State = entry.State.advance(StateStreamReady)
		c.log.Info("stream ready", "peer", string(entry.ID), "stream", stream.ID)
		if c.observer != nil {
			c.observer.StreamReady(entry.view())
		}

	case PeerInfoReceived:
		entry.Info = ce.ev.Info
		if c.observer != nil {
			c.observer.PeerChanged(entry.view())
		}

	case LinkStateChanged:
		entry.Link = ce.ev.Link
		c.log.Debug("link state", "peer", string(entry.ID), "state", ce.ev.Link)
		if c.observer != nil {
			c.observer.PeerChanged(entry.view())
		}
	}

	return nil
}

// route sends a locally emitted fragment to the entry's remote participant.
// An initiator's first fragment introduces us as a new participant; the rest,
// and everything a responder emits, travel as plain signals.
func (c *Coordinator) route(entry *PeerEntry, fragment Fragment) error {
	env := Envelope{From: c.self, To: entry.ID, Fragment: fragment}

	var err error
	switch {
	case entry.Role == RoleResponder:
		err = c.sender.SendReturning(env)
	case entry.emitted == 0:
		err = c.sender.SendOffer(env)
	default:
		err = c.sender.SendSignal(env)
	}
	if err != nil {
		return NewPeerError("route fragment", entry.ID, err)
	}

	entry.emitted++
	entry.State = entry.State.advance(StateNegotiatingLocal)
	return nil
}

func (c *Coordinator) addPeer(id ParticipantID, role Role) (*PeerEntry, error) {
	conn, err := c.factory.NewConnection(ConnectionOptions{
		Peer:   id,
		Role:   role,
		Stream: c.stream,
	})
	if err != nil {
		return nil, err
	}

	entry := &PeerEntry{
		ID:    id,
		Role:  role,
		State: StateCreated,
		Conn:  conn,
	}
	c.peers[id] = entry
	c.order = append(c.order, id)

	c.pumps.Add(1)
	go c.pump(id, conn)

	c.log.Info("peer added", "peer", string(id), "role", role.String())
	if c.observer != nil {
		c.observer.PeerAdded(entry.view())
	}
	return entry, nil
}

// pump forwards one connection's events into the coordinator queue, keeping
// their order.
func (c *Coordinator) pump(id ParticipantID, conn Connection) {
	defer c.pumps.Done()

	for ev := range conn.Events() {
		select {
		case c.events <- connEvent{peer: id, conn: conn, ev: ev}:
		case <-c.stop:
			return
		}
	}
}

// release closes an entry's connection once.
func (c *Coordinator) release(entry *PeerEntry) {
	if entry.released {
		return
	}
	entry.released = true
	entry.State = StateReleased

	if err := entry.Conn.Close(); err != nil {
		c.log.Warn("release connection", "peer", string(entry.ID), "err", err)
	}
	if c.observer != nil {
		c.observer.PeerRemoved(entry.ID)
	}
}

func (c *Coordinator) removePeer(id ParticipantID) {
	delete(c.peers, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// teardown releases every connection and returns to idle.
func (c *Coordinator) teardown() {
	for _, id := range c.order {
		c.release(c.peers[id])
	}

	c.peers = make(map[ParticipantID]*PeerEntry)
	c.order = nil
	c.phase = phaseIdle
	c.room = ""
	c.stream = nil
	c.rosterSeen = false
}

func (c *Coordinator) publish() {
	views := make([]PeerView, 0, len(c.order))
	for _, id := range c.order {
		views = append(views, c.peers[id].view())
	}

	c.mu.Lock()
	c.snapshot = views
	c.mu.Unlock()
}

// Peers returns the active entries in the order they were created.
// It is safe to call from any goroutine.
func (c *Coordinator) Peers() []PeerView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PeerView, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}
