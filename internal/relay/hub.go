package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BioHazard786/meshroom/internal/protocol"
)

var ErrHubStopped = errors.New("relay hub stopped")

// Inbound is a message read from a client, waiting for the hub.
type Inbound struct {
	Client  *Client
	Message *protocol.Message
}

type Options struct {
	// MaxRoomSize caps members per room. Zero means unlimited.
	MaxRoomSize int

	Metrics *Metrics
	Logger  *slog.Logger
}

// Hub owns every room and client. All of its state is touched only by the
// goroutine running Run.
type Hub struct {
	Rooms   map[string]*Room
	clients map[string]*Client

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan *Inbound

	queries chan chan []RoomSummary
	done    chan struct{}

	maxRoomSize int
	metrics     *Metrics
	log         *slog.Logger
}

func NewHub(opts Options) *Hub {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		Rooms:       make(map[string]*Room),
		clients:     make(map[string]*Client),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		Inbound:     make(chan *Inbound),
		queries:     make(chan chan []RoomSummary),
		done:        make(chan struct{}),
		maxRoomSize: opts.MaxRoomSize,
		metrics:     metrics,
		log:         logger.With("component", "hub"),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing every
// client's send channel on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				close(c.Send)
			}
			h.clients = make(map[string]*Client)
			h.Rooms = make(map[string]*Room)
			h.metrics.Clients.Set(0)
			h.metrics.Rooms.Set(0)
			return

		case client := <-h.Register:
			h.clients[client.ID] = client
			h.metrics.Clients.Inc()
			h.log.Info("client registered", client.logAttrs()...)
			h.deliver(client, protocol.MustNew(protocol.TypeSession, protocol.SessionPayload{ID: client.ID}))

		case client := <-h.Unregister:
			if _, ok := h.clients[client.ID]; ok {
				h.log.Info("client unregistered", client.logAttrs()...)
				h.disconnect(client)
			}

		case in := <-h.Inbound:
			// Messages still in flight from a client we already dropped.
			if h.clients[in.Client.ID] != in.Client {
				continue
			}
			h.handle(in.Client, in.Message)

		case reply := <-h.queries:
			reply <- h.summaries()
		}
	}
}

// RegisterClient hands a new client to the hub. It reports false once the hub
// has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in *Inbound) bool {
	select {
	case h.Inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// RoomList lists active rooms. Safe to call from any goroutine.
func (h *Hub) RoomList(ctx context.Context) ([]RoomSummary, error) {
	reply := make(chan []RoomSummary, 1)

	select {
	case h.queries <- reply:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) summaries() []RoomSummary {
	out := make([]RoomSummary, 0, len(h.Rooms))
	for _, r := range h.Rooms {
		out = append(out, RoomSummary{ID: r.ID, Members: r.Len(), CreatedAt: r.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (h *Hub) handle(c *Client, msg *protocol.Message) {
	var ok bool
	switch msg.Type {
	case protocol.TypeCreateRoom:
		ok = h.handleCreateRoom(c)

	case protocol.TypeJoinRoom:
		ok = h.handleJoinRoom(c, msg)

	case protocol.TypeLeaveRoom:
		ok = h.leaveRoom(c)

	case protocol.TypeSendOffer:
		ok = h.forward(c, msg, protocol.TypeParticipantJoined)

	case protocol.TypeSendSignal:
		ok = h.forward(c, msg, protocol.TypeSignal)

	case protocol.TypeSendReturning:
		ok = h.forward(c, msg, protocol.TypeReturningFragment)

	default:
		h.reject(c, "unknown_type", "unknown message type: "+msg.Type)
	}

	if ok {
		h.metrics.Routed.WithLabelValues(msg.Type).Inc()
	}
}

func (h *Hub) handleCreateRoom(c *Client) bool {
	id := generateRoomID(func(id string) bool {
		_, taken := h.Rooms[id]
		return taken
	})

	h.log.Info("room name issued", append(c.logAttrs(), "issued", id)...)
	return h.deliver(c, &protocol.Message{Type: protocol.TypeRoomCreated, RoomID: id})
}

func (h *Hub) handleJoinRoom(c *Client, msg *protocol.Message) bool {
	if msg.RoomID == "" {
		h.reject(c, "bad_request", "room_id is required")
		return false
	}
	if c.RoomID != "" {
		h.reject(c, "already_joined", "already in room "+c.RoomID)
		return false
	}

	var join protocol.JoinPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&join); err != nil {
			h.reject(c, "bad_request", err.Error())
			return false
		}
	}

	room, exists := h.Rooms[msg.RoomID]
	if !exists {
		room = NewRoom(msg.RoomID)
	}
	if h.maxRoomSize > 0 && room.Len() >= h.maxRoomSize {
		h.reject(c, "room_full", "room is full")
		return false
	}

	// The roster is queued before the joiner becomes a member, and existing
	// members only learn about the joiner from its own offers.
	roster := protocol.MustNew(protocol.TypeRosterSnapshot, protocol.RosterPayload{IDs: room.IDs()})
	if !h.deliver(c, roster) {
		return false
	}

	if !exists {
		h.Rooms[room.ID] = room
		h.metrics.Rooms.Inc()
	}
	room.Add(c)
	c.RoomID = room.ID
	c.Name = join.Name

	h.log.Info("client joined room", append(c.logAttrs(), "name", c.Name, "members", room.Len())...)
	return true
}

// forward relays a fragment to another member of the sender's room, stamping
// the sender's real id.
func (h *Hub) forward(c *Client, msg *protocol.Message, outType string) bool {
	if c.RoomID == "" {
		h.reject(c, "not_joined", "join a room first")
		return false
	}

	var out protocol.OutboundPayload
	if err := msg.Decode(&out); err != nil {
		h.reject(c, "bad_request", err.Error())
		return false
	}
	if out.FromID != "" && out.FromID != c.ID {
		h.log.Warn("ignoring claimed sender id", append(c.logAttrs(), "claimed", out.FromID)...)
	}

	room, ok := h.Rooms[c.RoomID]
	if !ok {
		h.reject(c, "not_joined", "room no longer exists")
		return false
	}

	target := room.Member(out.ToID)
	if target == nil || target == c {
		h.reject(c, "unknown_target", "participant "+out.ToID+" is not in this room")
		return false
	}

	h.log.Debug("relaying fragment", append(c.logAttrs(), "to", target.ID, "type", outType)...)
	return h.deliver(target, protocol.MustNew(outType, protocol.InboundPayload{
		FromID:   c.ID,
		Fragment: out.Fragment,
	}))
}

// leaveRoom removes c from its room and tells the remaining members. It
// reports whether c was in a room.
func (h *Hub) leaveRoom(c *Client) bool {
	if c.RoomID == "" {
		return false
	}

	room, ok := h.Rooms[c.RoomID]
	c.RoomID = ""
	if !ok || !room.Remove(c) {
		return false
	}

	if room.Len() == 0 {
		delete(h.Rooms, room.ID)
		h.metrics.Rooms.Dec()
		h.log.Info("room closed", "room", room.ID)
		return true
	}

	h.log.Info("client left room", "client", c.ID, "room", room.ID, "members", room.Len())

	left := protocol.MustNew(protocol.TypeParticipantLeft, protocol.LeftPayload{ID: c.ID})
	for _, m := range slices.Clone(room.Members) {
		h.deliver(m, left)
	}
	return true
}

// disconnect forgets a client and stops its write pump.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	h.metrics.Clients.Dec()

	h.leaveRoom(c)
	close(c.Send)
}

// deliver queues msg for c. A client whose buffer is full is dropped rather
// than allowed to stall the hub.
func (h *Hub) deliver(c *Client, msg *protocol.Message) bool {
	if h.clients[c.ID] != c {
		return false
	}

	select {
	case c.Send <- msg:
		return true
	default:
		h.log.Warn("send buffer full, dropping client", c.logAttrs()...)
		h.metrics.Failures.WithLabelValues("slow_consumer").Inc()
		h.disconnect(c)
		return false
	}
}

func (h *Hub) reject(c *Client, reason, text string) {
	h.log.Warn("message rejected", append(c.logAttrs(), "reason", reason, "detail", text)...)
	h.metrics.Failures.WithLabelValues(reason).Inc()
	h.deliver(c, protocol.ErrorMessage(text))
}
