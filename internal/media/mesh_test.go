package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

type liveStream struct{}

func (liveStream) ID() string { return "test-stream" }
func (liveStream) Live() bool { return true }

// switchboard stands in for the relay: it delivers each participant's traffic
// in order, from one goroutine per receiver.
type switchboard struct {
	ctx   context.Context
	mu    sync.Mutex
	lines map[mesh.ParticipantID]chan mesh.Event
}

func newSwitchboard(ctx context.Context) *switchboard {
	return &switchboard{ctx: ctx, lines: make(map[mesh.ParticipantID]chan mesh.Event)}
}

func (s *switchboard) attach(id mesh.ParticipantID, c *mesh.Coordinator) {
	line := make(chan mesh.Event, 1024)
	s.mu.Lock()
	s.lines[id] = line
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-line:
				if err := c.Post(s.ctx, ev); err != nil {
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *switchboard) deliver(to mesh.ParticipantID, ev mesh.Event) {
	s.mu.Lock()
	line := s.lines[to]
	s.mu.Unlock()
	if line != nil {
		line <- ev
	}
}

type boardSender struct {
	self  mesh.ParticipantID
	board *switchboard
}

func (b boardSender) JoinRoom(mesh.RoomID) error { return nil }

func (b boardSender) SendOffer(env mesh.Envelope) error {
	b.board.deliver(env.To, mesh.ParticipantJoined{From: b.self, Fragment: env.Fragment})
	return nil
}

func (b boardSender) SendSignal(env mesh.Envelope) error {
	b.board.deliver(env.To, mesh.FragmentReceived{Envelope: env})
	return nil
}

func (b boardSender) SendReturning(env mesh.Envelope) error {
	b.board.deliver(env.To, mesh.FragmentReceived{Envelope: env})
	return nil
}

func (b boardSender) LeaveRoom(mesh.RoomID) error { return nil }

func startMember(t *testing.T, ctx context.Context, board *switchboard, id mesh.ParticipantID, trickle bool) *mesh.Coordinator {
	t.Helper()
	c := mesh.New(mesh.Config{
		Self:    id,
		Factory: newTestEngine(t, trickle, string(id)),
		Sender:  boardSender{self: id, board: board},
	})
	board.attach(id, c)

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() { <-done })
	return c
}

func TestMeshPairConnects(t *testing.T) {
	for name, trickle := range map[string]bool{"trickle": true, "bundled": false} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			board := newSwitchboard(ctx)

			a := startMember(t, ctx, board, "A", trickle)
			b := startMember(t, ctx, board, "B", trickle)

			require.NoError(t, a.Join(ctx, "R1", liveStream{}))
			require.NoError(t, a.Post(ctx, mesh.RosterSnapshot{IDs: []mesh.ParticipantID{}}))
			require.NoError(t, b.Join(ctx, "R1", liveStream{}))
			require.NoError(t, b.Post(ctx, mesh.RosterSnapshot{IDs: []mesh.ParticipantID{"A"}}))

			connected := func(c *mesh.Coordinator) bool {
				peers := c.Peers()
				return len(peers) == 1 && peers[0].Link == "connected"
			}
			require.Eventually(t, func() bool { return connected(a) && connected(b) }, 15*time.Second, 20*time.Millisecond)

			assert.Equal(t, mesh.RoleResponder, a.Peers()[0].Role)
			assert.Equal(t, mesh.ParticipantID("B"), a.Peers()[0].ID)
			assert.Equal(t, mesh.RoleInitiator, b.Peers()[0].Role)
			assert.Equal(t, mesh.ParticipantID("A"), b.Peers()[0].ID)

			require.NoError(t, a.Leave(ctx))
			assert.Empty(t, a.Peers())
		})
	}
}
