package signaling

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/server"
)

type chanSink chan mesh.Event

func (s chanSink) Post(ctx context.Context, ev mesh.Event) error {
	select {
	case s <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s chanSink) next(t *testing.T) mesh.Event {
	t.Helper()
	select {
	case ev := <-s:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func startRelay(t *testing.T) string {
	t.Helper()
	registry := prometheus.NewRegistry()
	hub := relay.NewHub(relay.Options{Metrics: relay.NewMetrics(registry)})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(hub, &config.RelayConfig{SendBuffer: 32}, registry, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type participant struct {
	client *Client
	router *Router
	id     mesh.ParticipantID
	events chanSink
	cancel context.CancelFunc
}

func connect(t *testing.T, url, name string) *participant {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(url, nil)
	require.NoError(t, client.Connect(ctx))

	router := NewRouter(client, name, nil)
	id, err := router.WaitSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, router.Self())

	p := &participant{client: client, router: router, id: id, events: make(chanSink, 16)}
	t.Cleanup(client.Close)
	return p
}

func (p *participant) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.router.Start(ctx, p.events)
}

func TestRouterCarriesMeshTraffic(t *testing.T) {
	url := startRelay(t)
	a := connect(t, url, "alice")
	b := connect(t, url, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	room, err := a.router.CreateRoom(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, room)

	a.start()
	b.start()
	defer a.cancel()
	defer b.cancel()

	require.NoError(t, a.router.JoinRoom(room))
	assert.Equal(t, mesh.RosterSnapshot{IDs: []mesh.ParticipantID{}}, a.events.next(t))

	require.NoError(t, b.router.JoinRoom(room))
	assert.Equal(t, mesh.RosterSnapshot{IDs: []mesh.ParticipantID{a.id}}, b.events.next(t))

	// b is the initiator towards a.
	require.NoError(t, b.router.SendOffer(mesh.Envelope{From: b.id, To: a.id, Fragment: mesh.Fragment("offer")}))
	assert.Equal(t, mesh.ParticipantJoined{From: b.id, Fragment: mesh.Fragment("offer")}, a.events.next(t))

	require.NoError(t, b.router.SendSignal(mesh.Envelope{From: b.id, To: a.id, Fragment: mesh.Fragment("candidate")}))
	assert.Equal(t, mesh.FragmentReceived{Envelope: mesh.Envelope{From: b.id, To: a.id, Fragment: mesh.Fragment("candidate")}}, a.events.next(t))

	require.NoError(t, a.router.SendReturning(mesh.Envelope{From: a.id, To: b.id, Fragment: mesh.Fragment("answer")}))
	assert.Equal(t, mesh.FragmentReceived{Envelope: mesh.Envelope{From: a.id, To: b.id, Fragment: mesh.Fragment("answer")}}, b.events.next(t))

	require.NoError(t, b.router.LeaveRoom(room))
	assert.Equal(t, mesh.ParticipantLeft{ID: b.id}, a.events.next(t))
}

func TestRouterSurfacesRelayErrors(t *testing.T) {
	url := startRelay(t)
	a := connect(t, url, "")
	a.start()
	defer a.cancel()

	require.NoError(t, a.router.SendSignal(mesh.Envelope{From: a.id, To: "nobody", Fragment: mesh.Fragment("x")}))

	select {
	case text := <-a.router.Errors():
		assert.Equal(t, "join a room first", text)
	case <-time.After(2 * time.Second):
		t.Fatal("no relay error")
	}
}

func TestChannelLostWhenRelayGoes(t *testing.T) {
	registry := prometheus.NewRegistry()
	hub := relay.NewHub(relay.Options{Metrics: relay.NewMetrics(registry)})
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	srv := httptest.NewServer(server.NewRouter(hub, &config.RelayConfig{SendBuffer: 32}, registry, slog.Default()))
	defer srv.Close()

	a := connect(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "")
	a.start()
	defer a.cancel()

	stopHub()
	<-hub.Done()

	ev := a.events.next(t)
	lost, ok := ev.(mesh.ChannelLost)
	require.True(t, ok, "got %T", ev)
	assert.ErrorIs(t, lost.Err, ErrLost)

	assert.ErrorIs(t, a.router.LeaveRoom("R1"), ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startRelay(t)
	a := connect(t, url, "")

	a.client.Close()
	a.client.Close()
	assert.ErrorIs(t, a.router.JoinRoom("R1"), ErrClosed)
	assert.NoError(t, a.client.Err())
}

func TestCloseFlushesQueuedMessages(t *testing.T) {
	url := startRelay(t)
	a := connect(t, url, "")
	b := connect(t, url, "")
	a.start()
	b.start()
	defer a.cancel()
	defer b.cancel()

	require.NoError(t, a.router.JoinRoom("R1"))
	a.events.next(t)
	require.NoError(t, b.router.JoinRoom("R1"))
	b.events.next(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.router.SendSignal(mesh.Envelope{From: b.id, To: a.id, Fragment: mesh.Fragment{byte(i)}}))
	}
	b.client.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, mesh.FragmentReceived{Envelope: mesh.Envelope{From: b.id, To: a.id, Fragment: mesh.Fragment{byte(i)}}}, a.events.next(t))
	}
	assert.Equal(t, mesh.ParticipantLeft{ID: b.id}, a.events.next(t))
}

type stoppedSink struct{}

func (stoppedSink) Post(context.Context, mesh.Event) error { return mesh.ErrStopped }

func TestChannelLostLoggedWhenSinkStopped(t *testing.T) {
	url := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(url, nil)
	require.NoError(t, client.Connect(ctx))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := NewRouter(client, "", logger)
	_, err := router.WaitSession(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		router.Start(context.Background(), stoppedSink{})
		close(done)
	}()

	client.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the connection closed")
	}

	assert.Contains(t, logs.String(), "relay connection lost")
	assert.Contains(t, logs.String(), "event sink closed")
}
