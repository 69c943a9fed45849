package mesh

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	live bool
}

func (s fakeStream) ID() string { return "local-stream" }
func (s fakeStream) Live() bool { return s.live }

type fakeConn struct {
	opts   ConnectionOptions
	events chan ConnEvent

	// answer, when set, is emitted after the first Signal call.
	answer Fragment

	mu        sync.Mutex
	signals   []Fragment
	closes    int
	closeOnce sync.Once
}

func (f *fakeConn) Signal(fr Fragment) error {
	f.mu.Lock()
	f.signals = append(f.signals, fr)
	first := len(f.signals) == 1
	f.mu.Unlock()

	if first && f.answer != nil {
		f.events <- ConnEvent{Kind: FragmentEmitted, Fragment: f.answer}
	}
	return nil
}

func (f *fakeConn) Events() <-chan ConnEvent { return f.events }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeConn) emit(ev ConnEvent) {
	f.events <- ev
}

func (f *fakeConn) received() []Fragment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Fragment, len(f.signals))
	copy(out, f.signals)
	return out
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeFactory builds fakeConns. Initiators emit an offer right away when
// autoOffer is set; responders answer their first fragment when autoAnswer is set.
type fakeFactory struct {
	autoOffer  bool
	autoAnswer bool
	fail       map[ParticipantID]bool

	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConnection(opts ConnectionOptions) (Connection, error) {
	if f.fail[opts.Peer] {
		return nil, errors.New("engine refused")
	}

	conn := &fakeConn{opts: opts, events: make(chan ConnEvent, 16)}
	if opts.Role == RoleResponder && f.autoAnswer {
		conn.answer = Fragment("answer-for-" + string(opts.Peer))
	}
	if opts.Role == RoleInitiator && f.autoOffer {
		conn.events <- ConnEvent{Kind: FragmentEmitted, Fragment: Fragment("offer-for-" + string(opts.Peer))}
	}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeConn, len(f.conns))
	copy(out, f.conns)
	return out
}

func (f *fakeFactory) forPeer(id ParticipantID) *fakeConn {
	for _, c := range f.all() {
		if c.opts.Peer == id {
			return c
		}
	}
	return nil
}

type sentMessage struct {
	Kind string
	Room RoomID
	Env  Envelope
}

type fakeSender struct {
	out chan sentMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{out: make(chan sentMessage, 64)}
}

func (s *fakeSender) JoinRoom(room RoomID) error {
	s.out <- sentMessage{Kind: "join-room", Room: room}
	return nil
}

func (s *fakeSender) SendOffer(env Envelope) error {
	s.out <- sentMessage{Kind: "send-offer", Env: env}
	return nil
}

func (s *fakeSender) SendSignal(env Envelope) error {
	s.out <- sentMessage{Kind: "send-signal", Env: env}
	return nil
}

func (s *fakeSender) SendReturning(env Envelope) error {
	s.out <- sentMessage{Kind: "send-returning", Env: env}
	return nil
}

func (s *fakeSender) LeaveRoom(room RoomID) error {
	s.out <- sentMessage{Kind: "leave-room", Room: room}
	return nil
}

func (s *fakeSender) take(t *testing.T, n int) []sentMessage {
	t.Helper()
	var got []sentMessage
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case m := <-s.out:
			got = append(got, m)
		case <-timeout:
			t.Fatalf("expected %d sent messages, got %d: %+v", n, len(got), got)
		}
	}
	return got
}

func (s *fakeSender) pending() int {
	return len(s.out)
}

type recordingObserver struct {
	mu      sync.Mutex
	added   []ParticipantID
	ready   []ParticipantID
	removed []ParticipantID
	changed int
}

func (o *recordingObserver) PeerAdded(v PeerView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, v.ID)
}

func (o *recordingObserver) PeerChanged(PeerView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed++
}

func (o *recordingObserver) StreamReady(v PeerView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = append(o.ready, v.ID)
}

func (o *recordingObserver) PeerRemoved(id ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, id)
}

// drain handles n queued connection events on the calling goroutine.
func drain(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case ev := <-c.events:
			if err := c.Handle(ev); err != nil {
				t.Fatalf("handle %T: %v", ev, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d queued events, handled %d", n, i)
		}
	}
}
