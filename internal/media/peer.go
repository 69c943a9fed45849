package media

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

const (
	inboxSize  = 64
	eventsSize = 64
)

var (
	ErrClosed  = errors.New("peer connection closed")
	ErrBacklog = errors.New("signal backlog full")
)

type peerOptions struct {
	id      mesh.ParticipantID
	role    mesh.Role
	tracks  []pion.TrackLocal
	trickle bool
	name    string
	log     *slog.Logger
}

// Peer wraps one pion peer connection. A single worker goroutine applies
// incoming fragments in order; pion callbacks only emit events.
type Peer struct {
	id      mesh.ParticipantID
	role    mesh.Role
	pc      *pion.PeerConnection
	control *pion.DataChannel
	trickle bool
	name    string
	log     *slog.Logger

	inbox  chan mesh.Fragment
	events chan mesh.ConnEvent
	closed chan struct{}
	once   sync.Once

	spawnMu  sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	emitMu       sync.RWMutex
	eventsClosed bool

	// Local candidates wait until the description they belong to is sent.
	candMu   sync.Mutex
	descSent bool
	local    []pion.ICECandidateInit

	// Remote candidates wait for the remote description. Worker only.
	remote []pion.ICECandidateInit

	realized atomic.Bool
	received atomic.Int64
}

func newPeer(pc *pion.PeerConnection, opts peerOptions) (*Peer, error) {
	p := &Peer{
		id:      opts.id,
		role:    opts.role,
		pc:      pc,
		trickle: opts.trickle,
		name:    opts.name,
		log:     opts.log,
		inbox:   make(chan mesh.Fragment, inboxSize),
		events:  make(chan mesh.ConnEvent, eventsSize),
		closed:  make(chan struct{}),
	}

	if err := p.addMedia(opts.tracks); err != nil {
		return nil, err
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{Negotiated: &negotiated, ID: &id})
	if err != nil {
		return nil, err
	}
	p.control = dc
	p.setupControlHandlers()
	p.setupHandlers()

	p.spawn(p.run)

	return p, nil
}

// addMedia sends every local track. The initiator also asks to receive the
// kinds it does not send so the offer always carries audio and video.
func (p *Peer) addMedia(tracks []pion.TrackLocal) error {
	sending := map[pion.RTPCodecType]bool{}
	for _, track := range tracks {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return err
		}
		sending[track.Kind()] = true

		p.spawn(func() { readRTCP(sender) })
	}

	if p.role != mesh.RoleInitiator {
		return nil
	}
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
		if sending[kind] {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// readRTCP drains RTCP so interceptors keep working.
func readRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) setupHandlers() {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || !p.trickle {
			return
		}
		p.queueLocalCandidate(c.ToJSON())
	})

	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Debug("connection state", "state", state.String())
		p.emit(mesh.ConnEvent{Kind: mesh.LinkStateChanged, Link: state.String()})
	})

	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if p.realized.CompareAndSwap(false, true) {
			p.emit(mesh.ConnEvent{
				Kind: mesh.StreamRealized,
				Stream: mesh.RemoteStream{
					ID:    track.StreamID(),
					Kinds: []string{track.Kind().String()},
				},
			})
		}

		p.spawn(func() { p.drain(track) })
	})
}

func (p *Peer) setupControlHandlers() {
	p.control.OnOpen(func() {
		if err := sendHello(p.control, p.name); err != nil {
			p.log.Warn("send hello", "err", err)
		}
	})

	p.control.OnMessage(func(msg pion.DataChannelMessage) {
		message, err := ParseControlMessage(msg.Data)
		if err != nil {
			p.log.Warn("bad control message", "err", err)
			return
		}

		switch message.Type {
		case MessageTypeHello:
			var hello HelloPayload
			if err := message.DecodePayload(&hello); err != nil {
				p.log.Warn("bad hello", "err", err)
				return
			}
			p.emit(mesh.ConnEvent{
				Kind: mesh.PeerInfoReceived,
				Info: mesh.PeerInfo{Name: hello.Name, Version: hello.Version},
			})
		default:
			p.log.Debug("ignoring control message", "type", message.Type)
		}
	})
}

// drain reads a remote track until it ends, counting bytes.
func (p *Peer) drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		p.received.Add(int64(n))
	}
}

// BytesReceived is the media payload read from this peer so far.
func (p *Peer) BytesReceived() int64 {
	return p.received.Load()
}

// Signal queues a remote fragment for the worker. It never blocks.
func (p *Peer) Signal(f mesh.Fragment) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case p.inbox <- f:
		return nil
	case <-p.closed:
		return ErrClosed
	default:
		return ErrBacklog
	}
}

func (p *Peer) Events() <-chan mesh.ConnEvent {
	return p.events
}

// Close tears the connection down and closes Events. Safe to call more than once.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)

		p.spawnMu.Lock()
		p.stopping = true
		p.spawnMu.Unlock()

		err = p.pc.Close()
		p.wg.Wait()

		p.emitMu.Lock()
		p.eventsClosed = true
		close(p.events)
		p.emitMu.Unlock()
	})
	return err
}

// spawn runs fn on a goroutine that Close waits for. Nothing starts once Close
// has begun.
func (p *Peer) spawn(fn func()) {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	if p.stopping {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Peer) emit(ev mesh.ConnEvent) {
	p.emitMu.RLock()
	defer p.emitMu.RUnlock()
	if p.eventsClosed {
		return
	}

	select {
	case p.events <- ev:
	case <-p.closed:
	}
}

func (p *Peer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}
