package media

import (
	"fmt"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

// run is the peer's worker. The initiator opens with an offer; after that the
// worker only reacts to remote fragments.
func (p *Peer) run() {
	if p.role == mesh.RoleInitiator {
		if err := p.offer(); err != nil && !p.isClosed() {
			p.log.Error("create offer", "err", err)
		}
	}

	for {
		select {
		case f := <-p.inbox:
			if err := p.apply(f); err != nil && !p.isClosed() {
				p.log.Warn("signal rejected", "err", err)
			}
		case <-p.closed:
			return
		}
	}
}

func (p *Peer) offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return mesh.NewPeerError("create offer", p.id, err)
	}
	return p.publishLocal(offer)
}

func (p *Peer) answer() error {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return mesh.NewPeerError("create answer", p.id, err)
	}
	return p.publishLocal(answer)
}

// publishLocal sets the local description and emits it. Without trickle it
// waits for gathering so the description carries every candidate.
func (p *Peer) publishLocal(desc pion.SessionDescription) error {
	var gathered <-chan struct{}
	if !p.trickle {
		gathered = pion.GatheringCompletePromise(p.pc)
	}

	if err := p.pc.SetLocalDescription(desc); err != nil {
		return mesh.NewPeerError("set local description", p.id, err)
	}

	if gathered != nil {
		select {
		case <-gathered:
		case <-p.closed:
			return ErrClosed
		}
	}

	f, err := EncodeSignal(descriptionSignal(p.pc.LocalDescription()))
	if err != nil {
		return err
	}

	p.candMu.Lock()
	defer p.candMu.Unlock()

	p.emit(mesh.ConnEvent{Kind: mesh.FragmentEmitted, Fragment: f})
	p.descSent = true
	for _, c := range p.local {
		p.emitCandidate(c)
	}
	p.local = nil
	return nil
}

func (p *Peer) queueLocalCandidate(c pion.ICECandidateInit) {
	p.candMu.Lock()
	defer p.candMu.Unlock()

	if !p.descSent {
		p.local = append(p.local, c)
		return
	}
	p.emitCandidate(c)
}

func (p *Peer) emitCandidate(c pion.ICECandidateInit) {
	f, err := EncodeSignal(Signal{Type: SignalCandidate, Candidate: &c})
	if err != nil {
		p.log.Warn("encode candidate", "err", err)
		return
	}
	p.emit(mesh.ConnEvent{Kind: mesh.FragmentEmitted, Fragment: f})
}

// apply handles one remote fragment.
func (p *Peer) apply(f mesh.Fragment) error {
	sig, err := DecodeSignal(f)
	if err != nil {
		return mesh.NewPeerError("apply signal", p.id, err)
	}

	switch sig.Type {
	case SignalOffer:
		if p.role != mesh.RoleResponder {
			return mesh.NewPeerError("apply signal", p.id, fmt.Errorf("%w: offer sent to initiator", ErrUnexpectedSignal))
		}
		if err := p.setRemote(pion.SDPTypeOffer, sig.SDP); err != nil {
			return err
		}
		return p.answer()

	case SignalAnswer:
		if p.role != mesh.RoleInitiator {
			return mesh.NewPeerError("apply signal", p.id, fmt.Errorf("%w: answer sent to responder", ErrUnexpectedSignal))
		}
		return p.setRemote(pion.SDPTypeAnswer, sig.SDP)

	default:
		if p.pc.RemoteDescription() == nil {
			p.remote = append(p.remote, *sig.Candidate)
			return nil
		}
		if err := p.pc.AddICECandidate(*sig.Candidate); err != nil {
			return mesh.NewPeerError("add ICE candidate", p.id, err)
		}
		return nil
	}
}

// setRemote applies a remote description and then any candidates that arrived
// ahead of it.
func (p *Peer) setRemote(t pion.SDPType, sdp string) error {
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: t, SDP: sdp}); err != nil {
		return mesh.NewPeerError("set remote description", p.id, err)
	}

	pending := p.remote
	p.remote = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn("add queued ICE candidate", "err", err)
		}
	}
	return nil
}
