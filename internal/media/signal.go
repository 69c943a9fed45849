package media

import (
	"encoding/json"
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

// Signal types carried inside a fragment.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

var ErrUnexpectedSignal = errors.New("unexpected signal type")

// Signal is the engine's fragment format. The coordinator and the relay never
// look inside it.
type Signal struct {
	Type      string                 `json:"type"`
	SDP       string                 `json:"sdp,omitempty"`
	Candidate *pion.ICECandidateInit `json:"candidate,omitempty"`
}

func EncodeSignal(s Signal) (mesh.Fragment, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode signal: %w", err)
	}
	return b, nil
}

// DecodeSignal parses and checks a fragment.
func DecodeSignal(f mesh.Fragment) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(f, &s); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}

	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return Signal{}, fmt.Errorf("decode signal: %s without sdp", s.Type)
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return Signal{}, errors.New("decode signal: candidate missing")
		}
	default:
		return Signal{}, fmt.Errorf("%w: %q", ErrUnexpectedSignal, s.Type)
	}
	return s, nil
}

func descriptionSignal(desc *pion.SessionDescription) Signal {
	t := SignalOffer
	if desc.Type == pion.SDPTypeAnswer {
		t = SignalAnswer
	}
	return Signal{Type: t, SDP: desc.SDP}
}
