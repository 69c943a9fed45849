package media

import (
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/mesh"
)

func TestSignalCodec(t *testing.T) {
	mid := "0"
	f, err := EncodeSignal(Signal{Type: SignalCandidate, Candidate: &pion.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid}})
	require.NoError(t, err)

	sig, err := DecodeSignal(f)
	require.NoError(t, err)
	assert.Equal(t, SignalCandidate, sig.Type)
	assert.Equal(t, "0", *sig.Candidate.SDPMid)

	for name, raw := range map[string]string{
		"not json":          "nope",
		"unknown type":      `{"type":"pranswer","sdp":"v=0"}`,
		"offer without sdp": `{"type":"offer"}`,
		"bare candidate":    `{"type":"candidate"}`,
	} {
		_, err := DecodeSignal(mesh.Fragment(raw))
		assert.Error(t, err, name)
	}

	_, err = DecodeSignal(mesh.Fragment(`{"type":"rollback"}`))
	assert.ErrorIs(t, err, ErrUnexpectedSignal)
}

func TestHelloRoundTrip(t *testing.T) {
	data, err := encodeHello("alice")
	require.NoError(t, err)

	msg, err := ParseControlMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeHello, msg.Type)

	var hello HelloPayload
	require.NoError(t, msg.DecodePayload(&hello))
	assert.Equal(t, "alice", hello.Name)
	assert.NotEmpty(t, hello.Version)

	_, err = ParseControlMessage([]byte{0xc1})
	assert.Error(t, err)

	raw, err := msgpack.Marshal(ControlMessage{Type: "later"})
	require.NoError(t, err)
	msg, err = ParseControlMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "later", msg.Type)
}

func TestICEConfiguration(t *testing.T) {
	cfg := &config.Config{STUNServers: []string{"stun:stun.example.com:3478"}}
	ice := ICEConfiguration(cfg, true)
	require.Len(t, ice.ICEServers, 1)
	assert.Equal(t, pion.ICETransportPolicyAll, ice.ICETransportPolicy, "no TURN means no relay policy")

	cfg.TURNServer = "turn.example.com"
	cfg.TURNUser = "u"
	cfg.TURNPass = "p"
	ice = ICEConfiguration(cfg, false)
	require.Len(t, ice.ICEServers, 2)
	assert.Equal(t, "u", ice.ICEServers[1].Username)
	assert.Equal(t, "p", ice.ICEServers[1].Credential)
	assert.Equal(t, pion.ICETransportPolicyAll, ice.ICETransportPolicy)

	assert.Equal(t, pion.ICETransportPolicyRelay, ICEConfiguration(cfg, true).ICETransportPolicy)

	cfg.ForceRelay = true
	assert.Equal(t, pion.ICETransportPolicyRelay, ICEConfiguration(cfg, false).ICETransportPolicy)
}

func newTestEngine(t *testing.T, trickle bool, name string) *Engine {
	t.Helper()
	e, err := NewEngine(&config.Config{Trickle: trickle, Name: name}, Options{})
	require.NoError(t, err)
	return e
}

func nextFragment(t *testing.T, c mesh.Connection) Signal {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "events closed")
			if ev.Kind != mesh.FragmentEmitted {
				continue
			}
			sig, err := DecodeSignal(ev.Fragment)
			require.NoError(t, err)
			return sig
		case <-timeout:
			t.Fatal("no fragment emitted")
			return Signal{}
		}
	}
}

func TestOfferAnswerWithoutTrickle(t *testing.T) {
	a := newTestEngine(t, false, "a")
	b := newTestEngine(t, false, "b")

	initiator, err := a.NewConnection(mesh.ConnectionOptions{Peer: "b", Role: mesh.RoleInitiator})
	require.NoError(t, err)
	defer initiator.Close()

	offer := nextFragment(t, initiator)
	require.Equal(t, SignalOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=application")

	responder, err := b.NewConnection(mesh.ConnectionOptions{Peer: "a", Role: mesh.RoleResponder})
	require.NoError(t, err)
	defer responder.Close()

	f, err := EncodeSignal(offer)
	require.NoError(t, err)
	require.NoError(t, responder.Signal(f))

	answer := nextFragment(t, responder)
	require.Equal(t, SignalAnswer, answer.Type)
	assert.True(t, strings.HasPrefix(answer.SDP, "v=0"))

	f, err = EncodeSignal(answer)
	require.NoError(t, err)
	assert.NoError(t, initiator.Signal(f))
}

func TestTrickleEmitsDescriptionFirst(t *testing.T) {
	e := newTestEngine(t, true, "a")

	c, err := e.NewConnection(mesh.ConnectionOptions{Peer: "b", Role: mesh.RoleInitiator})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, SignalOffer, nextFragment(t, c).Type)
}

func TestCloseEndsEvents(t *testing.T) {
	e := newTestEngine(t, true, "a")

	c, err := e.NewConnection(mesh.ConnectionOptions{Peer: "b", Role: mesh.RoleResponder})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for range c.Events() {
	}
	assert.ErrorIs(t, c.Signal(mesh.Fragment(`{}`)), ErrClosed)
}
