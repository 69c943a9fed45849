package media

import (
	"log/slog"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/netutil"
)

// TrackSource is a local stream that can feed tracks into peer connections.
type TrackSource interface {
	Tracks() []pion.TrackLocal
}

// Engine builds one pion peer connection per remote participant. It implements
// mesh.ConnectionFactory.
type Engine struct {
	api     *pion.API
	ice     pion.Configuration
	trickle bool
	name    string
	log     *slog.Logger
}

type Options struct {
	// Settings tunes the ICE agent. Nil uses pion defaults.
	Settings *pion.SettingEngine
	Logger   *slog.Logger
}

func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, mesh.NewError("register codecs", err)
	}

	apiOpts := []func(*pion.API){pion.WithMediaEngine(m)}
	if opts.Settings != nil {
		apiOpts = append(apiOpts, pion.WithSettingEngine(*opts.Settings))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		api:     pion.NewAPI(apiOpts...),
		ice:     ICEConfiguration(cfg, netutil.ShouldForceRelay()),
		trickle: cfg.Trickle,
		name:    cfg.Name,
		log:     logger.With("component", "media"),
	}, nil
}

// ICEConfiguration builds the ICE server list from cfg. Media is restricted to
// TURN when relaying is forced or the network looks like CGNAT, provided a TURN
// server is configured.
func ICEConfiguration(cfg *config.Config, restrictive bool) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || restrictive) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewConnection implements mesh.ConnectionFactory.
func (e *Engine) NewConnection(opts mesh.ConnectionOptions) (mesh.Connection, error) {
	pc, err := e.api.NewPeerConnection(e.ice)
	if err != nil {
		return nil, mesh.NewPeerError("create peer connection", opts.Peer, err)
	}

	var tracks []pion.TrackLocal
	if src, ok := opts.Stream.(TrackSource); ok {
		tracks = src.Tracks()
	}

	p, err := newPeer(pc, peerOptions{
		id:      opts.Peer,
		role:    opts.Role,
		tracks:  tracks,
		trickle: e.trickle,
		name:    e.name,
		log:     e.log.With("peer", string(opts.Peer), "role", opts.Role.String()),
	})
	if err != nil {
		pc.Close()
		return nil, mesh.NewPeerError("create peer connection", opts.Peer, err)
	}
	return p, nil
}
