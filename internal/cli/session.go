package cli

import (
	"context"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/dns"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/signaling"
)

// ConnectionContext is one live session with the relay.
type ConnectionContext struct {
	Client *signaling.Client
	Router *signaling.Router
	Config *config.Config
	Self   mesh.ParticipantID
}

// NewConnectionContext dials the relay and waits for the session id.
func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.WebSocketURL, dns.NewResolver())
	if err := client.Connect(ctx); err != nil {
		return nil, mesh.NewError("connect to relay", err)
	}

	router := signaling.NewRouter(client, cfg.Name, nil)
	self, err := router.WaitSession(ctx)
	if err != nil {
		client.Close()
		return nil, mesh.NewError("open session", err)
	}

	return &ConnectionContext{
		Client: client,
		Router: router,
		Config: cfg,
		Self:   self,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, mesh.NewError("load config", err)
	}
	return cfg, nil
}
