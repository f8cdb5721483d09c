package relay

import (
	"context"
	"net/http"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/monitoring"
	"github.com/confabhq/confab/pkg/network/httpx"
	"github.com/confabhq/confab/pkg/service"
)

// Relay is the signaling server: a websocket hub at /ws plus an ICE
// server list endpoint at /ice.
type Relay struct {
	services service.Group
	hub      *Hub
	ice      *IceSource
	log      *logger.Logger
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	ice := NewIceSource(conf.Webrtc, log)
	hub := NewHub(conf.Relay.Origin, NewMetrics(nil), log)

	serv, err := httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(*httpx.Server) http.Handler {
			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			mux.HandleFunc("/ice", ice.Handler())
			return mux
		},
		httpx.WithServerConfig(conf.Relay.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		ice.Close()
		return nil, err
	}

	r := &Relay{hub: hub, ice: ice, log: log}
	r.services.Add(serv)
	r.services.AddIf(conf.Relay.Monitoring.IsEnabled(), monitoring.New(conf.Relay.Monitoring, "r", log))
	return r, nil
}

func (r *Relay) Start() { r.services.Start() }

func (r *Relay) Shutdown(ctx context.Context) error {
	r.ice.Close()
	r.hub.Close()
	return r.services.Shutdown(ctx)
}
