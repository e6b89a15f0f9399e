package app

import (
	"fmt"
	"net"

	"github.com/benbjohnson/clock"

	"peerlink/internal/bridge"
	"peerlink/internal/discovery"
	"peerlink/internal/domain"
	plog "peerlink/internal/log"
	"peerlink/internal/metrics"
	"peerlink/internal/registry"
	"peerlink/internal/services/connection"
	"peerlink/internal/services/identity"
	"peerlink/internal/services/message"
	"peerlink/internal/services/session"
	"peerlink/internal/status"
)

// New constructs the node described by cfg, delivering events to b (nil
// ignores them). cfg must have passed FixupAndValidate. Nothing is bound until
// Start.
func New(cfg *Config, b domain.Bridge) (*App, error) {
	return newApp(cfg, b, clock.New())
}

func newApp(cfg *Config, b domain.Bridge, clk clock.Clock) (*App, error) {
	if b == nil {
		b = bridge.Nop
	}
	backend, err := plog.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	ids, err := identity.New(cfg.Node.Name, cfg.Session.Secret)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	caps, err := domain.ParseCapabilities(cfg.Node.Capabilities)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("config: Node: %w", err)
	}

	a := &App{
		cfg:      cfg,
		backend:  backend,
		log:      backend.GetLogger("app"),
		identity: ids,
		caps:     caps,
		bridge:   b,
		clock:    clk,
		metrics:  metrics.New(),
	}
	a.registry = registry.New(cfg.Discovery.Expiry(), clk)

	sCfg := cfg.Session
	a.conns = connection.New(
		connection.Config{
			ConnectTimeout:       sCfg.ConnectTimeout.D(),
			HandshakeTimeout:     sCfg.HandshakeTimeout.D(),
			MaxReconnectAttempts: sCfg.MaxReconnectAttempts,
			ReconnectBaseDelay:   sCfg.ReconnectBaseDelay.D(),
			ReconnectMaxDelay:    sCfg.ReconnectMaxDelay.D(),
			Session: session.Config{
				KeepaliveInterval: sCfg.KeepaliveInterval.D(),
				FailureThreshold:  sCfg.FailureThreshold,
			},
			Clock: clk,
		},
		ids.Self(),
		caps,
		ids.MasterKey(),
		a.registry,
		b,
		backend.GetLogger("connection"),
		backend.GetLogger("session"),
		a.metrics,
	)
	a.messages = message.New(a.conns, clk)

	if !cfg.Status.Disable {
		a.status = status.NewServer(a, a.metrics.Handler(), sCfg.ConnectTimeout.D()+sCfg.HandshakeTimeout.D(),
			backend.GetLogger("status"))
		a.status.SetErrorLog(backend.GetGoLogger("status", "WARNING"))
	}
	return a, nil
}

// beaconConfig binds discovery to every interface, since a socket bound to a
// unicast address never sees broadcasts. A specific ListenAddress is
// advertised instead so peers dial the interface the data listener is on.
func (a *App) beaconConfig() discovery.Config {
	dCfg := a.cfg.Discovery
	var host string
	if ip := net.ParseIP(a.cfg.Node.ListenAddress); ip != nil && !ip.IsUnspecified() {
		host = ip.String()
	}
	return discovery.Config{
		Port:          dCfg.Port,
		Interval:      dCfg.Interval.D(),
		Targets:       dCfg.Targets,
		AdvertiseHost: host,
		Clock:         a.clock,
	}
}

// newBeacon is called from Start once the data port is known.
func (a *App) newBeacon(dataPort uint16) *discovery.Beacon {
	return discovery.New(
		a.beaconConfig(),
		a.identity.Self(),
		dataPort,
		a.caps,
		a.registry,
		a.onObserve,
		a.backend.GetLogger("discovery"),
		a.metrics,
	)
}
