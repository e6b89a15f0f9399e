package app

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"gopkg.in/op/go-logging.v1"

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
	"peerlink/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// ErrNotRunning is returned by operations that need a started node.
var ErrNotRunning = errors.New("node is not running")

// App is one peerlink node.
type App struct {
	worker.Worker

	cfg      *Config
	backend  *plog.Backend
	log      *logging.Logger
	identity *identity.Service
	caps     domain.Capability
	bridge   domain.Bridge
	clock    clock.Clock
	metrics  *metrics.Metrics

	registry *registry.Registry
	conns    *connection.Manager
	messages *message.Service
	status   *status.Server

	mu        sync.Mutex
	beacon    *discovery.Beacon
	startedAt time.Time
	running   bool
	stopped   bool
}

// Start binds the data listener, the discovery beacon and the status API. A
// discovery failure is logged and the node continues without it.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running || a.stopped {
		return errors.New("app: already started")
	}

	addr := net.JoinHostPort(a.cfg.Node.ListenAddress, strconv.Itoa(a.cfg.Node.DataPort))
	if err := a.conns.Listen(addr); err != nil {
		return err
	}
	dataPort := uint16(a.conns.Addr().(*net.TCPAddr).Port)

	if a.status != nil {
		if err := a.status.Start(a.cfg.Status.Address); err != nil {
			_ = a.conns.Close()
			return domain.NewError(domain.ErrTransport, "status listen", "", err)
		}
	}

	if !a.cfg.Discovery.Disable {
		b := a.newBeacon(dataPort)
		if err := b.Start(); err != nil {
			a.log.Warningf("Discovery unavailable, continuing with manual connections only: %v", err)
			b.Halt()
		} else {
			a.beacon = b
			a.Go(a.sweepLoop)
		}
	}

	a.startedAt = a.clock.Now()
	a.running = true
	a.log.Noticef("Node %s up (fingerprint %s, data port %d)", a.identity.Self(), a.identity.Fingerprint(), dataPort)
	return nil
}

// Stop halts discovery, closes every session and shuts the status API down.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	wasRunning := a.running
	a.running = false
	beacon := a.beacon
	a.mu.Unlock()

	a.Halt()
	if beacon != nil {
		beacon.Halt()
	}

	err := a.conns.Close()
	if wasRunning && a.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = multierr.Append(err, a.status.Shutdown(ctx))
		cancel()
	}
	a.log.Noticef("Node %s stopped", a.identity.Self())
	return multierr.Append(err, a.backend.Close())
}

// Run starts the node and blocks until ctx is done, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// sweepLoop expires silent peers once per beacon interval.
func (a *App) sweepLoop() {
	t := a.clock.Ticker(a.cfg.Discovery.Interval.D())
	defer t.Stop()
	for {
		select {
		case <-a.HaltCh():
			return
		case <-t.C:
		}
		for _, id := range a.registry.ExpireSweep() {
			a.log.Infof("Peer %s expired", id)
		}
		a.metrics.SetPeersLive(a.livePeers())
	}
}

// livePeers counts unexpired records. Expired ones linger until the next sweep.
func (a *App) livePeers() int {
	return len(a.registry.ListLive())
}

func (a *App) onObserve(rec domain.PeerRecord, isNew bool) {
	if isNew {
		a.metrics.SetPeersLive(a.livePeers())
		a.bridge.OnPeerDiscovered(rec.Identity, rec.Address)
	}
	if a.cfg.Node.AutoConnect {
		a.conns.AutoConnect(rec)
	}
}

func (a *App) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Self returns the node identity.
func (a *App) Self() domain.PeerIdentity { return a.identity.Self() }

// Fingerprint returns the fingerprint of the shared secret's master key.
func (a *App) Fingerprint() domain.Fingerprint { return a.identity.Fingerprint() }

// Metrics returns the node's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Messages returns the typed message service.
func (a *App) Messages() *message.Service { return a.messages }

// DataAddr returns the bound data listener address, or nil before Start.
func (a *App) DataAddr() net.Addr { return a.conns.Addr() }

// DiscoveryAddr returns the bound beacon address, or nil when discovery is off.
func (a *App) DiscoveryAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.beacon == nil {
		return nil
	}
	return a.beacon.LocalAddr()
}

// StatusAddr returns the bound status API address, or nil when disabled.
func (a *App) StatusAddr() net.Addr {
	if a.status == nil {
		return nil
	}
	return a.status.Addr()
}

// SendTo delivers plaintext to id over its live session.
func (a *App) SendTo(id domain.PeerIdentity, plaintext []byte) bool {
	return a.conns.SendTo(id, plaintext)
}

// Broadcast delivers plaintext to every live session.
func (a *App) Broadcast(plaintext []byte) int {
	return a.conns.Broadcast(plaintext)
}

// ConnectManual opens (or returns) the session with whoever listens on addr,
// bypassing discovery.
func (a *App) ConnectManual(ctx context.Context, addr string) (*session.Session, error) {
	if !a.isRunning() {
		return nil, domain.NewError(domain.ErrConnect, "connect "+addr, "", ErrNotRunning)
	}
	return a.conns.Connect(ctx, addr)
}

// Peers returns the live registry, ordered by identity.
func (a *App) Peers() []domain.PeerRecord { return a.registry.ListLive() }

// Sessions returns the live sessions, ordered by peer.
func (a *App) Sessions() []domain.SessionInfo { return a.conns.Sessions() }

// Status summarises the node for the status API.
func (a *App) Status() status.Summary {
	a.mu.Lock()
	started, discovering := a.startedAt, a.beacon != nil
	a.mu.Unlock()

	sum := status.Summary{
		Identity:    a.Self(),
		Fingerprint: a.Fingerprint(),
		Discovery:   discovering,
		PeersLive:   a.livePeers(),
		Sessions:    a.conns.Count(),
		StartedAt:   started,
	}
	if addr := a.DataAddr(); addr != nil {
		sum.DataAddress = addr.String()
	}
	return sum
}

// Connect is ConnectManual for the status API.
func (a *App) Connect(ctx context.Context, addr string) (domain.SessionInfo, error) {
	s, err := a.ConnectManual(ctx, addr)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return s.Info(), nil
}

// Send encodes body as a typed message and delivers it to peer.
func (a *App) Send(peer domain.PeerIdentity, kind domain.MessageKind, body []byte) (bool, error) {
	return a.messages.Send(peer, kind, body)
}

var _ status.Node = (*App)(nil)
