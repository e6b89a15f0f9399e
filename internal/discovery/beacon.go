package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/op/go-logging.v1"

	"peerlink/internal/domain"
	"peerlink/internal/metrics"
	"peerlink/internal/worker"
)

// Config controls a Beacon.
type Config struct {
	// BindAddress is the IP the discovery socket binds to; empty means all.
	BindAddress string
	// Port is the UDP discovery port shared by all nodes.
	Port int
	// Interval between announcements.
	Interval time.Duration
	// Targets are host[:port] destinations; empty selects BroadcastTargets.
	Targets []string
	// AdvertiseHost is put in the beacon's host field. Empty tells receivers to
	// use the datagram's source address.
	AdvertiseHost string

	Clock clock.Clock
}

// ObserveFunc is called for every accepted beacon after the registry has been
// updated. isNew is true the first time a peer is seen, or after it expired.
type ObserveFunc func(rec domain.PeerRecord, isNew bool)

// Beacon periodically announces this node and feeds received announcements
// into a PeerRegistry.
type Beacon struct {
	worker.Worker

	cfg       Config
	self      domain.PeerIdentity
	dataPort  uint16
	caps      domain.Capability
	registry  domain.PeerRegistry
	onObserve ObserveFunc
	log       *logging.Logger
	metrics   *metrics.Metrics

	conn    *net.UDPConn
	targets []*net.UDPAddr
	started atomic.Bool
}

// New returns an unstarted Beacon.
func New(
	cfg Config,
	self domain.PeerIdentity,
	dataPort uint16,
	caps domain.Capability,
	registry domain.PeerRegistry,
	onObserve ObserveFunc,
	log *logging.Logger,
	m *metrics.Metrics,
) *Beacon {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Beacon{
		cfg:       cfg,
		self:      self,
		dataPort:  dataPort,
		caps:      caps,
		registry:  registry,
		onObserve: onObserve,
		log:       log,
		metrics:   m,
	}
}

// Start binds the discovery socket and launches the send and receive loops.
// A bind failure is a domain.ErrDiscovery; the node can carry on without
// discovery.
func (b *Beacon) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	payload, err := marshalBeacon(&announcement{
		Identity: b.self,
		Host:     b.cfg.AdvertiseHost,
		Port:     b.dataPort,
		Caps:     b.caps,
	})
	if err != nil {
		return domain.NewError(domain.ErrDiscovery, "discovery start", "", err)
	}

	if len(b.cfg.Targets) == 0 {
		b.targets = BroadcastTargets(b.cfg.Port)
	} else if b.targets, err = resolveTargets(b.cfg.Targets, b.cfg.Port); err != nil {
		return domain.NewError(domain.ErrDiscovery, "discovery targets", "", err)
	}

	lc := net.ListenConfig{Control: reuseControl}
	addr := net.JoinHostPort(b.cfg.BindAddress, strconv.Itoa(b.cfg.Port))
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return domain.NewError(domain.ErrDiscovery, "discovery bind", "", err)
	}
	b.conn = pc.(*net.UDPConn)
	b.log.Noticef("Listening for beacons on %v, announcing to %d target(s) every %v",
		b.conn.LocalAddr(), len(b.targets), b.cfg.Interval)

	b.Go(func() { b.sendLoop(payload) })
	b.Go(b.recvLoop)
	return nil
}

// Halt closes the socket and waits for both loops to exit.
func (b *Beacon) Halt() {
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.Worker.Halt()
}

// LocalAddr returns the bound discovery address, or nil before Start.
func (b *Beacon) LocalAddr() *net.UDPAddr {
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr().(*net.UDPAddr)
}

func (b *Beacon) sendLoop(payload []byte) {
	ticker := b.cfg.Clock.Ticker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		b.announce(payload)
		select {
		case <-b.HaltCh():
			return
		case <-ticker.C:
		}
	}
}

func (b *Beacon) announce(payload []byte) {
	sent := 0
	for _, dst := range b.targets {
		if _, err := b.conn.WriteToUDP(payload, dst); err != nil {
			if b.IsHalted() {
				return
			}
			b.log.Debugf("Beacon to %v failed: %v", dst, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(b.targets) > 0 {
		b.log.Warningf("Beacon could not be sent to any of %d target(s)", len(b.targets))
		return
	}
	b.metrics.BeaconSent()
}

func (b *Beacon) recvLoop() {
	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, src, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if b.IsHalted() || errors.Is(err, net.ErrClosed) {
				return
			}
			b.log.Debugf("Beacon read failed: %v", err)
			continue
		}
		b.handle(buf[:n], src)
	}
}

func (b *Beacon) handle(datagram []byte, src *net.UDPAddr) {
	a, err := parseBeacon(datagram)
	if err != nil {
		var de *dropError
		if errors.As(err, &de) {
			b.metrics.BeaconDropped(de.reason)
		}
		b.log.Debugf("Dropped datagram from %v: %v", src, err)
		return
	}
	if a.Identity == b.self {
		return
	}

	b.metrics.BeaconReceived()
	rec, isNew := b.registry.Observe(a.Identity, a.dataAddress(src), a.Caps)
	if isNew {
		b.log.Infof("Discovered %s at %s", rec.Identity, rec.Address)
	}
	if b.onObserve != nil {
		b.onObserve(rec, isNew)
	}
}
