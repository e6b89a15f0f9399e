package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gopkg.in/op/go-logging.v1"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol/handshake"
	"peerlink/internal/services/session"
	"peerlink/internal/worker"
)

var (
	// ErrPeerUnknown is returned by ConnectPeer for an identity that is not in
	// the registry or has expired.
	ErrPeerUnknown = errors.New("peer unknown or expired")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
)

// Config tunes a Manager.
type Config struct {
	ConnectTimeout       time.Duration
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	Session              session.Config
	Clock                clock.Clock
}

// Manager owns the data listener and the session table.
type Manager struct {
	worker.Worker

	cfg      Config
	self     domain.PeerIdentity
	caps     domain.Capability
	master   [crypto.KeyBytes]byte
	registry domain.PeerRegistry
	bridge   domain.Bridge
	log      *logging.Logger
	sessLog  *logging.Logger
	metrics  *metrics.Metrics

	dials singleflight.Group

	mu           sync.Mutex
	listener     net.Listener
	listenPort   uint16
	sessions     map[domain.PeerIdentity]*session.Session
	reconnecting map[domain.PeerIdentity]bool
	closed       bool
}

// New returns a manager for the local identity self. Sessions are keyed with
// master; discovered peers are looked up in registry; session lifecycle events
// and payloads go to bridge.
func New(
	cfg Config,
	self domain.PeerIdentity,
	caps domain.Capability,
	master [crypto.KeyBytes]byte,
	registry domain.PeerRegistry,
	bridge domain.Bridge,
	log, sessLog *logging.Logger,
	m *metrics.Metrics,
) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Session.Clock == nil {
		cfg.Session.Clock = cfg.Clock
	}
	return &Manager{
		cfg:          cfg,
		self:         self,
		caps:         caps,
		master:       master,
		registry:     registry,
		bridge:       bridge,
		log:          log,
		sessLog:      sessLog,
		metrics:      m,
		sessions:     make(map[domain.PeerIdentity]*session.Session),
		reconnecting: make(map[domain.PeerIdentity]bool),
	}
}

// Listen binds the data listener on addr and starts accepting sessions.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return domain.NewError(domain.ErrTransport, "listen", "", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	m.listener = ln
	m.listenPort = uint16(ln.Addr().(*net.TCPAddr).Port)
	m.Go(m.acceptLoop)
	m.mu.Unlock()

	m.log.Noticef("Accepting sessions on %v", ln.Addr())
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.IsHalted() || errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.Warningf("Accept failed: %v", err)
			select {
			case <-m.HaltCh():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		m.Go(func() { m.handleInbound(conn) })
	}
}

func (m *Manager) handleInbound(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	res, err := handshake.Respond(conn, m.params(""))
	if err != nil {
		m.log.Infof("Inbound handshake from %v failed: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	dialAddr := ""
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok && res.PeerListenPort != 0 {
		dialAddr = net.JoinHostPort(tcp.IP.String(), strconv.Itoa(int(res.PeerListenPort)))
	}
	if _, err := m.adopt(conn, res, dialAddr); err != nil {
		m.log.Debugf("Inbound session from %s not adopted: %v", res.Peer, err)
	}
}

// Connect dials addr and returns the session with whoever answers. An
// existing session to that address is returned as is.
func (m *Manager) Connect(ctx context.Context, addr string) (*session.Session, error) {
	s, err := m.dialAddress(ctx, addr, "")
	if err != nil {
		return nil, err
	}
	return m.current(s), nil
}

// ConnectPeer returns the live session with id, dialing the registry address
// when there is none.
func (m *Manager) ConnectPeer(ctx context.Context, id domain.PeerIdentity) (*session.Session, error) {
	if s := m.Session(id); s != nil {
		return s, nil
	}
	v, err, _ := m.dials.Do("id:"+string(id), func() (any, error) {
		if s := m.Session(id); s != nil {
			return s, nil
		}
		rec, ok := m.registry.Lookup(id)
		if !ok {
			return nil, domain.NewError(domain.ErrConnect, "connect", id, ErrPeerUnknown)
		}
		return m.dialPeer(ctx, id, rec.Address)
	})
	if err != nil {
		return nil, err
	}
	return m.current(v.(*session.Session)), nil
}

// dialAddress collapses every dial to addr into one, whether it came from
// Connect, ConnectPeer or a reconnect.
func (m *Manager) dialAddress(ctx context.Context, addr string, expect domain.PeerIdentity) (*session.Session, error) {
	if s := m.sessionByAddress(addr); s != nil {
		return s, nil
	}
	v, err, _ := m.dials.Do("addr:"+addr, func() (any, error) {
		if s := m.sessionByAddress(addr); s != nil {
			return s, nil
		}
		return m.dial(ctx, addr, expect)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// dialPeer is dialAddress for a known identity. A shared dial started by
// Connect may reach someone else at addr.
func (m *Manager) dialPeer(ctx context.Context, id domain.PeerIdentity, addr string) (*session.Session, error) {
	s, err := m.dialAddress(ctx, addr, id)
	if err != nil {
		return nil, err
	}
	if s.Peer() != id {
		return nil, domain.NewError(domain.ErrConnect, "connect "+addr, id,
			fmt.Errorf("%w: got %s", handshake.ErrUnexpectedPeer, s.Peer()))
	}
	return s, nil
}

// current returns the live session for s's peer. It differs from s when s
// lost duplicate resolution after it was adopted.
func (m *Manager) current(s *session.Session) *session.Session {
	if cur := m.Session(s.Peer()); cur != nil {
		return cur
	}
	return s
}

// AutoConnect is the discovery-driven producer. Only the node with the
// smaller identity dials, so two nodes discovering each other open a single
// session.
func (m *Manager) AutoConnect(rec domain.PeerRecord) {
	if m.self >= rec.Identity || m.Session(rec.Identity) != nil {
		return
	}
	m.spawn(func() {
		ctx, cancel := m.haltContext()
		defer cancel()
		if _, err := m.ConnectPeer(ctx, rec.Identity); err != nil {
			m.log.Infof("Auto-connect to %s failed: %v", rec.Identity, err)
		}
	})
}

func (m *Manager) dial(ctx context.Context, addr string, expect domain.PeerIdentity) (*session.Session, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, domain.NewError(domain.ErrConnect, "dial", expect, ErrClosed)
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, domain.NewError(domain.ErrConnect, "dial "+addr, expect, err)
	}

	_ = conn.SetDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	res, err := handshake.Initiate(conn, m.params(expect))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return m.adopt(conn, res, addr)
}

func (m *Manager) params(expect domain.PeerIdentity) handshake.Params {
	m.mu.Lock()
	port := m.listenPort
	m.mu.Unlock()
	return handshake.Params{
		Self:       m.self,
		Master:     m.master,
		ListenPort: port,
		Caps:       m.caps,
		Expect:     expect,
	}
}

// adopt installs a freshly handshaken connection as the peer's session,
// resolving duplicates, and returns whichever session survives.
func (m *Manager) adopt(conn net.Conn, res handshake.Result, dialAddr string) (*session.Session, error) {
	s := session.New(conn, res, dialAddr, m.cfg.Session, m.onMessage, m.sessLog, m.metrics)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close()
		return nil, domain.NewError(domain.ErrConnect, "adopt", res.Peer, ErrClosed)
	}

	existing := m.sessions[res.Peer]
	if existing != nil && !isDone(existing) && m.prefer(existing, s) {
		m.mu.Unlock()
		m.log.Infof("Dropping duplicate session %s with %s", s.ID(), res.Peer)
		_ = s.CloseWithReason(domain.ReasonDuplicate)
		return existing, nil
	}

	m.sessions[res.Peer] = s
	m.Go(func() { m.reap(s) })
	m.mu.Unlock()

	if existing != nil && !isDone(existing) {
		m.log.Infof("Replacing session %s with %s by %s", existing.ID(), res.Peer, s.ID())
		_ = existing.CloseWithReason(domain.ReasonDuplicate)
	}
	// The bridge hears about the session before its first message.
	if err := s.StartWith(func() { m.bridge.OnSessionEstablished(res.Peer) }); err != nil {
		// Closed before it started: by Close, or replaced by a concurrent adopt.
		if cur := m.Session(res.Peer); cur != nil {
			return cur, nil
		}
		return nil, domain.NewError(domain.ErrConnect, "adopt", res.Peer, err)
	}
	return s, nil
}

// prefer reports whether a should be kept over b. The outcome only depends on
// values both ends of the sessions share.
func (m *Manager) prefer(a, b *session.Session) bool {
	ia, ib := m.initiatorOf(a), m.initiatorOf(b)
	if ia != ib {
		return ia < ib
	}
	return a.ID() < b.ID()
}

func (m *Manager) initiatorOf(s *session.Session) domain.PeerIdentity {
	if s.Initiator() {
		return m.self
	}
	return s.Peer()
}

// reap waits for s to end, removes it from the table and decides between
// reporting the loss and reconnecting.
func (m *Manager) reap(s *session.Session) {
	<-s.Done()
	s.Wait()

	peer := s.Peer()
	m.mu.Lock()
	current := m.sessions[peer] == s
	if current {
		delete(m.sessions, peer)
	}
	closed := m.closed
	m.mu.Unlock()

	reason := s.Reason()
	switch {
	case !current:
		return
	case !s.Started():
		// Never announced to the bridge.
		return
	case reason == domain.ReasonDuplicate:
		// The peer kept another session with us, which is being adopted.
		return
	case !closed && reason.Retryable() && m.cfg.MaxReconnectAttempts > 0 && s.DialAddress() != "":
		m.reconnect(peer, s.DialAddress())
	default:
		m.bridge.OnSessionClosed(peer, reason)
	}
}

func (m *Manager) reconnect(peer domain.PeerIdentity, lastAddr string) {
	m.mu.Lock()
	if m.reconnecting[peer] {
		m.mu.Unlock()
		return
	}
	m.reconnecting[peer] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.reconnecting, peer)
		m.mu.Unlock()
	}()

	ctx, cancel := m.haltContext()
	defer cancel()

	for attempt := 0; attempt < m.cfg.MaxReconnectAttempts; attempt++ {
		delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt, nil)
		select {
		case <-m.HaltCh():
			return
		case <-m.cfg.Clock.After(delay):
		}
		if m.Session(peer) != nil {
			return
		}

		addr := lastAddr
		if rec, ok := m.registry.Lookup(peer); ok {
			addr = rec.Address
		}
		m.metrics.ReconnectAttempt()
		m.log.Infof("Reconnecting to %s at %s (attempt %d/%d)", peer, addr, attempt+1, m.cfg.MaxReconnectAttempts)

		_, err, _ := m.dials.Do("id:"+string(peer), func() (any, error) {
			if s := m.Session(peer); s != nil {
				return s, nil
			}
			return m.dialPeer(ctx, peer, addr)
		})
		if err == nil {
			return
		}
		m.log.Infof("Reconnect to %s failed: %v", peer, err)
	}

	if m.IsHalted() || m.Session(peer) != nil {
		return
	}
	m.log.Noticef("Peer %s unreachable after %d attempts", peer, m.cfg.MaxReconnectAttempts)
	m.bridge.OnSessionClosed(peer, domain.ReasonUnreachable)
}

func (m *Manager) onMessage(from domain.PeerIdentity, plaintext []byte) {
	m.bridge.OnMessage(from, plaintext)
}

// Session returns the live session with id, or nil.
func (m *Manager) Session(id domain.PeerIdentity) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if s == nil || isDone(s) {
		return nil
	}
	return s
}

func (m *Manager) sessionByAddress(addr string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DialAddress() == addr && !isDone(s) {
			return s
		}
	}
	return nil
}

func (m *Manager) live() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !isDone(s) {
			out = append(out, s)
		}
	}
	return out
}

// Sessions returns a snapshot of every live session, ordered by peer.
func (m *Manager) Sessions() []domain.SessionInfo {
	live := m.live()
	out := make([]domain.SessionInfo, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return len(m.live()) }

// SendTo delivers plaintext to id. It reports false when there is no live
// session or the send failed.
func (m *Manager) SendTo(id domain.PeerIdentity, plaintext []byte) bool {
	s := m.Session(id)
	if s == nil {
		return false
	}
	if err := s.Send(plaintext); err != nil {
		m.log.Infof("Send to %s failed: %v", id, err)
		return false
	}
	return true
}

// Broadcast delivers plaintext to every live session and returns how many
// accepted it.
func (m *Manager) Broadcast(plaintext []byte) int {
	n := 0
	for _, s := range m.live() {
		if err := s.Send(plaintext); err != nil {
			m.log.Infof("Broadcast to %s failed: %v", s.Peer(), err)
			continue
		}
		n++
	}
	return n
}

// Disconnect closes the session with id. It reports whether there was one.
func (m *Manager) Disconnect(id domain.PeerIdentity) bool {
	s := m.Session(id)
	if s == nil {
		return false
	}
	_ = s.Close()
	return true
}

// Close stops accepting, closes every session and waits for all background
// work to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ln := m.listener
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	m.Halt()
	return err
}

// spawn runs fn as tracked background work unless the manager is closed.
func (m *Manager) spawn(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.Go(fn)
}

// haltContext returns a context cancelled when the manager halts.
func (m *Manager) haltContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-m.HaltCh():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func isDone(s *session.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Compile-time assertion that Manager implements domain.Sender.
var _ domain.Sender = (*Manager)(nil)
