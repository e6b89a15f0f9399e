package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/op/go-logging.v1"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol/handshake"
	"peerlink/internal/protocol/wire"
	"peerlink/internal/worker"
)

const (
	ctlData  byte = 0x01
	ctlPing  byte = 0x02
	ctlPong  byte = 0x03
	ctlClose byte = 0x04

	// MaxPlaintext is the largest payload Send accepts.
	MaxPlaintext = wire.MaxFrameSize - crypto.EnvelopeOverhead - 1

	// keepaliveMisses is how many keepalive intervals may pass with nothing
	// received before the session is declared dead.
	keepaliveMisses = 3
)

var (
	ErrNotEstablished = errors.New("session not established")
	ErrTooLarge       = errors.New("payload too large")
)

// Config tunes a Session.
type Config struct {
	KeepaliveInterval time.Duration
	FailureThreshold  int
	WriteTimeout      time.Duration
	Clock             clock.Clock
}

// MessageFunc receives the payload of every accepted data envelope.
type MessageFunc func(from domain.PeerIdentity, plaintext []byte)

// Session is a live, keyed connection to one peer.
type Session struct {
	w worker.Worker

	cfg       Config
	conn      net.Conn
	peer      domain.PeerIdentity
	caps      domain.Capability
	initiator bool
	id        string
	dialAddr  string
	sendKey   domain.SessionKey
	recvKey   domain.SessionKey
	onMessage MessageFunc
	log       *logging.Logger
	metrics   *metrics.Metrics

	writeMu sync.Mutex
	sendSeq uint64

	// recvSeq is owned by the reader goroutine.
	recvSeq uint64

	mu            sync.Mutex
	status        domain.SessionStatus
	reason        domain.CloseReason
	err           error
	started       bool
	establishedAt time.Time

	lastRecv atomic.Int64
	sent     atomic.Uint64
	received atomic.Uint64
	rejected atomic.Uint64

	doneCh   chan struct{}
	doneOnce sync.Once
}

// New wraps a connection that completed the handshake described by hs.
// dialAddr is where the peer's data listener can be reached again. The
// session stays in the handshaking state until Start.
func New(
	conn net.Conn,
	hs handshake.Result,
	dialAddr string,
	cfg Config,
	onMessage MessageFunc,
	log *logging.Logger,
	m *metrics.Metrics,
) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Session{
		cfg:       cfg,
		conn:      conn,
		peer:      hs.Peer,
		caps:      hs.PeerCaps,
		initiator: hs.Initiator,
		id:        hs.SessionID,
		dialAddr:  dialAddr,
		sendKey:   hs.SendKey,
		recvKey:   hs.RecvKey,
		onMessage: onMessage,
		log:       log,
		metrics:   m,
		status:    domain.StatusHandshaking,
		doneCh:    make(chan struct{}),
	}
}

// Start moves the session to established and launches the reader and the
// keepalive loop.
func (s *Session) Start() error { return s.StartWith(nil) }

// StartWith is Start, running ready after the session is established and
// before the reader starts, so ready happens before any message is delivered.
func (s *Session) StartWith(ready func()) error {
	s.mu.Lock()
	if s.status != domain.StatusHandshaking {
		s.mu.Unlock()
		return fmt.Errorf("start session in state %v", s.status)
	}
	s.status = domain.StatusEstablished
	s.started = true
	s.establishedAt = s.cfg.Clock.Now()
	s.mu.Unlock()

	s.lastRecv.Store(s.cfg.Clock.Now().UnixNano())
	s.metrics.SessionOpened(s.initiator)
	s.log.Noticef("Session with %s established (%s, initiator=%v)", s.peer, s.conn.RemoteAddr(), s.initiator)

	if ready != nil {
		ready()
	}
	s.w.Go(s.readLoop)
	if s.cfg.KeepaliveInterval > 0 {
		s.w.Go(s.keepaliveLoop)
	}
	return nil
}

// Started reports whether the session ever reached the established state.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Peer returns the remote identity.
func (s *Session) Peer() domain.PeerIdentity { return s.peer }

// ID returns the identifier both ends agreed on in the handshake.
func (s *Session) ID() string { return s.id }

// Initiator reports whether this side dialed.
func (s *Session) Initiator() bool { return s.initiator }

// DialAddress returns the peer's data listener address.
func (s *Session) DialAddress() string { return s.dialAddr }

// Capabilities returns what the peer advertised in its handshake.
func (s *Session) Capabilities() domain.Capability { return s.caps }

// Status returns the current state.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Reason returns why the session ended, or "" while it is live.
func (s *Session) Reason() domain.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session's goroutines have exited.
func (s *Session) Wait() { s.w.Wait() }

// Info returns a snapshot for status reporting.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	status, est := s.status, s.establishedAt
	s.mu.Unlock()
	return domain.SessionInfo{
		Peer:          s.peer,
		Remote:        s.conn.RemoteAddr().String(),
		DialAddress:   s.dialAddr,
		Initiator:     s.initiator,
		Status:        status.String(),
		Capabilities:  s.caps.Strings(),
		EstablishedAt: est,
		Sent:          s.sent.Load(),
		Received:      s.received.Load(),
		Rejected:      s.rejected.Load(),
	}
}

// Send seals plaintext and writes it as one frame. A write failure ends the
// session.
func (s *Session) Send(plaintext []byte) error {
	if len(plaintext) > MaxPlaintext {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(plaintext))
	}
	if s.Status() != domain.StatusEstablished {
		return ErrNotEstablished
	}
	if err := s.write(ctlData, plaintext); err != nil {
		return err
	}
	s.sent.Add(1)
	s.metrics.MessageSent()
	return nil
}

// Close sends a close notification and tears the session down. It is
// idempotent and waits for the session's goroutines.
func (s *Session) Close() error {
	return s.CloseWithReason(domain.ReasonLocalClose)
}

// CloseWithReason is Close with a specific reason, e.g. duplicate. It must not
// be called from the session's own MessageFunc.
func (s *Session) CloseWithReason(reason domain.CloseReason) error {
	s.mu.Lock()
	if s.status == domain.StatusClosing || s.status.Terminal() {
		s.mu.Unlock()
		s.w.Wait()
		return nil
	}
	s.status = domain.StatusClosing
	s.mu.Unlock()

	// The handshake already succeeded, so even an unstarted session can tell
	// the peer why it is going away.
	if err := s.write(ctlClose, []byte(reason)); err != nil {
		s.log.Debugf("Close notification to %s failed: %v", s.peer, err)
	}
	s.terminate(domain.StatusClosed, reason, nil, true)
	s.w.Wait()
	return nil
}

// write seals ctl|payload with the next sequence number.
func (s *Session) write(ctl byte, payload []byte) error {
	pt := make([]byte, 1+len(payload))
	pt[0] = ctl
	copy(pt[1:], payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.sendSeq++
	env, err := crypto.Encode(s.sendKey, s.sendSeq, pt)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := wire.WriteFrame(s.conn, crypto.MarshalEnvelope(env)); err != nil {
		werr := domain.NewError(domain.ErrTransport, "send", s.peer, err)
		s.terminate(domain.StatusFailed, domain.ReasonTransport, werr, false)
		return werr
	}
	return nil
}

func (s *Session) readLoop() {
	consecutive := 0
	for {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, domain.ErrProtocol) {
				s.terminate(domain.StatusFailed, domain.ReasonProtocol, err, false)
			} else {
				s.terminate(domain.StatusFailed, domain.ReasonTransport,
					domain.NewError(domain.ErrTransport, "receive", s.peer, err), false)
			}
			return
		}
		env, err := crypto.UnmarshalEnvelope(frame)
		if err != nil {
			s.terminate(domain.StatusFailed, domain.ReasonProtocol, err, false)
			return
		}

		pt, err := crypto.Decode(s.recvKey, env, s.recvSeq)
		if err != nil {
			consecutive++
			s.rejected.Add(1)
			label := "integrity"
			if errors.Is(err, domain.ErrReplay) {
				label = "replay"
			}
			s.metrics.EnvelopeRejected(label)
			s.log.Warningf("Dropped envelope %d from %s (%d/%d): %v",
				env.Sequence, s.peer, consecutive, s.cfg.FailureThreshold, err)
			if consecutive >= s.cfg.FailureThreshold {
				s.terminate(domain.StatusFailed, domain.ReasonIntegrity,
					domain.NewError(domain.ErrIntegrity, "receive", s.peer, err), false)
				return
			}
			continue
		}
		consecutive = 0
		s.recvSeq = env.Sequence
		s.lastRecv.Store(s.cfg.Clock.Now().UnixNano())

		if len(pt) == 0 {
			s.terminate(domain.StatusFailed, domain.ReasonProtocol,
				domain.NewError(domain.ErrProtocol, "receive", s.peer, errors.New("empty plaintext")), false)
			return
		}
		switch pt[0] {
		case ctlData:
			s.received.Add(1)
			s.metrics.MessageReceived()
			if s.onMessage != nil {
				s.onMessage(s.peer, pt[1:])
			}
		case ctlPing:
			if err := s.write(ctlPong, nil); err != nil {
				return
			}
		case ctlPong:
		case ctlClose:
			reason := domain.ReasonPeerClosed
			if domain.CloseReason(pt[1:]) == domain.ReasonDuplicate {
				reason = domain.ReasonDuplicate
			}
			s.log.Infof("Peer %s closed the session: %q", s.peer, pt[1:])
			s.terminate(domain.StatusClosed, reason, nil, false)
			return
		default:
			s.terminate(domain.StatusFailed, domain.ReasonProtocol,
				domain.NewError(domain.ErrProtocol, "receive", s.peer, fmt.Errorf("unknown control byte %#x", pt[0])), false)
			return
		}
	}
}

func (s *Session) keepaliveLoop() {
	ticker := s.cfg.Clock.Ticker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	limit := keepaliveMisses * s.cfg.KeepaliveInterval
	for {
		select {
		case <-s.w.HaltCh():
			return
		case <-ticker.C:
		}
		last := time.Unix(0, s.lastRecv.Load())
		if s.cfg.Clock.Since(last) > limit {
			s.terminate(domain.StatusFailed, domain.ReasonKeepaliveTimeout,
				domain.NewError(domain.ErrTransport, "keepalive", s.peer,
					fmt.Errorf("nothing received for %v", limit)), false)
			return
		}
		if s.Status() == domain.StatusEstablished {
			if err := s.write(ctlPing, nil); err != nil {
				return
			}
		}
	}
}

// terminate moves the session to a terminal state exactly once. Failures
// seen while a local Close is in progress are ignored unless fromClose.
func (s *Session) terminate(to domain.SessionStatus, reason domain.CloseReason, err error, fromClose bool) {
	s.mu.Lock()
	if s.status.Terminal() || (s.status == domain.StatusClosing && !fromClose) {
		s.mu.Unlock()
		return
	}
	s.status = to
	s.reason = reason
	s.err = err
	started := s.started
	s.mu.Unlock()

	s.doneOnce.Do(func() {
		s.w.SignalHalt()
		_ = s.conn.Close()
		if err != nil {
			s.log.Warningf("Session with %s failed (%s): %v", s.peer, reason, err)
		} else {
			s.log.Noticef("Session with %s closed (%s)", s.peer, reason)
		}
		if started {
			s.metrics.SessionClosed(string(reason))
		}
		close(s.doneCh)
	})
}
