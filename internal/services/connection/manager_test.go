package connection_test

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"peerlink/internal/bridge"
	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	plog "peerlink/internal/log"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol/handshake"
	"peerlink/internal/registry"
	"peerlink/internal/services/connection"
	"peerlink/internal/services/session"
)

const secret = "Shared-Test-Secret-42"

type node struct {
	id      domain.PeerIdentity
	m       *connection.Manager
	events  *bridge.Recorder
	reg     *registry.Registry
	metrics *metrics.Metrics
}

func testConfig() connection.Config {
	return connection.Config{
		ConnectTimeout:       2 * time.Second,
		HandshakeTimeout:     2 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   20 * time.Millisecond,
		ReconnectMaxDelay:    200 * time.Millisecond,
	}
}

func newNode(t *testing.T, id domain.PeerIdentity, key string, reg *registry.Registry) *node {
	t.Helper()
	backend, err := plog.New("", "DEBUG", true)
	require.NoError(t, err)
	if reg == nil {
		reg = registry.New(time.Minute, nil)
	}
	n := &node{id: id, events: &bridge.Recorder{}, reg: reg, metrics: metrics.New()}
	n.m = connection.New(testConfig(), id, domain.CapText, crypto.DeriveMasterKey(key), reg, n.events,
		backend.GetLogger("conn"), backend.GetLogger("session"), n.metrics)
	require.NoError(t, n.m.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = n.m.Close() })
	return n
}

func (n *node) addr() string { return n.m.Addr().String() }

func (n *node) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	n.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(b)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func TestConnect_SendDeliveredOnce(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)

	s, err := a.m.Connect(context.Background(), b.addr())
	require.NoError(t, err)
	require.Equal(t, domain.PeerIdentity("beta"), s.Peer())
	require.True(t, s.Initiator())
	eventually(t, func() bool { return b.m.Session("alpha") != nil })

	require.True(t, a.m.SendTo("beta", []byte("hello")))
	eventually(t, func() bool { return len(b.events.Events("message")) == 1 })

	time.Sleep(50 * time.Millisecond)
	msgs := b.events.Events("message")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", string(msgs[0].Payload))
	require.Equal(t, domain.PeerIdentity("alpha"), msgs[0].Peer)

	require.Len(t, a.events.Events("established"), 1)
	require.Len(t, b.events.Events("established"), 1)
	require.False(t, a.m.SendTo("nobody", []byte("x")))
}

func TestConnect_ConcurrentYieldsOneSession(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)

	const n = 8
	got := make([]*session.Session, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = a.m.Connect(context.Background(), b.addr())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Same(t, got[0], got[i])
	}
	require.Equal(t, 1, a.m.Count())
	eventually(t, func() bool { return b.m.Count() == 1 })
}

func TestConnect_RacesConnectPeerToOneSession(t *testing.T) {
	for i := 0; i < 10; i++ {
		a := newNode(t, "alpha", secret, nil)
		b := newNode(t, "beta", secret, nil)
		a.reg.Observe("beta", b.addr(), domain.CapText)

		var (
			byAddr, byID *session.Session
			errA, errB   error
			wg           sync.WaitGroup
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			byAddr, errA = a.m.Connect(context.Background(), b.addr())
		}()
		go func() {
			defer wg.Done()
			<-start
			byID, errB = a.m.ConnectPeer(context.Background(), "beta")
		}()
		close(start)
		wg.Wait()

		require.NoError(t, errA)
		require.NoError(t, errB)
		require.Same(t, byAddr, byID)
		require.Same(t, a.m.Session("beta"), byAddr)
		eventually(t, func() bool { return byAddr.Status() == domain.StatusEstablished })
		eventually(t, func() bool { return b.m.Count() == 1 })
		require.Equal(t, 1, a.m.Count())
		require.Len(t, a.events.Events("established"), 1)
		require.Empty(t, a.events.Events("closed"))
	}
}

func TestConnect_SecretMismatch(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", "Another-Secret-Value-7", nil)

	_, err := a.m.Connect(context.Background(), b.addr())
	require.ErrorIs(t, err, domain.ErrConnect)
	require.ErrorIs(t, err, handshake.ErrBadConfirm)
	require.Zero(t, a.m.Count())
	require.Zero(t, b.m.Count())
	require.Empty(t, a.events.Events("established"))
}

func TestConnect_Refused(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = a.m.Connect(context.Background(), addr)
	require.ErrorIs(t, err, domain.ErrConnect)
}

func TestConnectPeer_Registry(t *testing.T) {
	clk := clock.NewMock()
	reg := registry.New(10*time.Second, clk)
	a := newNode(t, "alpha", secret, reg)
	b := newNode(t, "beta", secret, nil)

	_, err := a.m.ConnectPeer(context.Background(), "beta")
	require.ErrorIs(t, err, connection.ErrPeerUnknown)

	reg.Observe("beta", b.addr(), domain.CapText)
	clk.Add(11 * time.Second)
	_, err = a.m.ConnectPeer(context.Background(), "beta")
	require.ErrorIs(t, err, domain.ErrConnect)
	require.ErrorIs(t, err, connection.ErrPeerUnknown)

	reg.Observe("beta", b.addr(), domain.CapText)
	s, err := a.m.ConnectPeer(context.Background(), "beta")
	require.NoError(t, err)
	again, err := a.m.ConnectPeer(context.Background(), "beta")
	require.NoError(t, err)
	require.Same(t, s, again)
}

func TestDuplicate_CrossConnectKeepsOne(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = a.m.Connect(context.Background(), b.addr())
	}()
	go func() {
		defer wg.Done()
		_, _ = b.m.Connect(context.Background(), a.addr())
	}()
	wg.Wait()

	eventually(t, func() bool {
		sa, sb := a.m.Session("beta"), b.m.Session("alpha")
		return sa != nil && sb != nil && sa.ID() == sb.ID() && a.m.Count() == 1 && b.m.Count() == 1
	})
	// The survivor was initiated by the smaller identity.
	require.True(t, a.m.Session("beta").Initiator())

	require.True(t, b.m.SendTo("alpha", []byte("after dedup")))
	eventually(t, func() bool { return len(a.events.Events("message")) == 1 })
}

func TestPeerClose_ReportedWithoutReconnect(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)

	_, err := a.m.Connect(context.Background(), b.addr())
	require.NoError(t, err)
	eventually(t, func() bool { return b.m.Session("alpha") != nil })

	require.True(t, b.m.Disconnect("alpha"))
	eventually(t, func() bool { return len(a.events.Events("closed")) == 1 })
	require.Equal(t, domain.ReasonPeerClosed, a.events.Events("closed")[0].Reason)
	eventually(t, func() bool { return len(b.events.Events("closed")) == 1 })
	require.Equal(t, domain.ReasonLocalClose, b.events.Events("closed")[0].Reason)

	time.Sleep(100 * time.Millisecond)
	require.Contains(t, a.scrape(t), "peerlink_reconnect_attempts_total 0")
	require.False(t, b.m.Disconnect("alpha"))
}

// flakyPeer accepts connections on a loopback listener and completes the
// responder handshake. The first drop connections are closed right after the
// handshake; later ones are held open. With closeAfterDrop the listener is
// closed together with the last dropped connection.
func flakyPeer(t *testing.T, drop int, closeAfterDrop bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	p := handshake.Params{Self: "gamma", Master: crypto.DeriveMasterKey(secret), ListenPort: port}

	var held []net.Conn
	var mu sync.Mutex
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	go func() {
		for i := 0; ; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := handshake.Respond(c, p); err != nil {
				_ = c.Close()
				continue
			}
			if i < drop {
				_ = c.Close()
				if closeAfterDrop && i == drop-1 {
					_ = ln.Close()
					return
				}
				continue
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
			go func() { _, _ = io.Copy(io.Discard, c) }()
		}
	}()
	return ln.Addr().String()
}

func TestReconnect_UnreachableAfterAttempts(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	addr := flakyPeer(t, 1, true)

	_, err := a.m.Connect(context.Background(), addr)
	require.NoError(t, err)

	eventually(t, func() bool { return len(a.events.Events("closed")) == 1 })
	closed := a.events.Events("closed")
	require.Equal(t, domain.PeerIdentity("gamma"), closed[0].Peer)
	require.Equal(t, domain.ReasonUnreachable, closed[0].Reason)
	require.Contains(t, a.scrape(t), "peerlink_reconnect_attempts_total 3")
	require.Nil(t, a.m.Session("gamma"))

	time.Sleep(100 * time.Millisecond)
	require.Len(t, a.events.Events("closed"), 1)
}

func TestReconnect_RecoversSilently(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	addr := flakyPeer(t, 1, false)

	_, err := a.m.Connect(context.Background(), addr)
	require.NoError(t, err)

	eventually(t, func() bool {
		return len(a.events.Events("established")) == 2 && a.m.Session("gamma") != nil
	})
	require.Empty(t, a.events.Events("closed"))
	require.True(t, a.m.SendTo("gamma", []byte("still here")))
}

func TestAutoConnect_OnlySmallerIdentityDials(t *testing.T) {
	regA := registry.New(time.Minute, nil)
	regB := registry.New(time.Minute, nil)
	a := newNode(t, "alpha", secret, regA)
	b := newNode(t, "beta", secret, regB)

	recA, _ := regB.Observe("alpha", a.addr(), domain.CapText)
	b.m.AutoConnect(recA)
	time.Sleep(200 * time.Millisecond)
	require.Zero(t, a.m.Count())
	require.Zero(t, b.m.Count())

	recB, _ := regA.Observe("beta", b.addr(), domain.CapText)
	a.m.AutoConnect(recB)
	eventually(t, func() bool { return a.m.Count() == 1 && b.m.Count() == 1 })
	require.True(t, a.m.Session("beta").Initiator())
}

func TestBroadcastAndSessions(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)
	c := newNode(t, "gamma", secret, nil)

	_, err := a.m.Connect(context.Background(), c.addr())
	require.NoError(t, err)
	_, err = a.m.Connect(context.Background(), b.addr())
	require.NoError(t, err)

	require.Equal(t, 2, a.m.Broadcast([]byte("to all")))
	eventually(t, func() bool {
		return len(b.events.Events("message")) == 1 && len(c.events.Events("message")) == 1
	})

	infos := a.m.Sessions()
	require.Len(t, infos, 2)
	require.Equal(t, domain.PeerIdentity("beta"), infos[0].Peer)
	require.Equal(t, domain.PeerIdentity("gamma"), infos[1].Peer)
	require.Equal(t, uint64(1), infos[0].Sent)
	require.Equal(t, b.addr(), infos[0].DialAddress)
}

func TestClose_ReportsAndRefuses(t *testing.T) {
	a := newNode(t, "alpha", secret, nil)
	b := newNode(t, "beta", secret, nil)

	_, err := a.m.Connect(context.Background(), b.addr())
	require.NoError(t, err)

	require.NoError(t, a.m.Close())
	require.NoError(t, a.m.Close())
	eventually(t, func() bool { return len(a.events.Events("closed")) == 1 })
	require.Equal(t, domain.ReasonLocalClose, a.events.Events("closed")[0].Reason)
	require.False(t, a.m.SendTo("beta", []byte("x")))

	_, err = a.m.Connect(context.Background(), b.addr())
	require.ErrorIs(t, err, connection.ErrClosed)
	eventually(t, func() bool { return len(b.events.Events("closed")) == 1 })
	require.Equal(t, domain.ReasonPeerClosed, b.events.Events("closed")[0].Reason)
}
