package message_test

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"peerlink/internal/domain"
	"peerlink/internal/services/message"
)

type fakeSender struct {
	mu   sync.Mutex
	live map[domain.PeerIdentity]bool
	sent map[domain.PeerIdentity][][]byte
}

func newFakeSender(live ...domain.PeerIdentity) *fakeSender {
	f := &fakeSender{live: map[domain.PeerIdentity]bool{}, sent: map[domain.PeerIdentity][][]byte{}}
	for _, id := range live {
		f.live[id] = true
	}
	return f
}

func (f *fakeSender) SendTo(id domain.PeerIdentity, pt []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[id] {
		return false
	}
	f.sent[id] = append(f.sent[id], pt)
	return true
}

func (f *fakeSender) Broadcast(pt []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.live {
		f.sent[id] = append(f.sent[id], pt)
	}
	return len(f.live)
}

func TestSend_RoundTrip(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_123))
	sender := newFakeSender("beta")
	svc := message.New(sender, clk)

	ok, err := svc.Send("beta", domain.KindClipboard, []byte("copied text"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Send("gamma", domain.KindText, []byte("nobody home"))
	require.NoError(t, err)
	require.False(t, ok)

	require.Len(t, sender.sent["beta"], 1)
	m, err := svc.Decode(sender.sent["beta"][0])
	require.NoError(t, err)
	require.Equal(t, domain.KindClipboard, m.Kind)
	require.Equal(t, "copied text", string(m.Body))
	require.Equal(t, int64(1_700_000_000_123), m.Timestamp)
	require.Len(t, m.Checksum, 32)
}

func TestBroadcast(t *testing.T) {
	sender := newFakeSender("a", "b", "c")
	svc := message.New(sender, nil)

	n, err := svc.Broadcast(domain.KindGesture, []byte("swipe_left"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestEncode_Rejects(t *testing.T) {
	_, err := message.Encode("video", []byte("x"), 0)
	require.ErrorIs(t, err, message.ErrUnknownKind)

	_, err = message.Encode(domain.KindText, make([]byte, message.MaxBodySize+1), 0)
	require.ErrorIs(t, err, message.ErrTooLarge)

	svc := message.New(newFakeSender("a"), nil)
	_, err = svc.Send("a", "video", nil)
	require.ErrorIs(t, err, message.ErrUnknownKind)
}

func TestDecode_Checksum(t *testing.T) {
	b, err := message.Encode(domain.KindText, []byte("hello"), 1)
	require.NoError(t, err)

	// Flip a byte of the body inside the encoding.
	i := indexOf(b, []byte("hello"))
	require.GreaterOrEqual(t, i, 0)
	b[i] = 'j'

	_, err = message.Decode(b)
	require.ErrorIs(t, err, message.ErrChecksum)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := message.Decode([]byte{0xff, 0x00})
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := message.ParseKind("gesture")
	require.NoError(t, err)
	require.Equal(t, domain.KindGesture, k)
	_, err = message.ParseKind("GESTURE")
	require.ErrorIs(t, err, message.ErrUnknownKind)
}

func indexOf(b, sub []byte) int {
	for i := 0; i+len(sub) <= len(b); i++ {
		if string(b[i:i+len(sub)]) == string(sub) {
			return i
		}
	}
	return -1
}
