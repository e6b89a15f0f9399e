package wire_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlink/internal/domain"
	"peerlink/internal/protocol/wire"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, []byte("one")))
	require.NoError(t, wire.WriteFrame(&buf, bytes.Repeat([]byte{7}, wire.MaxFrameSize)))

	got, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "one", string(got))

	got, err = wire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Len(t, got, wire.MaxFrameSize)

	_, err = wire.ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_Bounds(t *testing.T) {
	for _, n := range []uint32{0, wire.MaxFrameSize + 1, 1 << 31} {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], n)
		_, err := wire.ReadFrame(bytes.NewReader(hdr[:]))
		require.ErrorIs(t, err, domain.ErrProtocol, "length %d", n)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, []byte("truncated")))
	raw := buf.Bytes()[:buf.Len()-2]

	_, err := wire.ReadFrame(bytes.NewReader(raw))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestWriteFrame_Bounds(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, wire.WriteFrame(&buf, nil), domain.ErrProtocol)
	require.ErrorIs(t, wire.WriteFrame(&buf, make([]byte, wire.MaxFrameSize+1)), domain.ErrProtocol)
	require.Zero(t, buf.Len())
}
