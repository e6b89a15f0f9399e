package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"peerlink/internal/domain"
)

const (
	// MaxFrameSize bounds a frame body.
	MaxFrameSize = 64 * 1024

	headerLen = 4
)

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrFrameTooLarge = errors.New("frame too large")
)

// ReadFrame reads one frame body from r.
//
// A short read inside a frame is reported as io.ErrUnexpectedEOF; a clean EOF
// before the header is io.EOF. Both are returned as-is so callers can tell a
// closed peer from a malformed one.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	switch {
	case n == 0:
		return nil, domain.NewError(domain.ErrProtocol, "read frame", "", ErrEmptyFrame)
	case n > MaxFrameSize:
		return nil, domain.NewError(domain.ErrProtocol, "read frame", "",
			fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes b as a single frame. The header and body go out in one
// Write call.
func WriteFrame(w io.Writer, b []byte) error {
	switch {
	case len(b) == 0:
		return domain.NewError(domain.ErrProtocol, "write frame", "", ErrEmptyFrame)
	case len(b) > MaxFrameSize:
		return domain.NewError(domain.ErrProtocol, "write frame", "",
			fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b)))
	}
	buf := make([]byte, headerLen+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[headerLen:], b)
	_, err := w.Write(buf)
	return err
}
