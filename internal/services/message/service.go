package message

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"

	"peerlink/internal/domain"
)

// MaxBodySize bounds a message body so the sealed envelope fits in one frame.
const MaxBodySize = 60 * 1024

var (
	// ErrUnknownKind is returned for a kind other than text, clipboard or gesture.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrChecksum is returned when a decoded body does not match its checksum.
	ErrChecksum = errors.New("message checksum mismatch")
	// ErrTooLarge is returned for bodies above MaxBodySize.
	ErrTooLarge = errors.New("message body too large")
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 4,
		MaxMapPairs:     16,
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Service sends typed messages through a Sender.
type Service struct {
	sender domain.Sender
	clock  clock.Clock
}

// New returns a message service over sender. A nil clock means the wall clock.
func New(sender domain.Sender, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{sender: sender, clock: clk}
}

// Send encodes body as kind and delivers it to one peer. The bool reports
// whether a live session accepted it.
func (s *Service) Send(to domain.PeerIdentity, kind domain.MessageKind, body []byte) (bool, error) {
	b, err := s.encode(kind, body)
	if err != nil {
		return false, err
	}
	return s.sender.SendTo(to, b), nil
}

// Broadcast encodes body as kind and delivers it to every live session,
// returning how many accepted it.
func (s *Service) Broadcast(kind domain.MessageKind, body []byte) (int, error) {
	b, err := s.encode(kind, body)
	if err != nil {
		return 0, err
	}
	return s.sender.Broadcast(b), nil
}

// Decode parses and verifies a plaintext produced by Send.
func (s *Service) Decode(plaintext []byte) (domain.Message, error) {
	return Decode(plaintext)
}

func (s *Service) encode(kind domain.MessageKind, body []byte) ([]byte, error) {
	return Encode(kind, body, s.clock.Now().UnixMilli())
}

// Encode builds the wire form of a message.
func Encode(kind domain.MessageKind, body []byte, timestampMillis int64) ([]byte, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	sum := sha256.Sum256(body)
	return cbor.Marshal(domain.Message{
		Kind:      kind,
		Body:      body,
		Timestamp: timestampMillis,
		Checksum:  sum[:],
	})
}

// Decode parses and verifies the wire form of a message.
func Decode(plaintext []byte) (domain.Message, error) {
	var m domain.Message
	if err := decMode.Unmarshal(plaintext, &m); err != nil {
		return domain.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !validKind(m.Kind) {
		return domain.Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	sum := sha256.Sum256(m.Body)
	if !bytes.Equal(sum[:], m.Checksum) {
		return domain.Message{}, ErrChecksum
	}
	return m, nil
}

// ParseKind converts a user supplied kind name.
func ParseKind(s string) (domain.MessageKind, error) {
	k := domain.MessageKind(s)
	if !validKind(k) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func validKind(k domain.MessageKind) bool {
	switch k {
	case domain.KindText, domain.KindClipboard, domain.KindGesture:
		return true
	}
	return false
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
