package handshake

import (
	"github.com/fxamacker/cbor/v2"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
)

const (
	// Magic identifies peerlink traffic on a data connection.
	Magic = "PLNK"
	// Version is the handshake and session protocol version.
	Version uint8 = 1
)

// Hello opens the handshake in both directions.
type Hello struct {
	Magic      string                      `cbor:"1,keyasint"`
	Version    uint8                       `cbor:"2,keyasint"`
	Identity   domain.PeerIdentity         `cbor:"3,keyasint"`
	Nonce      [crypto.HandshakeNonce]byte `cbor:"4,keyasint"`
	ListenPort uint16                      `cbor:"5,keyasint"`
	Caps       domain.Capability           `cbor:"6,keyasint"`
}

// Confirm proves knowledge of the SessionKey.
type Confirm struct {
	Tag []byte `cbor:"1,keyasint"`
}

// RejectCode says why a handshake was refused.
type RejectCode uint8

const (
	RejectUnknown RejectCode = iota
	RejectBadMagic
	RejectVersion
	RejectIdentity
	RejectSelf
	RejectConfirm
)

// Reject ends a handshake early.
type Reject struct {
	Code   RejectCode `cbor:"1,keyasint"`
	Reason string     `cbor:"2,keyasint,omitempty"`
}

// message is the frame body; exactly the fields valid for the step are set.
type message struct {
	Hello   *Hello   `cbor:"1,keyasint,omitempty"`
	Confirm *Confirm `cbor:"2,keyasint,omitempty"`
	Reject  *Reject  `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func (c RejectCode) err() error {
	switch c {
	case RejectBadMagic:
		return ErrBadMagic
	case RejectVersion:
		return ErrVersionMismatch
	case RejectIdentity:
		return ErrInvalidIdentity
	case RejectSelf:
		return ErrSelfConnect
	case RejectConfirm:
		return ErrBadConfirm
	default:
		return ErrUnexpectedMessage
	}
}

func transcript(initiator, responder *Hello) ([]byte, error) {
	a, err := encMode.Marshal(initiator)
	if err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(responder)
	if err != nil {
		return nil, err
	}
	return append(a, b...), nil
}
