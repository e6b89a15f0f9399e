package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"peerlink/internal/domain"
	domaintypes "peerlink/internal/domain/types"
)

const (
	// MaxDatagramSize bounds a beacon on the wire.
	MaxDatagramSize = 512

	magic           = "PLNK"
	protocolVersion = 1
	headerLen       = len(magic) + 1
)

// Drop reasons, also used as metric labels.
const (
	dropSize     = "size"
	dropMagic    = "magic"
	dropVersion  = "version"
	dropDecode   = "decode"
	dropIdentity = "identity"
	dropPort     = "port"
)

type announcement struct {
	Identity domain.PeerIdentity `cbor:"id"`
	Host     string              `cbor:"host,omitempty"`
	Port     uint16              `cbor:"port"`
	Caps     domain.Capability   `cbor:"caps,omitempty"`
}

type dropError struct {
	reason string
	err    error
}

func (e *dropError) Error() string {
	if e.err == nil {
		return "beacon dropped: " + e.reason
	}
	return "beacon dropped: " + e.reason + ": " + e.err.Error()
}

func (e *dropError) Unwrap() error { return e.err }

func drop(reason string, err error) error { return &dropError{reason: reason, err: err} }

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

func marshalBeacon(a *announcement) ([]byte, error) {
	body, err := encMode.Marshal(a)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLen+len(body))
	out = append(out, magic...)
	out = append(out, protocolVersion)
	out = append(out, body...)
	if len(out) > MaxDatagramSize {
		return nil, fmt.Errorf("beacon is %d bytes, limit %d", len(out), MaxDatagramSize)
	}
	return out, nil
}

func parseBeacon(b []byte) (*announcement, error) {
	switch {
	case len(b) > MaxDatagramSize:
		return nil, drop(dropSize, nil)
	case len(b) < headerLen || !bytes.Equal(b[:len(magic)], []byte(magic)):
		return nil, drop(dropMagic, nil)
	case b[len(magic)] != protocolVersion:
		return nil, drop(dropVersion, fmt.Errorf("version %d", b[len(magic)]))
	}

	var a announcement
	if err := decMode.Unmarshal(b[headerLen:], &a); err != nil {
		return nil, drop(dropDecode, err)
	}
	switch {
	case len(a.Identity) > domaintypes.MaxIdentityLen:
		return nil, drop(dropIdentity, errors.New("identity too long"))
	case !a.Identity.Valid():
		return nil, drop(dropIdentity, errors.New("invalid identity"))
	case a.Port == 0:
		return nil, drop(dropPort, nil)
	}
	return &a, nil
}

// dataAddress resolves the advertised data listener against the datagram's
// source. An empty or unspecified host means the sender's address.
func (a *announcement) dataAddress(src *net.UDPAddr) string {
	host := a.Host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = src.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(a.Port)))
}
