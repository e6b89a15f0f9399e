package types

import (
	"fmt"
	"sort"
	"strings"
)

// MaxIdentityLen bounds the length of a PeerIdentity on the wire.
const MaxIdentityLen = 64

// PeerIdentity is the opaque, per-process identifier of a node.
type PeerIdentity string

// String returns the string form of the identity.
func (id PeerIdentity) String() string { return string(id) }

// Valid reports whether id is non-empty, at most MaxIdentityLen bytes and made of
// [A-Za-z0-9._-] only.
func (id PeerIdentity) Valid() bool {
	if len(id) == 0 || len(id) > MaxIdentityLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// Fingerprint is a short identifier for key material presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Capability is a set of feature flags a node advertises.
type Capability uint32

const (
	CapClipboard Capability = 1 << iota
	CapGesture
	CapText
)

var capabilityNames = map[string]Capability{
	"clipboard": CapClipboard,
	"gesture":   CapGesture,
	"text":      CapText,
}

// Has reports whether all flags in o are set in c.
func (c Capability) Has(o Capability) bool { return c&o == o }

// Strings returns the sorted names of the flags set in c.
func (c Capability) Strings() []string {
	out := make([]string, 0, len(capabilityNames))
	for name, flag := range capabilityNames {
		if c.Has(flag) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ParseCapabilities converts capability names into flags.
func ParseCapabilities(names []string) (Capability, error) {
	var c Capability
	for _, n := range names {
		flag, ok := capabilityNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", n)
		}
		c |= flag
	}
	return c, nil
}

// CloseReason tells the application bridge why a session ended.
type CloseReason string

const (
	ReasonLocalClose       CloseReason = "closed"
	ReasonPeerClosed       CloseReason = "peer closed"
	ReasonUnreachable      CloseReason = "unreachable"
	ReasonProtocol         CloseReason = "protocol error"
	ReasonIntegrity        CloseReason = "integrity failures"
	ReasonDuplicate        CloseReason = "duplicate"
	ReasonTransport        CloseReason = "transport error"
	ReasonKeepaliveTimeout CloseReason = "keepalive timeout"
)

// String returns the string form of the reason.
func (r CloseReason) String() string { return string(r) }

// Retryable reports whether the reconnection policy applies to a session that
// ended for reason r.
func (r CloseReason) Retryable() bool {
	return r == ReasonTransport || r == ReasonKeepaliveTimeout
}
