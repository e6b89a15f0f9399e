package domain

import (
	interfaces "peerlink/internal/domain/interfaces"
	types "peerlink/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	PeerIdentity  = types.PeerIdentity
	PeerRecord    = types.PeerRecord
	Fingerprint   = types.Fingerprint
	Capability    = types.Capability
	CloseReason   = types.CloseReason
	Envelope      = types.Envelope
	SessionKey    = types.SessionKey
	SessionStatus = types.SessionStatus
	SessionInfo   = types.SessionInfo
	Message       = types.Message
	MessageKind   = types.MessageKind
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Bridge         = interfaces.Bridge
	PeerRegistry   = interfaces.PeerRegistry
	Sender         = interfaces.Sender
	MessageService = interfaces.MessageService
)

// Constants re-exported from the types subpackage.
const (
	MaxIdentityLen = types.MaxIdentityLen

	CapClipboard = types.CapClipboard
	CapGesture   = types.CapGesture
	CapText      = types.CapText

	KindText      = types.KindText
	KindClipboard = types.KindClipboard
	KindGesture   = types.KindGesture

	StatusHandshaking = types.StatusHandshaking
	StatusEstablished = types.StatusEstablished
	StatusClosing     = types.StatusClosing
	StatusClosed      = types.StatusClosed
	StatusFailed      = types.StatusFailed

	ReasonLocalClose       = types.ReasonLocalClose
	ReasonPeerClosed       = types.ReasonPeerClosed
	ReasonUnreachable      = types.ReasonUnreachable
	ReasonProtocol         = types.ReasonProtocol
	ReasonIntegrity        = types.ReasonIntegrity
	ReasonDuplicate        = types.ReasonDuplicate
	ReasonTransport        = types.ReasonTransport
	ReasonKeepaliveTimeout = types.ReasonKeepaliveTimeout
)

// ParseCapabilities converts capability names into flags.
func ParseCapabilities(names []string) (Capability, error) {
	return types.ParseCapabilities(names)
}
