package interfaces

import domaintypes "peerlink/internal/domain/types"

// Bridge is the application side of the core: gesture and clipboard logic that
// produces payloads and consumes the ones that arrive. Callbacks may be invoked
// concurrently from discovery and session goroutines and must not block for long.
type Bridge interface {
	OnPeerDiscovered(id domaintypes.PeerIdentity, address string)
	OnSessionEstablished(id domaintypes.PeerIdentity)
	OnMessage(id domaintypes.PeerIdentity, plaintext []byte)
	OnSessionClosed(id domaintypes.PeerIdentity, reason domaintypes.CloseReason)
}
