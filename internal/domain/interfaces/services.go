package interfaces

import domaintypes "peerlink/internal/domain/types"

// Sender delivers plaintext payloads to peers with a live session.
type Sender interface {
	SendTo(id domaintypes.PeerIdentity, plaintext []byte) bool
	Broadcast(plaintext []byte) int
}

// MessageService encodes typed application messages and hands them to a Sender.
type MessageService interface {
	Send(to domaintypes.PeerIdentity, kind domaintypes.MessageKind, body []byte) (bool, error)
	Broadcast(kind domaintypes.MessageKind, body []byte) (int, error)
	Decode(plaintext []byte) (domaintypes.Message, error)
}
