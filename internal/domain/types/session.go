package types

import "time"

// SessionKey is the symmetric secret scoped to one Session's lifetime.
type SessionKey [32]byte

// Slice returns the key as a []byte.
func (k *SessionKey) Slice() []byte { return k[:] }

// SessionStatus is the lifecycle state of a Session.
type SessionStatus uint32

const (
	StatusHandshaking SessionStatus = iota
	StatusEstablished
	StatusClosing
	StatusClosed
	StatusFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusHandshaking:
		return "handshaking"
	case StatusEstablished:
		return "established"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// SessionInfo is the public view of a Session.
type SessionInfo struct {
	Peer          PeerIdentity `json:"peer"`
	Remote        string       `json:"remote"`
	DialAddress   string       `json:"dial_address,omitempty"`
	Initiator     bool         `json:"initiator"`
	Status        string       `json:"status"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	EstablishedAt time.Time    `json:"established_at"`
	Sent          uint64       `json:"sent"`
	Received      uint64       `json:"received"`
	Rejected      uint64       `json:"rejected"`
}
