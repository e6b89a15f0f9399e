package types

const (
	// NonceSize is the size of the per-envelope XChaCha20-Poly1305 nonce.
	NonceSize = 24
	// DigestSize is the size of the Poly1305 integrity tag.
	DigestSize = 16
)

// Envelope is the encrypted, integrity-checked unit transmitted over a Session.
type Envelope struct {
	Sequence   uint64
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Digest     [DigestSize]byte
}

// MessageKind labels an application payload.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindClipboard MessageKind = "clipboard"
	KindGesture   MessageKind = "gesture"
)

// Message is the application-level payload carried inside a session.
type Message struct {
	Kind      MessageKind `cbor:"1,keyasint" json:"kind"`
	Body      []byte      `cbor:"2,keyasint" json:"body"`
	Timestamp int64       `cbor:"3,keyasint" json:"timestamp"`
	Checksum  []byte      `cbor:"4,keyasint" json:"checksum"`
}
