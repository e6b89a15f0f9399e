package domain

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is on any error returned by the core.
var (
	// ErrDiscovery marks bind/broadcast failures; discovery is degraded but manual
	// connections keep working.
	ErrDiscovery = errors.New("discovery error")
	// ErrConnect marks dial, handshake, version and timeout failures. No session
	// is created.
	ErrConnect = errors.New("connect error")
	// ErrIntegrity marks an envelope whose digest does not verify.
	ErrIntegrity = errors.New("integrity error")
	// ErrReplay marks an envelope whose sequence number is not strictly greater
	// than the last accepted one.
	ErrReplay = errors.New("replay error")
	// ErrProtocol marks malformed framing; the session is torn down.
	ErrProtocol = errors.New("protocol error")
	// ErrTransport marks socket-level failures.
	ErrTransport = errors.New("transport error")
)

// Error carries an error kind together with the operation, peer and cause.
type Error struct {
	Kind error
	Op   string
	Peer PeerIdentity
	Err  error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, op string, peer PeerIdentity, err error) *Error {
	return &Error{Kind: kind, Op: op, Peer: peer, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Peer != "" {
		b.WriteString(string(e.Peer))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
