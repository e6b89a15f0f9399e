package handshake

import (
	"errors"
	"fmt"
	"io"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/protocol/wire"
)

var (
	ErrBadMagic          = errors.New("bad magic")
	ErrVersionMismatch   = errors.New("protocol version mismatch")
	ErrInvalidIdentity   = errors.New("invalid peer identity")
	ErrSelfConnect       = errors.New("connection to self")
	ErrBadConfirm        = errors.New("key confirmation failed")
	ErrUnexpectedPeer    = errors.New("unexpected peer identity")
	ErrUnexpectedMessage = errors.New("unexpected handshake message")
	ErrRejected          = errors.New("rejected by peer")
)

// Params describe the local side of a handshake.
type Params struct {
	Self       domain.PeerIdentity
	Master     [crypto.KeyBytes]byte
	ListenPort uint16
	Caps       domain.Capability

	// Expect, when set on the initiator, is the identity the dialed address is
	// believed to belong to.
	Expect domain.PeerIdentity
}

// Result is what a successful handshake yields.
type Result struct {
	Peer           domain.PeerIdentity
	PeerListenPort uint16
	PeerCaps       domain.Capability
	Initiator      bool

	// SessionID is identical on both ends of the session.
	SessionID string

	// SendKey seals outgoing envelopes, RecvKey opens incoming ones.
	SendKey domain.SessionKey
	RecvKey domain.SessionKey
}

// Initiate runs the dialing side of the handshake over rw.
func Initiate(rw io.ReadWriter, p Params) (Result, error) {
	nonce, err := crypto.NewHandshakeNonce()
	if err != nil {
		return Result{}, fail(p.Expect, err)
	}
	ours := &Hello{
		Magic:      Magic,
		Version:    Version,
		Identity:   p.Self,
		Nonce:      nonce,
		ListenPort: p.ListenPort,
		Caps:       p.Caps,
	}
	if err := send(rw, &message{Hello: ours}); err != nil {
		return Result{}, fail(p.Expect, err)
	}

	m, err := recv(rw)
	if err != nil {
		return Result{}, fail(p.Expect, err)
	}
	if m.Reject != nil {
		return Result{}, fail(p.Expect, rejected(m.Reject))
	}
	if m.Hello == nil || m.Confirm == nil {
		return Result{}, fail(p.Expect, ErrUnexpectedMessage)
	}
	theirs := m.Hello
	if code, err := validate(theirs, p.Self); err != nil {
		_ = send(rw, &message{Reject: &Reject{Code: code, Reason: err.Error()}})
		return Result{}, fail(theirs.Identity, err)
	}
	if p.Expect != "" && theirs.Identity != p.Expect {
		return Result{}, fail(p.Expect, fmt.Errorf("%w: got %s", ErrUnexpectedPeer, theirs.Identity))
	}

	tr, err := transcript(ours, theirs)
	if err != nil {
		return Result{}, fail(theirs.Identity, err)
	}
	sk := crypto.DeriveSessionKey(p.Master, ours.Nonce, theirs.Nonce, ours.Identity, theirs.Identity)
	defer crypto.Wipe(sk[:])

	if !crypto.VerifyConfirmTag(sk, crypto.RoleResponder, tr, m.Confirm.Tag) {
		_ = send(rw, &message{Reject: &Reject{Code: RejectConfirm, Reason: ErrBadConfirm.Error()}})
		return Result{}, fail(theirs.Identity, ErrBadConfirm)
	}
	tag := crypto.ConfirmTag(sk, crypto.RoleInitiator, tr)
	if err := send(rw, &message{Confirm: &Confirm{Tag: tag}}); err != nil {
		return Result{}, fail(theirs.Identity, err)
	}

	i2r, r2i := crypto.TrafficKeys(sk)
	return Result{
		Peer:           theirs.Identity,
		PeerListenPort: theirs.ListenPort,
		PeerCaps:       theirs.Caps,
		Initiator:      true,
		SessionID:      crypto.SessionID(sk),
		SendKey:        i2r,
		RecvKey:        r2i,
	}, nil
}

// Respond runs the accepting side of the handshake over rw.
func Respond(rw io.ReadWriter, p Params) (Result, error) {
	m, err := recv(rw)
	if err != nil {
		return Result{}, fail("", err)
	}
	if m.Hello == nil {
		return Result{}, fail("", ErrUnexpectedMessage)
	}
	theirs := m.Hello
	if code, err := validate(theirs, p.Self); err != nil {
		_ = send(rw, &message{Reject: &Reject{Code: code, Reason: err.Error()}})
		return Result{}, fail(theirs.Identity, err)
	}

	nonce, err := crypto.NewHandshakeNonce()
	if err != nil {
		return Result{}, fail(theirs.Identity, err)
	}
	ours := &Hello{
		Magic:      Magic,
		Version:    Version,
		Identity:   p.Self,
		Nonce:      nonce,
		ListenPort: p.ListenPort,
		Caps:       p.Caps,
	}
	tr, err := transcript(theirs, ours)
	if err != nil {
		return Result{}, fail(theirs.Identity, err)
	}
	sk := crypto.DeriveSessionKey(p.Master, theirs.Nonce, ours.Nonce, theirs.Identity, ours.Identity)
	defer crypto.Wipe(sk[:])

	tag := crypto.ConfirmTag(sk, crypto.RoleResponder, tr)
	if err := send(rw, &message{Hello: ours, Confirm: &Confirm{Tag: tag}}); err != nil {
		return Result{}, fail(theirs.Identity, err)
	}

	m, err = recv(rw)
	if err != nil {
		return Result{}, fail(theirs.Identity, err)
	}
	switch {
	case m.Reject != nil:
		return Result{}, fail(theirs.Identity, rejected(m.Reject))
	case m.Confirm == nil:
		return Result{}, fail(theirs.Identity, ErrUnexpectedMessage)
	case !crypto.VerifyConfirmTag(sk, crypto.RoleInitiator, tr, m.Confirm.Tag):
		return Result{}, fail(theirs.Identity, ErrBadConfirm)
	}

	i2r, r2i := crypto.TrafficKeys(sk)
	return Result{
		Peer:           theirs.Identity,
		PeerListenPort: theirs.ListenPort,
		PeerCaps:       theirs.Caps,
		Initiator:      false,
		SessionID:      crypto.SessionID(sk),
		SendKey:        r2i,
		RecvKey:        i2r,
	}, nil
}

func validate(h *Hello, self domain.PeerIdentity) (RejectCode, error) {
	switch {
	case h.Magic != Magic:
		return RejectBadMagic, ErrBadMagic
	case h.Version != Version:
		return RejectVersion, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, Version)
	case !h.Identity.Valid():
		return RejectIdentity, ErrInvalidIdentity
	case h.Identity == self:
		return RejectSelf, ErrSelfConnect
	}
	return 0, nil
}

func rejected(r *Reject) error {
	if r.Reason == "" {
		return fmt.Errorf("%w: %w", ErrRejected, r.Code.err())
	}
	return fmt.Errorf("%w: %w (%s)", ErrRejected, r.Code.err(), r.Reason)
}

func fail(peer domain.PeerIdentity, err error) error {
	return domain.NewError(domain.ErrConnect, "handshake", peer, err)
}

func send(w io.Writer, m *message) error {
	b, err := encMode.Marshal(m)
	if err != nil {
		return err
	}
	return wire.WriteFrame(w, b)
}

func recv(r io.Reader) (*message, error) {
	b, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var m message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
	}
	return &m, nil
}
