package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"peerlink/internal/domain"
)

const (
	KeyBytes        = 32
	HandshakeNonce  = 32
	masterKeyLabel  = "peerlink/psk/v1"
	sessionKeyLabel = "peerlink/session/v1"
	trafficLabel    = "peerlink/traffic/v1"
	confirmLabel    = "peerlink/confirm/v1"
	sessionIDLabel  = "peerlink/session-id/v1"
)

// Role distinguishes the two ends of a handshake.
type Role byte

const (
	RoleInitiator Role = 'I'
	RoleResponder Role = 'R'
)

// DeriveMasterKey stretches the pre-shared application secret with Argon2id.
//
// The salt is a fixed application label: both peers must arrive at the same key
// from the same secret without exchanging anything first.
func DeriveMasterKey(secret string) [KeyBytes]byte {
	var out [KeyBytes]byte
	k := argon2.IDKey([]byte(secret), []byte(masterKeyLabel), 1, 64*1024, 2, KeyBytes)
	copy(out[:], k)
	Wipe(k)
	return out
}

// NewHandshakeNonce returns a fresh per-session handshake nonce.
func NewHandshakeNonce() ([HandshakeNonce]byte, error) {
	var n [HandshakeNonce]byte
	_, err := rand.Read(n[:])
	return n, err
}

// DeriveSessionKey mixes the master key with both handshake nonces and both
// identities into the SessionKey.
func DeriveSessionKey(
	master [KeyBytes]byte,
	initiatorNonce, responderNonce [HandshakeNonce]byte,
	initiator, responder domain.PeerIdentity,
) domain.SessionKey {
	salt := make([]byte, 0, 2*HandshakeNonce)
	salt = append(salt, initiatorNonce[:]...)
	salt = append(salt, responderNonce[:]...)

	info := make([]byte, 0, len(sessionKeyLabel)+len(initiator)+len(responder)+2)
	info = append(info, sessionKeyLabel...)
	info = append(info, 0)
	info = append(info, initiator...)
	info = append(info, 0)
	info = append(info, responder...)

	var key domain.SessionKey
	r := hkdf.New(sha256.New, master[:], salt, info)
	_, _ = io.ReadFull(r, key[:])
	return key
}

// TrafficKeys derives the initiator→responder and responder→initiator keys
// from a SessionKey, so an envelope reflected back at its sender never opens.
func TrafficKeys(sk domain.SessionKey) (initiatorToResponder, responderToInitiator domain.SessionKey) {
	r := hkdf.New(sha256.New, sk[:], nil, []byte(trafficLabel))
	_, _ = io.ReadFull(r, initiatorToResponder[:])
	_, _ = io.ReadFull(r, responderToInitiator[:])
	return
}

// ConfirmTag proves knowledge of the SessionKey for the given role over the
// handshake transcript.
func ConfirmTag(sk domain.SessionKey, role Role, transcript []byte) []byte {
	m := hmac.New(sha256.New, sk[:])
	m.Write([]byte(confirmLabel))
	m.Write([]byte{byte(role)})
	m.Write(transcript)
	return m.Sum(nil)
}

// VerifyConfirmTag checks tag in constant time.
func VerifyConfirmTag(sk domain.SessionKey, role Role, transcript, tag []byte) bool {
	return hmac.Equal(ConfirmTag(sk, role, transcript), tag)
}

// SessionID returns a short public identifier of a SessionKey. Both ends of a
// session compute the same value, so it can break ties between sessions.
func SessionID(sk domain.SessionKey) string {
	m := hmac.New(sha256.New, sk[:])
	m.Write([]byte(sessionIDLabel))
	return hex.EncodeToString(m.Sum(nil)[:8])
}
