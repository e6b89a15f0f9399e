package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"peerlink/internal/domain"
	domaintypes "peerlink/internal/domain/types"
)

// EnvelopeOverhead is the number of bytes an envelope adds to its plaintext.
const EnvelopeOverhead = 8 + domaintypes.NonceSize + domaintypes.DigestSize

var errShortEnvelope = errors.New("envelope too short")

// Encode seals plaintext under key. The sequence number is bound as associated
// data, so an envelope cannot be renumbered without failing Decode.
func Encode(key domain.SessionKey, seq uint64, plaintext []byte) (domain.Envelope, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return domain.Envelope{}, err
	}
	env := domain.Envelope{Sequence: seq}
	if _, err := rand.Read(env.Nonce[:]); err != nil {
		return domain.Envelope{}, err
	}

	sealed := aead.Seal(nil, env.Nonce[:], plaintext, sequenceAD(seq))
	split := len(sealed) - domaintypes.DigestSize
	env.Ciphertext = sealed[:split:split]
	copy(env.Digest[:], sealed[split:])
	return env, nil
}

// Decode verifies and opens env.
//
// Envelopes whose sequence number is not strictly greater than lastAccepted are
// rejected with ErrReplay before any decryption is attempted. A digest mismatch
// yields ErrIntegrity.
func Decode(key domain.SessionKey, env domain.Envelope, lastAccepted uint64) ([]byte, error) {
	if env.Sequence <= lastAccepted {
		return nil, domain.NewError(domain.ErrReplay, "decode", "",
			fmt.Errorf("sequence %d, last accepted %d", env.Sequence, lastAccepted))
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+domaintypes.DigestSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Digest[:]...)

	pt, err := aead.Open(nil, env.Nonce[:], sealed, sequenceAD(env.Sequence))
	if err != nil {
		return nil, domain.NewError(domain.ErrIntegrity, "decode", "", err)
	}
	return pt, nil
}

// MarshalEnvelope encodes env as seq(8) | nonce(24) | ciphertext | digest(16).
func MarshalEnvelope(env domain.Envelope) []byte {
	out := make([]byte, 0, EnvelopeOverhead+len(env.Ciphertext))
	out = binary.BigEndian.AppendUint64(out, env.Sequence)
	out = append(out, env.Nonce[:]...)
	out = append(out, env.Ciphertext...)
	out = append(out, env.Digest[:]...)
	return out
}

// UnmarshalEnvelope parses the output of MarshalEnvelope. The returned envelope
// does not alias b.
func UnmarshalEnvelope(b []byte) (domain.Envelope, error) {
	if len(b) < EnvelopeOverhead {
		return domain.Envelope{}, domain.NewError(domain.ErrProtocol, "unmarshal envelope", "", errShortEnvelope)
	}
	var env domain.Envelope
	env.Sequence = binary.BigEndian.Uint64(b[:8])
	copy(env.Nonce[:], b[8:8+domaintypes.NonceSize])
	body := b[8+domaintypes.NonceSize : len(b)-domaintypes.DigestSize]
	env.Ciphertext = append([]byte(nil), body...)
	copy(env.Digest[:], b[len(b)-domaintypes.DigestSize:])
	return env, nil
}

func sequenceAD(seq uint64) []byte {
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], seq)
	return ad[:]
}
