// Package handshake authenticates a fresh data connection and agrees the
// session's traffic keys.
//
// # Overview
//
// Both nodes hold the same master key, stretched from the pre-shared application
// secret. Each side contributes a random 32-byte nonce; HKDF over the master key,
// both nonces and both identities yields the SessionKey, from which two
// directional traffic keys are derived.
//
// # Flow
//
//  1. Initiator sends Hello{magic, version, identity, nonce, listen port, caps}.
//  2. Responder validates it, replies with its own Hello plus a Confirm tag.
//  3. Initiator verifies the responder's tag and answers with its own Confirm.
//
// Either side that detects a problem (bad magic, version mismatch, invalid
// identity, a connection to itself, a confirm tag that does not verify) sends a
// Reject with a code and closes. A node with a different secret fails at step 3
// on the initiator, or at the responder's check of the final Confirm.
//
// # Errors
//
// Every failure is a *domain.Error of kind domain.ErrConnect. The cause is one of
// the sentinels below, wrapped with ErrRejected when the remote side refused.
//
// # Notes
//
// Message bodies are CBOR with integer keys; each travels in one wire frame. The
// caller owns connection deadlines.
package handshake
