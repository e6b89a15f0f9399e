// Package crypto exposes the primitives behind peerlink's secure sessions.
//
// Contents
//
//   - The Secure Codec: Encode/Decode turn plaintext into an Envelope and back
//     using XChaCha20-Poly1305 with the sequence number as associated data
//   - Envelope binary form (MarshalEnvelope, UnmarshalEnvelope)
//   - Argon2id stretching of the pre-shared application secret (DeriveMasterKey)
//   - HKDF session key agreement and directional traffic keys (DeriveSessionKey,
//     TrafficKeys) plus HMAC key confirmation (ConfirmTag)
//   - Secret generation, short fingerprints and best-effort wiping
//
// # Notes
//
// Nothing here knows about sockets, peers or discovery; every function is a pure
// function of its inputs apart from reading randomness. Decode never returns
// plaintext together with an error.
package crypto
