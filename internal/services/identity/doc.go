// Package identity owns the node's identity for one process lifetime.
//
// It generates the PeerIdentity (a sanitized node name plus a random suffix),
// enforces the strength policy for the pre-shared application secret and
// stretches that secret into the master key used by every handshake.
package identity
