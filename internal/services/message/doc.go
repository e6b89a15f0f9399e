// Package message encodes typed application payloads (text, clipboard,
// gesture) and hands them to the connection layer.
//
// Each payload is a CBOR map carrying the kind, the body, a send timestamp and
// a SHA-256 checksum of the body, which Decode verifies.
package message
