// Package session runs one established, encrypted channel to a peer.
//
// A Session owns its connection after the handshake. It seals outgoing
// payloads with strictly increasing sequence numbers, and its single reader
// goroutine opens incoming envelopes, rejecting replays and corrupted ones.
// Repeated rejections, framing errors, transport errors and keepalive silence
// end the session; Done fires exactly once with the reason recorded.
//
// Every plaintext starts with a control byte: data, ping, pong or close.
package session
