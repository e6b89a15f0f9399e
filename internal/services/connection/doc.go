// Package connection turns discovered or manually supplied peers into live
// sessions and keeps at most one session per peer identity.
//
// # Producers
//
// Sessions come from three places: the accept loop (responder handshakes),
// Connect (a manual host:port) and ConnectPeer (an identity looked up in the
// registry, used by auto-connect). Concurrent requests for the same address or
// identity share one dial.
//
// # Duplicates
//
// When two sessions to one peer exist, the one initiated by the
// lexicographically smaller identity survives; if both were initiated by the
// same side the smaller session ID survives. Both ends apply the same rule, so
// they keep the same session. The loser is closed with reason "duplicate".
//
// # Reconnection
//
// A session lost to a transport error or keepalive silence is redialed with
// exponential backoff. If every attempt fails the Bridge is told the peer is
// unreachable; every other ending is reported immediately.
package connection
