// Package discovery announces this node on the LAN and listens for the
// announcements of others.
//
// A beacon is one UDP datagram: the 4-byte magic "PLNK", a version byte and a
// CBOR map {id, host, port, caps}. It is sent immediately on Start and then once
// per interval to every target (by default the directed broadcast address of
// each up IPv4 interface plus the limited broadcast address). Each accepted
// beacon refreshes the peer registry.
//
// Malformed, oversized or foreign datagrams are dropped without a reply. The
// node's own beacons are ignored.
package discovery
