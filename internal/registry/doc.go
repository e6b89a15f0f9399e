// Package registry keeps the set of peers heard from on the LAN.
//
// A record is live while its last beacon is no older than the expiry window.
// Sweeps drop stale records; ListLive also filters them so callers never see a
// peer that has gone quiet, even between sweeps.
package registry
