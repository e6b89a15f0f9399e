package types

import "time"

// PeerRecord is a registry entry tracking a discovered peer's liveness.
type PeerRecord struct {
	Identity     PeerIdentity `json:"identity"`
	Address      string       `json:"address"`
	LastSeen     time.Time    `json:"last_seen"`
	Capabilities Capability   `json:"capabilities"`
}

// Expired reports whether the record was last refreshed more than window ago.
func (r PeerRecord) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(r.LastSeen) > window
}
