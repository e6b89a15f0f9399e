package interfaces

import domaintypes "peerlink/internal/domain/types"

// PeerRegistry tracks which peers have been heard from recently.
type PeerRegistry interface {
	Observe(
		id domaintypes.PeerIdentity,
		address string,
		caps domaintypes.Capability,
	) (domaintypes.PeerRecord, bool)
	ListLive() []domaintypes.PeerRecord
	Lookup(id domaintypes.PeerIdentity) (domaintypes.PeerRecord, bool)
	ExpireSweep() []domaintypes.PeerIdentity
}
