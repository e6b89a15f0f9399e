package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"peerlink/internal/domain"
)

// Registry is a concurrency-safe PeerRegistry.
type Registry struct {
	mu     sync.RWMutex
	peers  map[domain.PeerIdentity]domain.PeerRecord
	expiry time.Duration
	clock  clock.Clock
}

var _ domain.PeerRegistry = (*Registry)(nil)

// New returns an empty registry whose records expire after expiry. A nil clock
// means the wall clock.
func New(expiry time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		peers:  make(map[domain.PeerIdentity]domain.PeerRecord),
		expiry: expiry,
		clock:  clk,
	}
}

// Observe inserts or refreshes id. The second return value is true when the
// peer was absent or had already expired, i.e. when it should be announced.
func (r *Registry) Observe(id domain.PeerIdentity, address string, caps domain.Capability) (domain.PeerRecord, bool) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.peers[id]
	isNew := !ok || prev.Expired(now, r.expiry)
	rec := domain.PeerRecord{
		Identity:     id,
		Address:      address,
		LastSeen:     now,
		Capabilities: caps,
	}
	r.peers[id] = rec
	return rec, isNew
}

// ListLive returns the unexpired records ordered by identity.
func (r *Registry) ListLive() []domain.PeerRecord {
	now := r.clock.Now()

	r.mu.RLock()
	out := make([]domain.PeerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		if !rec.Expired(now, r.expiry) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Lookup returns the record for id if it is live.
func (r *Registry) Lookup(id domain.PeerIdentity) (domain.PeerRecord, bool) {
	now := r.clock.Now()

	r.mu.RLock()
	rec, ok := r.peers[id]
	r.mu.RUnlock()

	if !ok || rec.Expired(now, r.expiry) {
		return domain.PeerRecord{}, false
	}
	return rec, true
}

// ExpireSweep removes stale records and returns their identities.
func (r *Registry) ExpireSweep() []domain.PeerIdentity {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.PeerIdentity
	for id, rec := range r.peers {
		if rec.Expired(now, r.expiry) {
			delete(r.peers, id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Len returns the number of records held, live or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Expiry returns the configured expiry window.
func (r *Registry) Expiry() time.Duration { return r.expiry }
