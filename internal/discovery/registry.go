package discovery

import (
	"sort"
	"sync"
	"time"

	"liqflow/internal/models"
)

// Registry tracks wallet addresses seen trading and when they were last
// observed. Writers (backfill, trade stream) and readers (the scanner)
// touch it concurrently.
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{wallets: make(map[string]time.Time)}
}

// Observe records a wallet sighting. Older sightings never move the
// last-seen timestamp backwards.
func (r *Registry) Observe(address string, seenAt time.Time) {
	if address == "" {
		return
	}
	r.mu.Lock()
	if prev, ok := r.wallets[address]; !ok || seenAt.After(prev) {
		r.wallets[address] = seenAt
	}
	r.mu.Unlock()
}

// Len returns the number of tracked wallets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

// Prune drops wallets last seen before the cutoff and returns how many were
// removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for addr, seen := range r.wallets {
		if seen.Before(cutoff) {
			delete(r.wallets, addr)
			removed++
		}
	}
	return removed
}

// Active returns wallets last seen at or after the cutoff, most recent
// first, capped at limit (0 means no cap). The result is a copy.
func (r *Registry) Active(cutoff time.Time, limit int) []models.Wallet {
	r.mu.RLock()
	out := make([]models.Wallet, 0, len(r.wallets))
	for addr, seen := range r.wallets {
		if !seen.Before(cutoff) {
			out = append(out, models.Wallet{Address: addr, LastSeenAt: seen})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// snapshot copies the full map for persistence.
func (r *Registry) snapshot() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.wallets))
	for addr, seen := range r.wallets {
		out[addr] = seen
	}
	return out
}

// load merges persisted entries into the registry.
func (r *Registry) load(entries map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, seen := range entries {
		if prev, ok := r.wallets[addr]; !ok || seen.After(prev) {
			r.wallets[addr] = seen
		}
	}
}
