package state

import (
	"sync/atomic"
	"time"

	"liqflow/internal/models"
)

// Snapshot is the complete output of one collection cycle. Once published
// it is immutable; readers must not mutate the maps they receive.
type Snapshot struct {
	GeneratedAt  time.Time                             `json:"generated_at"`
	Cycle        models.CycleResult                    `json:"cycle"`
	Liquidations map[string]models.AssetLiquidationMap `json:"liquidations"`
	Markets      map[string]models.MarketSnapshot      `json:"markets"`
}

// Store publishes cycle snapshots atomically. Consumers either see the
// previous complete snapshot or the new one, never a half-written mix.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Publish swaps in a new snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// Current returns the latest published snapshot, or nil before the first
// cycle completes.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}
