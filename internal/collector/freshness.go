package collector

import (
	"sync"
	"time"

	"liqflow/internal/models"
)

const (
	// Published data younger than this is healthy.
	healthyWithin = 10 * time.Minute
	// Between healthyWithin and this the data is degraded but usable.
	degradedWithin = 30 * time.Minute
)

// FreshnessTracker reports how stale the published state is. A process that
// has never completed a cycle is unhealthy, not merely degraded.
type FreshnessTracker struct {
	mu   sync.RWMutex
	last time.Time
}

func NewFreshnessTracker() *FreshnessTracker {
	return &FreshnessTracker{}
}

// MarkSuccess records a completed cycle.
func (f *FreshnessTracker) MarkSuccess(at time.Time) {
	f.mu.Lock()
	if at.After(f.last) {
		f.last = at
	}
	f.mu.Unlock()
}

// State classifies the current staleness.
func (f *FreshnessTracker) State(now time.Time) models.FreshnessState {
	f.mu.RLock()
	last := f.last
	f.mu.RUnlock()

	st := models.FreshnessState{LastSuccessfulCycleAt: last}
	switch age := now.Sub(last); {
	case last.IsZero():
		st.Status = models.StatusUnhealthy
	case age < healthyWithin:
		st.Status = models.StatusHealthy
	case age < degradedWithin:
		st.Status = models.StatusDegraded
	default:
		st.Status = models.StatusUnhealthy
	}
	return st
}

// Age returns how long ago the last successful cycle finished, and false
// when no cycle has ever completed.
func (f *FreshnessTracker) Age(now time.Time) (time.Duration, bool) {
	f.mu.RLock()
	last := f.last
	f.mu.RUnlock()
	if last.IsZero() {
		return 0, false
	}
	return now.Sub(last), true
}
