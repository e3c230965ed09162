package models

import "time"

// FreshnessStatus classifies how stale the published state is.
type FreshnessStatus string

const (
	StatusHealthy   FreshnessStatus = "healthy"
	StatusDegraded  FreshnessStatus = "degraded"
	StatusUnhealthy FreshnessStatus = "unhealthy"
)

// FreshnessState reports the age of the last successful collection cycle.
// LastSuccessfulCycleAt is zero when no cycle has ever completed.
type FreshnessState struct {
	LastSuccessfulCycleAt time.Time       `json:"last_successful_cycle_at"`
	Status                FreshnessStatus `json:"status"`
}

// CycleResult summarises one completed collection cycle for logging and
// persistence.
type CycleResult struct {
	CycleID        string        `json:"cycle_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	WalletsScanned int           `json:"wallets_scanned"`
	PositionsFound int           `json:"positions_found"`
	AssetsMapped   int           `json:"assets_mapped"`
	ScanErrors     int           `json:"scan_errors"`
}
