package models

// LiquidationCluster is a price-banded aggregate of liquidation levels on one
// side of one asset. PriceCenter is the size-weighted mean of the contributing
// liquidation prices, not the band midpoint, so the reported center tracks the
// actual risk concentration inside the band.
type LiquidationCluster struct {
	Coin          string  `json:"coin"`
	Side          Side    `json:"side"`
	PriceLow      float64 `json:"price_low"`
	PriceHigh     float64 `json:"price_high"`
	PriceCenter   float64 `json:"price_center"`
	TotalSizeUSD  float64 `json:"total_size_usd"`
	PositionCount int     `json:"position_count"`
	AvgLeverage   float64 `json:"avg_leverage"`
}

// AssetLiquidationMap is the published liquidation surface for one asset.
// It is immutable once built; every cycle produces a whole new value and the
// previous one stays valid for readers that still hold it.
//
// Clusters within one side are sorted ascending by PriceCenter and are
// pairwise non-overlapping.
type AssetLiquidationMap struct {
	Coin         string  `json:"coin"`
	CurrentPrice float64 `json:"current_price"`

	LongLiquidations  []LiquidationCluster `json:"long_liquidations"`
	ShortLiquidations []LiquidationCluster `json:"short_liquidations"`

	TotalLongAtRiskUSD  float64 `json:"total_long_at_risk_usd"`
	TotalShortAtRiskUSD float64 `json:"total_short_at_risk_usd"`

	// NearestLongCluster is the long cluster with the largest PriceCenter
	// still below CurrentPrice; NearestShortCluster the short cluster with
	// the smallest PriceCenter above it. Nil when no cluster qualifies.
	NearestLongCluster  *LiquidationCluster `json:"nearest_long_cluster"`
	NearestShortCluster *LiquidationCluster `json:"nearest_short_cluster"`
}

// PositionCount returns the number of positions contributing to the map on
// both sides. Callers distinguish "asset tracked but zero risk" from "asset
// unknown" by checking this against an absent map entry.
func (m *AssetLiquidationMap) PositionCount() int {
	n := 0
	for _, c := range m.LongLiquidations {
		n += c.PositionCount
	}
	for _, c := range m.ShortLiquidations {
		n += c.PositionCount
	}
	return n
}
