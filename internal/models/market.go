package models

import "time"

// DepthBand carries order-book depth and imbalance within one percentage band
// of the mid price. The set of bands is configuration, not schema.
type DepthBand struct {
	Percent      float64 `json:"percent"`
	BidDepthUSD  float64 `json:"bid_depth_usd"`
	AskDepthUSD  float64 `json:"ask_depth_usd"`

	// Imbalance is (bid-ask)/(bid+ask), zero when both depths are zero.
	Imbalance float64 `json:"imbalance"`
}

// LiquidityMetrics summarises the order book at snapshot time.
type LiquidityMetrics struct {
	BestBid       float64     `json:"best_bid"`
	BestAsk       float64     `json:"best_ask"`
	SpreadPercent float64     `json:"spread_percent"`
	Bands         []DepthBand `json:"bands"`
}

// MarketSnapshot is one cached observation of an asset's market state.
// Snapshots are never mutated: a cache refresh builds a new value and the old
// one is superseded.
type MarketSnapshot struct {
	Coin      string    `json:"coin"`
	Timestamp time.Time `json:"timestamp"`

	MarkPrice   float64 `json:"mark_price"`
	OraclePrice float64 `json:"oracle_price"`
	MidPrice    float64 `json:"mid_price"`

	OpenInterest    float64 `json:"open_interest"`
	OpenInterestUSD float64 `json:"open_interest_usd"`
	Volume24hUSD    float64 `json:"volume_24h_usd"`

	FundingRate           float64 `json:"funding_rate"`
	FundingRateAnnualized float64 `json:"funding_rate_annualized"`
	Premium               float64 `json:"premium"`
	PriceChange24hPct     float64 `json:"price_change_24h_pct"`

	Liquidity *LiquidityMetrics `json:"liquidity,omitempty"`
}
