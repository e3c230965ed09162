package models

import "time"

// Side identifies which direction a perpetual position is taken in.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Wallet is a trading address observed on the exchange together with the
// time it was last seen trading. The discovery registry only ever grows;
// aging out stale entries is left to external tooling.
type Wallet struct {
	Address    string    `json:"address"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Position is one open perpetual position read from a wallet's clearinghouse
// state. Positions are ephemeral: they live for a single scan cycle and are
// discarded once aggregated.
type Position struct {
	Wallet string `json:"wallet"`
	Coin   string `json:"coin"`
	Side   Side   `json:"side"`

	// SizeUSD is the absolute notional value of the position.
	SizeUSD    float64 `json:"size_usd"`
	EntryPrice float64 `json:"entry_price"`

	// LiquidationPrice is nil for positions that carry no liquidation risk
	// (isolated, fully collateralised). Such positions are kept in scan
	// results but never contribute to clusters.
	LiquidationPrice *float64 `json:"liquidation_price"`

	Leverage      float64 `json:"leverage"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	MarginUsed    float64 `json:"margin_used"`
}

// HasLiquidationRisk reports whether the position contributes a liquidation
// level to the aggregated map.
func (p Position) HasLiquidationRisk() bool {
	return p.LiquidationPrice != nil && *p.LiquidationPrice > 0
}
