package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// The info endpoint serialises every numeric field as a decimal string.
// Float64String keeps the wire form intact while exposing a parsed value.
type Float64String float64

func (f *Float64String) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Some fields flip between string and bare number across API
		// versions, accept both.
		var v float64
		if err2 := json.Unmarshal(data, &v); err2 != nil {
			return fmt.Errorf("numeric string: %w", err)
		}
		*f = Float64String(v)
		return nil
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("numeric string %q: %w", s, err)
	}
	*f = Float64String(v)
	return nil
}

func (f Float64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatFloat(float64(f), 'f', -1, 64))
}

func (f Float64String) Float64() float64 { return float64(f) }

// AssetMeta describes one perpetual in the exchange universe.
type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
}

// Meta is the response to the "meta" info request.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// AssetCtx carries per-asset market context. Paired index-wise with
// Meta.Universe in the metaAndAssetCtxs response.
type AssetCtx struct {
	Funding      Float64String   `json:"funding"`
	OpenInterest Float64String   `json:"openInterest"`
	PrevDayPx    Float64String   `json:"prevDayPx"`
	DayNtlVlm    Float64String   `json:"dayNtlVlm"`
	Premium      Float64String   `json:"premium"`
	OraclePx     Float64String   `json:"oraclePx"`
	MarkPx       Float64String   `json:"markPx"`
	MidPx        Float64String   `json:"midPx"`
	ImpactPxs    []Float64String `json:"impactPxs"`
}

// MetaAndAssetCtxs is the two-element array response of metaAndAssetCtxs.
type MetaAndAssetCtxs struct {
	Meta Meta
	Ctxs []AssetCtx
}

func (m *MetaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("metaAndAssetCtxs: expected 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &m.Meta); err != nil {
		return fmt.Errorf("metaAndAssetCtxs meta: %w", err)
	}
	if err := json.Unmarshal(parts[1], &m.Ctxs); err != nil {
		return fmt.Errorf("metaAndAssetCtxs ctxs: %w", err)
	}
	return nil
}

// Leverage is the leverage block inside a clearinghouse position.
type Leverage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// RawPosition is one open position as reported by clearinghouseState.
// Szi is signed: positive long, negative short. LiquidationPx is null for
// positions that cannot be liquidated (cross positions with ample margin).
type RawPosition struct {
	Coin           string         `json:"coin"`
	Szi            Float64String  `json:"szi"`
	EntryPx        Float64String  `json:"entryPx"`
	PositionValue  Float64String  `json:"positionValue"`
	UnrealizedPnl  Float64String  `json:"unrealizedPnl"`
	LiquidationPx  *Float64String `json:"liquidationPx"`
	MarginUsed     Float64String  `json:"marginUsed"`
	Leverage       Leverage       `json:"leverage"`
	ReturnOnEquity Float64String  `json:"returnOnEquity"`
}

// AssetPosition wraps a position with its margining mode.
type AssetPosition struct {
	Type     string      `json:"type"`
	Position RawPosition `json:"position"`
}

// MarginSummary aggregates account-level margin figures.
type MarginSummary struct {
	AccountValue    Float64String `json:"accountValue"`
	TotalNtlPos     Float64String `json:"totalNtlPos"`
	TotalRawUsd     Float64String `json:"totalRawUsd"`
	TotalMarginUsed Float64String `json:"totalMarginUsed"`
}

// ClearinghouseState is the full margin state of one wallet.
type ClearinghouseState struct {
	AssetPositions     []AssetPosition `json:"assetPositions"`
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	Withdrawable       Float64String   `json:"withdrawable"`
	Time               int64           `json:"time"`
}

// Trade is one fill from recentTrades or the trades websocket feed.
// Side is "B" when the aggressor bought, "A" when it sold. Users lists the
// two counterparty wallet addresses.
type Trade struct {
	Coin  string        `json:"coin"`
	Side  string        `json:"side"`
	Px    Float64String `json:"px"`
	Sz    Float64String `json:"sz"`
	Time  int64         `json:"time"`
	Hash  string        `json:"hash"`
	Tid   int64         `json:"tid"`
	Users []string      `json:"users"`
}

// BookLevel is one price level of the l2 book.
type BookLevel struct {
	Px Float64String `json:"px"`
	Sz Float64String `json:"sz"`
	N  int           `json:"n"`
}

// L2Book is the order book snapshot. Levels[0] holds bids best-first,
// Levels[1] holds asks best-first.
type L2Book struct {
	Coin   string         `json:"coin"`
	Time   int64          `json:"time"`
	Levels [2][]BookLevel `json:"levels"`
}
