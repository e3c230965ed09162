package aggregator

import (
	"math"
	"reflect"
	"testing"

	"liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

func testAggregator(cfg config.AggregatorConfig) *Aggregator {
	return New(cfg, logger.GetLogger())
}

func pos(coin string, side models.Side, liqPx, sizeUSD, leverage float64) models.Position {
	p := models.Position{Coin: coin, Side: side, SizeUSD: sizeUSD, Leverage: leverage}
	if liqPx > 0 {
		p.LiquidationPrice = &liqPx
	}
	return p
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestBuildMergesAdjacentBands(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0.5})
	positions := []models.Position{
		pos("BTC", models.SideLong, 84900, 2_000_000, 10),
		pos("BTC", models.SideLong, 85050, 3_000_000, 20),
		pos("BTC", models.SideLong, 90000, 1_000_000, 5),
	}

	m := a.Build("BTC", 85000, positions)

	if len(m.LongLiquidations) != 2 {
		t.Fatalf("expected 2 long clusters, got %d", len(m.LongLiquidations))
	}
	merged := m.LongLiquidations[0]
	if merged.PositionCount != 2 {
		t.Errorf("expected merged cluster of 2 positions, got %d", merged.PositionCount)
	}
	if !almostEqual(merged.TotalSizeUSD, 5_000_000) {
		t.Errorf("unexpected merged size: %v", merged.TotalSizeUSD)
	}
	// Size-weighted center: (84900*2M + 85050*3M) / 5M
	if !almostEqual(merged.PriceCenter, 84990) {
		t.Errorf("unexpected merged center: %v", merged.PriceCenter)
	}
	if !almostEqual(merged.PriceLow, 84830) || !almostEqual(merged.PriceHigh, 85085) {
		t.Errorf("unexpected merged bounds: [%v, %v]", merged.PriceLow, merged.PriceHigh)
	}
	// Size-weighted leverage: (10*2M + 20*3M) / 5M
	if !almostEqual(merged.AvgLeverage, 16) {
		t.Errorf("unexpected merged leverage: %v", merged.AvgLeverage)
	}

	far := m.LongLiquidations[1]
	if far.PositionCount != 1 || !almostEqual(far.TotalSizeUSD, 1_000_000) {
		t.Errorf("far cluster should stay separate: %+v", far)
	}

	if m.NearestLongCluster == nil || !almostEqual(m.NearestLongCluster.PriceCenter, 84990) {
		t.Errorf("unexpected nearest long cluster: %+v", m.NearestLongCluster)
	}
}

func TestBuildSortsWithoutOverlapAndSumsTotals(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0.5})
	positions := []models.Position{
		pos("ETH", models.SideLong, 2900, 100_000, 10),
		pos("ETH", models.SideLong, 2500, 200_000, 10),
		pos("ETH", models.SideLong, 2700, 300_000, 10),
		pos("ETH", models.SideShort, 3400, 150_000, 10),
		pos("ETH", models.SideShort, 3100, 250_000, 10),
	}

	m := a.Build("ETH", 3000, positions)

	for i := 1; i < len(m.LongLiquidations); i++ {
		prev, cur := m.LongLiquidations[i-1], m.LongLiquidations[i]
		if cur.PriceLow < prev.PriceHigh {
			t.Errorf("long clusters overlap: %+v then %+v", prev, cur)
		}
	}
	for i := 1; i < len(m.ShortLiquidations); i++ {
		prev, cur := m.ShortLiquidations[i-1], m.ShortLiquidations[i]
		if cur.PriceLow < prev.PriceHigh {
			t.Errorf("short clusters overlap: %+v then %+v", prev, cur)
		}
	}

	var longSum, shortSum float64
	for _, c := range m.LongLiquidations {
		longSum += c.TotalSizeUSD
	}
	for _, c := range m.ShortLiquidations {
		shortSum += c.TotalSizeUSD
	}
	if !almostEqual(longSum, m.TotalLongAtRiskUSD) || !almostEqual(shortSum, m.TotalShortAtRiskUSD) {
		t.Errorf("totals do not match cluster sums: %v/%v vs %v/%v",
			m.TotalLongAtRiskUSD, m.TotalShortAtRiskUSD, longSum, shortSum)
	}
	if !almostEqual(longSum, 600_000) || !almostEqual(shortSum, 400_000) {
		t.Errorf("unexpected totals: long %v, short %v", longSum, shortSum)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0.5})
	positions := []models.Position{
		pos("BTC", models.SideLong, 80000, 10_000, 5),
		pos("BTC", models.SideLong, 81000, 20_000, 6),
		pos("BTC", models.SideLong, 82000, 30_000, 7),
		pos("BTC", models.SideShort, 88000, 40_000, 8),
		pos("BTC", models.SideShort, 89000, 50_000, 9),
	}

	first := a.Build("BTC", 85000, positions)
	for i := 0; i < 10; i++ {
		if next := a.Build("BTC", 85000, positions); !reflect.DeepEqual(first, next) {
			t.Fatalf("build is not deterministic on run %d", i)
		}
	}
}

func TestBuildExcludesUnriskyAndForeignPositions(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0.5})
	positions := []models.Position{
		pos("BTC", models.SideLong, 0, 500_000, 10),     // no liquidation price
		pos("ETH", models.SideLong, 2900, 500_000, 10),  // wrong coin
		pos("BTC", models.SideLong, 84000, 100_000, 10), // counts
	}

	m := a.Build("BTC", 85000, positions)
	if len(m.LongLiquidations) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(m.LongLiquidations))
	}
	if !almostEqual(m.TotalLongAtRiskUSD, 100_000) {
		t.Errorf("unexpected total: %v", m.TotalLongAtRiskUSD)
	}
}

func TestBuildEmptyInputKeepsArraysPresent(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0.5})
	m := a.Build("BTC", 85000, nil)

	if m.LongLiquidations == nil || m.ShortLiquidations == nil {
		t.Error("cluster slices must be non-nil for empty input")
	}
	if m.NearestLongCluster != nil || m.NearestShortCluster != nil {
		t.Error("nearest clusters must be nil for empty input")
	}
	if m.TotalLongAtRiskUSD != 0 || m.TotalShortAtRiskUSD != 0 {
		t.Error("totals must be zero for empty input")
	}
}

func TestNearestShortPrefersClosestThenLargest(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0})
	positions := []models.Position{
		pos("BTC", models.SideShort, 86000, 100_000, 10),
		pos("BTC", models.SideShort, 88000, 900_000, 10),
	}

	m := a.Build("BTC", 85000, positions)
	if m.NearestShortCluster == nil {
		t.Fatal("expected a nearest short cluster")
	}
	if !almostEqual(m.NearestShortCluster.PriceCenter, 86000) {
		t.Errorf("expected closest-above center 86000, got %v", m.NearestShortCluster.PriceCenter)
	}
}

func TestMinClusterSizeFilter(t *testing.T) {
	a := testAggregator(config.AggregatorConfig{BandWidthPercent: 0.1, MergeGapPercent: 0, MinClusterSizeUSD: 50_000})
	positions := []models.Position{
		pos("BTC", models.SideLong, 80000, 10_000, 10),
		pos("BTC", models.SideLong, 84000, 100_000, 10),
	}

	m := a.Build("BTC", 85000, positions)
	if len(m.LongLiquidations) != 1 {
		t.Fatalf("expected small cluster filtered, got %d clusters", len(m.LongLiquidations))
	}
	if !almostEqual(m.LongLiquidations[0].TotalSizeUSD, 100_000) {
		t.Errorf("wrong cluster survived: %+v", m.LongLiquidations[0])
	}
}
