package aggregator

import (
	"math"
	"sort"

	"liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Aggregator folds open positions into liquidation clusters: price bands
// where forced closures would concentrate if price reached them. Band width
// scales with the current price so cluster granularity is comparable across
// assets trading at very different levels.
type Aggregator struct {
	cfg config.AggregatorConfig
	log *logger.Entry
}

func New(cfg config.AggregatorConfig, log *logger.Log) *Aggregator {
	return &Aggregator{cfg: cfg, log: log.WithComponent("liquidation_aggregator")}
}

// cluster accumulates one band (or a run of merged bands) while building.
type cluster struct {
	priceLow    float64
	priceHigh   float64
	sizeUSD     float64
	weightedPx  float64 // sum of liqPx * sizeUSD
	weightedLev float64 // sum of leverage * sizeUSD
	count       int
}

func (c *cluster) absorb(o *cluster) {
	c.priceLow = math.Min(c.priceLow, o.priceLow)
	c.priceHigh = math.Max(c.priceHigh, o.priceHigh)
	c.sizeUSD += o.sizeUSD
	c.weightedPx += o.weightedPx
	c.weightedLev += o.weightedLev
	c.count += o.count
}

func (c *cluster) finalize(coin string, side models.Side) models.LiquidationCluster {
	out := models.LiquidationCluster{
		Coin:          coin,
		Side:          side,
		PriceLow:      c.priceLow,
		PriceHigh:     c.priceHigh,
		TotalSizeUSD:  c.sizeUSD,
		PositionCount: c.count,
	}
	if c.sizeUSD > 0 {
		out.PriceCenter = c.weightedPx / c.sizeUSD
		out.AvgLeverage = c.weightedLev / c.sizeUSD
	}
	return out
}

// Build produces the liquidation map for one asset. Positions for other
// coins and positions without a liquidation price are ignored. Long and
// short sides are clustered independently; both slices are always non-nil
// so the published JSON carries empty arrays rather than nulls.
func (a *Aggregator) Build(coin string, currentPrice float64, positions []models.Position) models.AssetLiquidationMap {
	out := models.AssetLiquidationMap{
		Coin:              coin,
		CurrentPrice:      currentPrice,
		LongLiquidations:  []models.LiquidationCluster{},
		ShortLiquidations: []models.LiquidationCluster{},
	}
	if currentPrice <= 0 {
		return out
	}

	bandWidth := currentPrice * a.cfg.BandWidthPercent / 100
	if bandWidth <= 0 {
		return out
	}

	longBands := map[int64]*cluster{}
	shortBands := map[int64]*cluster{}
	for i := range positions {
		p := &positions[i]
		if p.Coin != coin || !p.HasLiquidationRisk() {
			continue
		}
		liqPx := *p.LiquidationPrice

		bands := longBands
		if p.Side == models.SideShort {
			bands = shortBands
		}
		idx := int64(math.Floor(liqPx / bandWidth))
		c, ok := bands[idx]
		if !ok {
			c = &cluster{
				priceLow:  float64(idx) * bandWidth,
				priceHigh: float64(idx+1) * bandWidth,
			}
			bands[idx] = c
		}
		c.sizeUSD += p.SizeUSD
		c.weightedPx += liqPx * p.SizeUSD
		c.weightedLev += p.Leverage * p.SizeUSD
		c.count++
	}

	out.LongLiquidations = a.buildSide(coin, models.SideLong, currentPrice, longBands)
	out.ShortLiquidations = a.buildSide(coin, models.SideShort, currentPrice, shortBands)

	for i := range out.LongLiquidations {
		out.TotalLongAtRiskUSD += out.LongLiquidations[i].TotalSizeUSD
	}
	for i := range out.ShortLiquidations {
		out.TotalShortAtRiskUSD += out.ShortLiquidations[i].TotalSizeUSD
	}

	out.NearestLongCluster = nearestBelow(out.LongLiquidations, currentPrice)
	out.NearestShortCluster = nearestAbove(out.ShortLiquidations, currentPrice)
	return out
}

// buildSide orders one side's bands, merges runs separated by less than the
// configured gap, and drops clusters below the minimum notional.
func (a *Aggregator) buildSide(coin string, side models.Side, currentPrice float64, bands map[int64]*cluster) []models.LiquidationCluster {
	ordered := make([]*cluster, 0, len(bands))
	for _, c := range bands {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].priceLow < ordered[j].priceLow })

	maxGap := currentPrice * a.cfg.MergeGapPercent / 100
	merged := make([]*cluster, 0, len(ordered))
	for _, c := range ordered {
		if n := len(merged); n > 0 && c.priceLow-merged[n-1].priceHigh < maxGap {
			merged[n-1].absorb(c)
			continue
		}
		merged = append(merged, c)
	}

	out := make([]models.LiquidationCluster, 0, len(merged))
	for _, c := range merged {
		if a.cfg.MinClusterSizeUSD > 0 && c.sizeUSD < a.cfg.MinClusterSizeUSD {
			continue
		}
		out = append(out, c.finalize(coin, side))
	}
	return out
}

// nearestBelow picks the long cluster whose center sits closest beneath the
// current price. Ties on center prefer the larger cluster.
func nearestBelow(clusters []models.LiquidationCluster, price float64) *models.LiquidationCluster {
	var best *models.LiquidationCluster
	for i := range clusters {
		c := &clusters[i]
		if c.PriceCenter >= price {
			continue
		}
		if best == nil || c.PriceCenter > best.PriceCenter ||
			(c.PriceCenter == best.PriceCenter && c.TotalSizeUSD > best.TotalSizeUSD) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// nearestAbove picks the short cluster whose center sits closest above the
// current price.
func nearestAbove(clusters []models.LiquidationCluster, price float64) *models.LiquidationCluster {
	var best *models.LiquidationCluster
	for i := range clusters {
		c := &clusters[i]
		if c.PriceCenter <= price {
			continue
		}
		if best == nil || c.PriceCenter < best.PriceCenter ||
			(c.PriceCenter == best.PriceCenter && c.TotalSizeUSD > best.TotalSizeUSD) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
