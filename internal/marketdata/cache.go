package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"liqflow/config"
	"liqflow/internal/hyperliquid"
	"liqflow/internal/models"
	"liqflow/logger"
)

// hoursPerYear converts an hourly funding rate to an annualized percentage.
const hoursPerYear = 24 * 365

// Cache serves market snapshots and order book liquidity with a TTL. All
// coins share one metaAndAssetCtxs refresh, concurrent cold misses collapse
// into a single upstream call, and a failed refresh falls back to the last
// good data instead of erroring while something is still cached.
type Cache struct {
	client *hyperliquid.Client
	cfg    config.MarketDataConfig
	log    *logger.Entry

	group singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]models.MarketSnapshot
	fetchedAt time.Time
	books     map[string]bookEntry
}

type bookEntry struct {
	liquidity models.LiquidityMetrics
	fetchedAt time.Time
}

func NewCache(client *hyperliquid.Client, cfg config.MarketDataConfig, log *logger.Log) *Cache {
	return &Cache{
		client:    client,
		cfg:       cfg,
		log:       log.WithComponent("market_data_cache"),
		snapshots: make(map[string]models.MarketSnapshot),
		books:     make(map[string]bookEntry),
	}
}

// Snapshot returns the market snapshot for one coin, refreshing the shared
// context data when the TTL has lapsed.
func (c *Cache) Snapshot(ctx context.Context, coin string) (models.MarketSnapshot, error) {
	if err := c.ensureFresh(ctx); err != nil {
		c.mu.RLock()
		snap, ok := c.snapshots[coin]
		c.mu.RUnlock()
		if ok {
			c.log.WithError(err).WithField("coin", coin).Warn("refresh failed, serving stale snapshot")
			return snap, nil
		}
		return models.MarketSnapshot{}, err
	}

	c.mu.RLock()
	snap, ok := c.snapshots[coin]
	c.mu.RUnlock()
	if !ok {
		return models.MarketSnapshot{}, fmt.Errorf("coin %s not in universe", coin)
	}
	return snap, nil
}

// Snapshots returns all cached snapshots after ensuring freshness. The
// returned map is a copy.
func (c *Cache) Snapshots(ctx context.Context) (map[string]models.MarketSnapshot, error) {
	if err := c.ensureFresh(ctx); err != nil {
		c.mu.RLock()
		stale := len(c.snapshots) > 0
		c.mu.RUnlock()
		if !stale {
			return nil, err
		}
		c.log.WithError(err).Warn("refresh failed, serving stale snapshots")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.MarketSnapshot, len(c.snapshots))
	for coin, snap := range c.snapshots {
		out[coin] = snap
	}
	return out, nil
}

func (c *Cache) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.cfg.CacheTTL && len(c.snapshots) > 0
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	_, err, _ := c.group.Do("asset_ctxs", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed while this one queued.
		c.mu.RLock()
		fresh := time.Since(c.fetchedAt) < c.cfg.CacheTTL && len(c.snapshots) > 0
		c.mu.RUnlock()
		if fresh {
			return nil, nil
		}
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	resp, err := c.client.MetaAndAssetCtxs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	snapshots := make(map[string]models.MarketSnapshot, len(resp.Meta.Universe))
	for i, asset := range resp.Meta.Universe {
		if i >= len(resp.Ctxs) {
			break
		}
		snapshots[asset.Name] = buildSnapshot(asset.Name, resp.Ctxs[i], now)
	}

	c.mu.Lock()
	c.snapshots = snapshots
	c.fetchedAt = now
	c.mu.Unlock()

	logger.IncrementCacheRefresh(len(snapshots))
	c.log.WithField("assets", len(snapshots)).Debug("refreshed market snapshots")
	return nil
}

func buildSnapshot(coin string, ctx hyperliquid.AssetCtx, now time.Time) models.MarketSnapshot {
	snap := models.MarketSnapshot{
		Coin:         coin,
		Timestamp:    now,
		MarkPrice:    ctx.MarkPx.Float64(),
		OraclePrice:  ctx.OraclePx.Float64(),
		MidPrice:     ctx.MidPx.Float64(),
		OpenInterest: ctx.OpenInterest.Float64(),
		Volume24hUSD: ctx.DayNtlVlm.Float64(),
		FundingRate:  ctx.Funding.Float64(),
		Premium:      ctx.Premium.Float64(),
	}
	snap.OpenInterestUSD = snap.OpenInterest * snap.MarkPrice
	snap.FundingRateAnnualized = snap.FundingRate * hoursPerYear * 100
	if prev := ctx.PrevDayPx.Float64(); prev > 0 {
		snap.PriceChange24hPct = (snap.MarkPrice - prev) / prev * 100
	}
	return snap
}

// Liquidity returns depth-band metrics for one coin's order book, cached
// per coin under the same TTL and stale-on-error rules as snapshots.
func (c *Cache) Liquidity(ctx context.Context, coin string) (models.LiquidityMetrics, error) {
	c.mu.RLock()
	entry, ok := c.books[coin]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
		return entry.liquidity, nil
	}

	v, err, _ := c.group.Do("book:"+coin, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.books[coin]
		c.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
			return entry.liquidity, nil
		}

		book, err := c.client.L2Book(ctx, coin)
		if err != nil {
			return nil, err
		}
		liq := computeLiquidity(book, c.cfg.DepthBandsPercent)
		c.mu.Lock()
		c.books[coin] = bookEntry{liquidity: liq, fetchedAt: time.Now()}
		c.mu.Unlock()
		return liq, nil
	})
	if err != nil {
		if ok {
			c.log.WithError(err).WithField("coin", coin).Warn("book refresh failed, serving stale liquidity")
			return entry.liquidity, nil
		}
		return models.LiquidityMetrics{}, err
	}
	return v.(models.LiquidityMetrics), nil
}

// computeLiquidity sums notional depth inside each configured percentage
// band around the mid price and derives the bid/ask imbalance per band.
func computeLiquidity(book *hyperliquid.L2Book, bandsPct []float64) models.LiquidityMetrics {
	out := models.LiquidityMetrics{Bands: make([]models.DepthBand, 0, len(bandsPct))}

	bids, asks := book.Levels[0], book.Levels[1]
	if len(bids) > 0 {
		out.BestBid = bids[0].Px.Float64()
	}
	if len(asks) > 0 {
		out.BestAsk = asks[0].Px.Float64()
	}
	mid := (out.BestBid + out.BestAsk) / 2
	if mid <= 0 {
		return out
	}
	out.SpreadPercent = (out.BestAsk - out.BestBid) / mid * 100

	for _, pct := range bandsPct {
		band := models.DepthBand{Percent: pct}
		lowCut := mid * (1 - pct/100)
		highCut := mid * (1 + pct/100)
		for _, lvl := range bids {
			px := lvl.Px.Float64()
			if px < lowCut {
				break
			}
			band.BidDepthUSD += px * lvl.Sz.Float64()
		}
		for _, lvl := range asks {
			px := lvl.Px.Float64()
			if px > highCut {
				break
			}
			band.AskDepthUSD += px * lvl.Sz.Float64()
		}
		if total := band.BidDepthUSD + band.AskDepthUSD; total > 0 {
			band.Imbalance = (band.BidDepthUSD - band.AskDepthUSD) / total
		}
		out.Bands = append(out.Bands, band)
	}
	return out
}
