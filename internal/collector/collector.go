package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"liqflow/config"
	"liqflow/internal/aggregator"
	"liqflow/internal/channel"
	"liqflow/internal/discovery"
	"liqflow/internal/marketdata"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/scanner"
	"liqflow/internal/state"
	"liqflow/logger"
)

// HistorySink receives cycle output for durable storage. The SQLite store
// implements it; a nil sink disables persistence.
type HistorySink interface {
	SaveMaps(cycleID string, maps map[string]models.AssetLiquidationMap) error
	RecordPrices(markets map[string]models.MarketSnapshot) error
	SaveCycle(result models.CycleResult) error
}

// ArchiveSink receives cycle output for long-term archival.
type ArchiveSink interface {
	Archive(cycleID string, at time.Time, maps map[string]models.AssetLiquidationMap)
}

// Collector drives the collection pipeline: discover wallets, scan their
// positions, aggregate liquidation clusters per asset, attach market data,
// and publish the result as one atomic snapshot.
type Collector struct {
	cfg        *config.Config
	discovery  *discovery.Discovery
	scanner    *scanner.Scanner
	aggregator *aggregator.Aggregator
	market     *marketdata.Cache
	store      *state.Store
	freshness  *FreshnessTracker
	history    HistorySink
	archive    ArchiveSink
	log        *logger.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(
	cfg *config.Config,
	disc *discovery.Discovery,
	scan *scanner.Scanner,
	agg *aggregator.Aggregator,
	market *marketdata.Cache,
	store *state.Store,
	log *logger.Log,
) *Collector {
	return &Collector{
		cfg:        cfg,
		discovery:  disc,
		scanner:    scan,
		aggregator: agg,
		market:     market,
		store:      store,
		freshness:  NewFreshnessTracker(),
		log:        log.WithComponent("collector"),
	}
}

// SetHistory attaches a durable sink for cycle output.
func (c *Collector) SetHistory(h HistorySink) { c.history = h }

// SetArchive attaches an archival sink for cycle output.
func (c *Collector) SetArchive(a ArchiveSink) { c.archive = a }

// Freshness exposes the staleness tracker for health reporting.
func (c *Collector) Freshness() *FreshnessTracker { return c.freshness }

// Start runs one cycle immediately, then repeats on the configured
// interval until the context ends.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{
		"interval": c.cfg.Collector.ScanInterval.String(),
		"assets":   c.cfg.Collector.Assets,
	}).Info("starting collector")

	go c.run(ctx)
	return nil
}

// Stop halts the cycle loop and waits for an in-flight cycle to finish.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.log.Info("collector stopped")
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Collector.ScanInterval)
	defer ticker.Stop()

	c.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if age, ok := c.freshness.Age(time.Now()); ok {
				metrics.RecordStateAge(age)
			}
			c.cycle(ctx)
		}
	}
}

func (c *Collector) cycle(ctx context.Context) {
	result, err := c.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordCycleFailure()
		c.log.WithError(err).Error("collection cycle failed")
		return
	}
	c.log.WithFields(logger.Fields{
		"cycle_id":  result.CycleID,
		"duration":  result.Duration.String(),
		"wallets":   result.WalletsScanned,
		"positions": result.PositionsFound,
		"assets":    result.AssetsMapped,
		"errors":    result.ScanErrors,
	}).Info("collection cycle complete")
}

// RunOnce executes a single collection cycle and publishes its snapshot.
// Wallet-level scan failures degrade the result; only a cycle that cannot
// produce any prices fails outright and leaves the previous snapshot up.
func (c *Collector) RunOnce(ctx context.Context) (models.CycleResult, error) {
	started := time.Now()
	result := models.CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: started,
	}

	markets, err := c.market.Snapshots(ctx)
	if err != nil {
		return result, fmt.Errorf("market data unavailable: %w", err)
	}

	c.discovery.Backfill(ctx)
	wallets := c.discovery.ActiveWallets(c.cfg.Scanner.MaxWallets)

	ch := channel.NewPositionChannels(c.cfg.Channels.PositionBuffer)
	cycleCtx, stopCycleMetrics := context.WithCancel(ctx)
	metrics.StartChannelSizeMetrics(cycleCtx, ch, 5*time.Second)

	byCoin := make(map[string][]models.Position)
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for p := range ch.Positions {
			byCoin[p.Coin] = append(byCoin[p.Coin], p)
		}
	}()

	stats := c.scanner.Scan(ctx, wallets, ch)
	consumer.Wait()
	stopCycleMetrics()

	// A cancelled scan leaves the position set partial. Abandon the cycle
	// rather than publish and persist a snapshot built from it.
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("cycle interrupted: %w", err)
	}
	metrics.RecordDroppedPositions(stats.Dropped)

	maps := make(map[string]models.AssetLiquidationMap, len(c.cfg.Collector.Assets))
	for _, coin := range c.cfg.Collector.OrderedAssets() {
		snap, ok := markets[coin]
		if !ok {
			c.log.WithField("coin", coin).Warn("asset missing from market universe")
			continue
		}
		m := c.aggregator.Build(coin, snap.MarkPrice, byCoin[coin])
		maps[coin] = m
		metrics.RecordLiquidationMap(m)
	}

	c.attachLiquidity(ctx, markets)

	result.Duration = time.Since(started)
	result.WalletsScanned = stats.WalletsScanned
	result.PositionsFound = stats.Positions
	result.AssetsMapped = len(maps)
	result.ScanErrors = stats.WalletErrors

	finished := started.Add(result.Duration)
	c.store.Publish(&state.Snapshot{
		GeneratedAt:  finished,
		Cycle:        result,
		Liquidations: maps,
		Markets:      markets,
	})
	c.freshness.MarkSuccess(finished)
	metrics.RecordCycle(result)
	metrics.RecordStateAge(0)

	c.persist(result, maps, markets)
	return result, nil
}

// attachLiquidity fetches order book depth for every tracked asset, priority
// assets first, and folds it into the market snapshots. Book failures leave
// the snapshot without liquidity rather than failing the cycle.
func (c *Collector) attachLiquidity(ctx context.Context, markets map[string]models.MarketSnapshot) {
	for _, coin := range c.cfg.Collector.OrderedAssets() {
		snap, ok := markets[coin]
		if !ok {
			continue
		}
		liq, err := c.market.Liquidity(ctx, coin)
		if err != nil {
			c.log.WithError(err).WithField("coin", coin).Warn("order book unavailable")
			continue
		}
		snap.Liquidity = &liq
		markets[coin] = snap
	}
}

func (c *Collector) persist(result models.CycleResult, maps map[string]models.AssetLiquidationMap, markets map[string]models.MarketSnapshot) {
	if c.history != nil {
		if err := c.history.SaveMaps(result.CycleID, maps); err != nil {
			c.log.WithError(err).Warn("failed to persist liquidation maps")
		}
		if err := c.history.RecordPrices(markets); err != nil {
			c.log.WithError(err).Warn("failed to persist price history")
		}
		if err := c.history.SaveCycle(result); err != nil {
			c.log.WithError(err).Warn("failed to persist cycle result")
		}
	}
	if c.archive != nil {
		c.archive.Archive(result.CycleID, result.StartedAt, maps)
	}
}
