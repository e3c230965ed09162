package discovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liqflow/config"
	"liqflow/internal/hyperliquid"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Discovery builds and maintains the set of wallets worth scanning. It
// seeds the registry from recent trades on the tracked coins, optionally
// keeps it warm through the trades websocket feed, and persists the set
// between runs so restarts do not start cold.
type Discovery struct {
	client   *hyperliquid.Client
	registry *Registry
	cfg      config.DiscoveryConfig
	coins    []string
	wsURL    string
	log      *logger.Entry

	mu      sync.Mutex
	running bool
	stream  *hyperliquid.TradeStream
}

func New(client *hyperliquid.Client, wsURL string, cfg config.DiscoveryConfig, coins []string, log *logger.Log) *Discovery {
	return &Discovery{
		client:   client,
		registry: NewRegistry(),
		cfg:      cfg,
		coins:    coins,
		wsURL:    wsURL,
		log:      log.WithComponent("wallet_discovery"),
	}
}

// Registry exposes the wallet set for the scanner.
func (d *Discovery) Registry() *Registry {
	return d.registry
}

// Start loads the cached wallet set, runs an initial backfill and, when
// configured, attaches the live trade stream.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	if err := d.loadCache(); err != nil {
		d.log.WithError(err).Warn("failed to load wallet cache, starting cold")
	}

	d.Backfill(ctx)

	if d.cfg.Websocket {
		stream := hyperliquid.NewTradeStream(d.wsURL, d.coins, d.cfg.ReconnectDelay, d.onTrade, d.log)
		if err := stream.Start(ctx); err != nil {
			return err
		}
		d.mu.Lock()
		d.stream = stream
		d.mu.Unlock()
	}
	return nil
}

// Stop detaches the trade stream and persists the registry.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if err := d.saveCache(); err != nil {
		d.log.WithError(err).Warn("failed to persist wallet cache")
	}
}

// Backfill polls recent trades for every tracked coin and records the
// counterparties. Failures on individual coins are logged and skipped so one
// bad fetch does not lose the rest. The registry is never pruned here: a
// whale observed long ago stays known, the lookback only filters reads.
func (d *Discovery) Backfill(ctx context.Context) {
	before := d.registry.Len()
	for _, coin := range d.coins {
		trades, err := d.client.RecentTrades(ctx, coin)
		if err != nil {
			d.log.WithError(err).WithField("coin", coin).Warn("recent trades backfill failed")
			continue
		}
		for _, t := range trades {
			d.onTrade(t)
		}
	}
	d.log.WithFields(logger.Fields{
		"wallets_before": before,
		"wallets_after":  d.registry.Len(),
	}).Info("wallet backfill complete")
}

// ActiveWallets returns the wallets seen within the lookback window, most
// recently active first, capped at limit.
func (d *Discovery) ActiveWallets(limit int) []models.Wallet {
	return d.registry.Active(time.Now().Add(-d.cfg.Lookback), limit)
}

func (d *Discovery) onTrade(t hyperliquid.Trade) {
	seenAt := time.UnixMilli(t.Time)
	for _, user := range t.Users {
		d.registry.Observe(user, seenAt)
	}
}

type cacheEntry struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

func (d *Discovery) loadCache() error {
	if d.cfg.WalletCacheFile == "" {
		return nil
	}
	data, err := os.ReadFile(d.cfg.WalletCacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	merged := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		merged[e.Address] = e.LastSeen
	}
	d.registry.load(merged)
	d.log.WithField("wallets", len(entries)).Info("loaded wallet cache")
	return nil
}

// saveCache writes the registry through a temp file rename so a crash mid
// write never corrupts the cache.
func (d *Discovery) saveCache() error {
	if d.cfg.WalletCacheFile == "" {
		return nil
	}
	snap := d.registry.snapshot()
	entries := make([]cacheEntry, 0, len(snap))
	for addr, seen := range snap {
		entries = append(entries, cacheEntry{Address: addr, LastSeen: seen})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(d.cfg.WalletCacheFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".wallets-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.cfg.WalletCacheFile)
}
