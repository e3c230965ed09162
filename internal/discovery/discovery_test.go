package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"liqflow/config"
	"liqflow/internal/hyperliquid"
	"liqflow/logger"
)

func TestWalletCacheRoundTrip(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "wallets.json")
	cfg := config.DiscoveryConfig{
		Lookback:        24 * time.Hour,
		WalletCacheFile: cacheFile,
	}

	d := New(nil, "", cfg, nil, logger.GetLogger())
	now := time.Now().Truncate(time.Millisecond)
	d.registry.Observe("0xaaa", now)
	d.registry.Observe("0xbbb", now.Add(-time.Hour))

	if err := d.saveCache(); err != nil {
		t.Fatalf("saveCache failed: %v", err)
	}

	fresh := New(nil, "", cfg, nil, logger.GetLogger())
	if err := fresh.loadCache(); err != nil {
		t.Fatalf("loadCache failed: %v", err)
	}
	if fresh.registry.Len() != 2 {
		t.Fatalf("expected 2 wallets after reload, got %d", fresh.registry.Len())
	}

	wallets := fresh.ActiveWallets(0)
	if wallets[0].Address != "0xaaa" {
		t.Errorf("expected most recent wallet first, got %s", wallets[0].Address)
	}
}

func TestBackfillKeepsWalletsBeyondLookback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := hyperliquid.NewClient(config.SourceConfig{
		APIURL:      srv.URL,
		Timeout:     5 * time.Second,
		MaxInFlight: 4,
		RateLimit:   config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Retry: config.RetryConfig{
			MaxAttempts:       1,
			BaseDelay:         time.Millisecond,
			MaxDelay:          time.Millisecond,
			BackoffMultiplier: 2,
		},
	}, logger.GetLogger())

	cacheFile := filepath.Join(t.TempDir(), "wallets.json")
	cfg := config.DiscoveryConfig{Lookback: 24 * time.Hour, WalletCacheFile: cacheFile}
	d := New(client, "", cfg, []string{"BTC"}, logger.GetLogger())

	// A whale last seen well outside the lookback window.
	d.registry.Observe("0xwhale", time.Now().Add(-48*time.Hour))

	d.Backfill(context.Background())

	if d.registry.Len() != 1 {
		t.Fatalf("backfill must not forget known wallets, registry len %d", d.registry.Len())
	}
	if got := d.ActiveWallets(0); len(got) != 0 {
		t.Errorf("stale wallet must still be filtered at read time, got %d", len(got))
	}
	if err := d.saveCache(); err != nil {
		t.Fatalf("saveCache failed: %v", err)
	}

	fresh := New(client, "", cfg, []string{"BTC"}, logger.GetLogger())
	if err := fresh.loadCache(); err != nil {
		t.Fatalf("loadCache failed: %v", err)
	}
	if fresh.registry.Len() != 1 {
		t.Errorf("expected whale persisted across restarts, got %d wallets", fresh.registry.Len())
	}
}

func TestLoadCacheMissingFileIsNotAnError(t *testing.T) {
	cfg := config.DiscoveryConfig{
		Lookback:        24 * time.Hour,
		WalletCacheFile: filepath.Join(t.TempDir(), "absent.json"),
	}
	d := New(nil, "", cfg, nil, logger.GetLogger())
	if err := d.loadCache(); err != nil {
		t.Fatalf("expected nil for missing cache, got %v", err)
	}
}
