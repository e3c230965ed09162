package marketdata

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"liqflow/config"
	"liqflow/internal/hyperliquid"
	"liqflow/logger"
)

const ctxsBody = `[
	{"universe": [{"name": "BTC", "szDecimals": 5, "maxLeverage": 50}]},
	[{"funding": "0.0000125", "openInterest": "12000.0", "prevDayPx": "84000.0",
	  "dayNtlVlm": "1500000000.0", "premium": "0.0001", "oraclePx": "85010.0",
	  "markPx": "85000.0", "midPx": "85005.0", "impactPxs": []}]
]`

func testClient(t *testing.T, url string) *hyperliquid.Client {
	t.Helper()
	return hyperliquid.NewClient(config.SourceConfig{
		APIURL:      url,
		Timeout:     5 * time.Second,
		MaxInFlight: 16,
		RateLimit:   config.RateLimitConfig{RequestsPerSecond: 10000, BurstSize: 10000},
		Retry: config.RetryConfig{
			MaxAttempts:       1,
			BaseDelay:         time.Millisecond,
			MaxDelay:          time.Millisecond,
			BackoffMultiplier: 2,
		},
	}, logger.GetLogger())
}

func TestConcurrentColdMissesRefreshOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		w.Write([]byte(ctxsBody))
	}))
	defer srv.Close()

	c := NewCache(testClient(t, srv.URL), config.MarketDataConfig{
		CacheTTL:          time.Minute,
		DepthBandsPercent: []float64{0.5, 1, 2},
	}, logger.GetLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Snapshot(context.Background(), "BTC"); err != nil {
				t.Errorf("Snapshot failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected one upstream refresh, got %d", got)
	}
}

func TestSnapshotDerivedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ctxsBody))
	}))
	defer srv.Close()

	c := NewCache(testClient(t, srv.URL), config.MarketDataConfig{
		CacheTTL:          time.Minute,
		DepthBandsPercent: []float64{0.5},
	}, logger.GetLogger())

	snap, err := c.Snapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.OpenInterestUSD != 12000.0*85000.0 {
		t.Errorf("unexpected OI USD: %v", snap.OpenInterestUSD)
	}
	wantAnnualized := 0.0000125 * 24 * 365 * 100
	if math.Abs(snap.FundingRateAnnualized-wantAnnualized) > 1e-9 {
		t.Errorf("unexpected annualized funding: %v, want %v", snap.FundingRateAnnualized, wantAnnualized)
	}
	wantChange := (85000.0 - 84000.0) / 84000.0 * 100
	if math.Abs(snap.PriceChange24hPct-wantChange) > 1e-9 {
		t.Errorf("unexpected 24h change: %v, want %v", snap.PriceChange24hPct, wantChange)
	}
}

func TestSnapshotServesStaleOnRefreshError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(ctxsBody))
	}))
	defer srv.Close()

	c := NewCache(testClient(t, srv.URL), config.MarketDataConfig{
		CacheTTL:          time.Millisecond, // expire immediately
		DepthBandsPercent: []float64{0.5},
	}, logger.GetLogger())

	if _, err := c.Snapshot(context.Background(), "BTC"); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	fail.Store(true)
	time.Sleep(5 * time.Millisecond)

	snap, err := c.Snapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("expected stale snapshot, got error: %v", err)
	}
	if snap.MarkPrice != 85000.0 {
		t.Errorf("unexpected stale mark price: %v", snap.MarkPrice)
	}
}

func TestLiquidityDepthBands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type != "l2Book" {
			w.Write([]byte(ctxsBody))
			return
		}
		// Mid 100: bids at 99.9 and 98.0, asks at 100.1 and 102.5.
		w.Write([]byte(`{
			"coin": "BTC", "time": 1724800000000,
			"levels": [
				[{"px": "99.9", "sz": "10", "n": 1}, {"px": "98.0", "sz": "5", "n": 1}],
				[{"px": "100.1", "sz": "10", "n": 1}, {"px": "102.5", "sz": "5", "n": 1}]
			]
		}`))
	}))
	defer srv.Close()

	c := NewCache(testClient(t, srv.URL), config.MarketDataConfig{
		CacheTTL:          time.Minute,
		DepthBandsPercent: []float64{1, 5},
	}, logger.GetLogger())

	liq, err := c.Liquidity(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Liquidity failed: %v", err)
	}
	if liq.BestBid != 99.9 || liq.BestAsk != 100.1 {
		t.Fatalf("unexpected top of book: %v / %v", liq.BestBid, liq.BestAsk)
	}
	if len(liq.Bands) != 2 {
		t.Fatalf("expected 2 bands, got %d", len(liq.Bands))
	}

	// 1% band around mid 100 covers [99, 101]: one bid level, one ask level.
	narrow := liq.Bands[0]
	if math.Abs(narrow.BidDepthUSD-999.0) > 1e-9 {
		t.Errorf("unexpected narrow bid depth: %v", narrow.BidDepthUSD)
	}
	if math.Abs(narrow.AskDepthUSD-1001.0) > 1e-9 {
		t.Errorf("unexpected narrow ask depth: %v", narrow.AskDepthUSD)
	}
	wantImb := (999.0 - 1001.0) / (999.0 + 1001.0)
	if math.Abs(narrow.Imbalance-wantImb) > 1e-9 {
		t.Errorf("unexpected imbalance: %v, want %v", narrow.Imbalance, wantImb)
	}

	// 5% band covers every level.
	wide := liq.Bands[1]
	if math.Abs(wide.BidDepthUSD-(999.0+490.0)) > 1e-9 {
		t.Errorf("unexpected wide bid depth: %v", wide.BidDepthUSD)
	}
	if math.Abs(wide.AskDepthUSD-(1001.0+512.5)) > 1e-9 {
		t.Errorf("unexpected wide ask depth: %v", wide.AskDepthUSD)
	}
}
