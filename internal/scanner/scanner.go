package scanner

import (
	"context"
	"sync"
	"sync/atomic"

	"liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/hyperliquid"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Scanner fetches the margin state of discovered wallets in parallel and
// emits their open positions. One wallet failing never aborts the cycle;
// failures are counted and the rest of the batch proceeds.
type Scanner struct {
	client *hyperliquid.Client
	cfg    config.ScannerConfig
	log    *logger.Entry
}

// Stats summarises one scan batch.
type Stats struct {
	WalletsScanned int
	WalletErrors   int
	Positions      int
	Dropped        int64
}

func New(client *hyperliquid.Client, cfg config.ScannerConfig, log *logger.Log) *Scanner {
	return &Scanner{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("position_scanner"),
	}
}

// Scan walks the wallet list with a bounded worker pool, sending every
// qualifying position to out. The channel is closed when the batch is done
// so the consumer knows the cycle's stream has ended.
func (s *Scanner) Scan(ctx context.Context, wallets []models.Wallet, out *channel.PositionChannels) Stats {
	defer out.Close()

	var (
		wg        sync.WaitGroup
		errCount  int64
		posCount  int64
		dropCount int64
	)

	jobs := make(chan models.Wallet)
	workers := s.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				n, err := s.scanWallet(ctx, w, out, &dropCount)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					s.log.WithError(err).WithField("wallet", w.Address).Warn("wallet scan failed")
					continue
				}
				atomic.AddInt64(&posCount, int64(n))
			}
		}()
	}

	scanned := 0
feed:
	for _, w := range wallets {
		select {
		case jobs <- w:
			scanned++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	stats := Stats{
		WalletsScanned: scanned,
		WalletErrors:   int(atomic.LoadInt64(&errCount)),
		Positions:      int(atomic.LoadInt64(&posCount)),
		Dropped:        atomic.LoadInt64(&dropCount),
	}
	s.log.WithFields(logger.Fields{
		"wallets":   stats.WalletsScanned,
		"errors":    stats.WalletErrors,
		"positions": stats.Positions,
		"dropped":   stats.Dropped,
	}).Info("scan batch complete")
	return stats
}

func (s *Scanner) scanWallet(ctx context.Context, w models.Wallet, out *channel.PositionChannels, dropped *int64) (int, error) {
	walletCtx := ctx
	if s.cfg.WalletTimeout > 0 {
		var cancel context.CancelFunc
		walletCtx, cancel = context.WithTimeout(ctx, s.cfg.WalletTimeout)
		defer cancel()
	}

	state, err := s.client.ClearinghouseState(walletCtx, w.Address)
	if err != nil {
		return 0, err
	}
	logger.IncrementWalletScan(len(state.AssetPositions))

	sent := 0
	for _, ap := range state.AssetPositions {
		pos, ok := s.convert(w, ap.Position)
		if !ok {
			continue
		}
		if out.Send(pos) {
			sent++
		} else {
			atomic.AddInt64(dropped, 1)
			metrics.EmitDropMetric(nil, metrics.DropMetricPositions, pos.Coin, "scan")
		}
	}
	return sent, nil
}

// convert maps a raw clearinghouse position to the internal model. Closed
// positions and dust below the configured notional floor are filtered here
// so downstream stages only see positions that can matter.
func (s *Scanner) convert(w models.Wallet, raw hyperliquid.RawPosition) (models.Position, bool) {
	szi := raw.Szi.Float64()
	if szi == 0 {
		return models.Position{}, false
	}

	sizeUSD := raw.PositionValue.Float64()
	if sizeUSD < 0 {
		sizeUSD = -sizeUSD
	}
	if s.cfg.MinPositionValueUSD > 0 && sizeUSD < s.cfg.MinPositionValueUSD {
		return models.Position{}, false
	}

	side := models.SideLong
	if szi < 0 {
		side = models.SideShort
	}

	pos := models.Position{
		Wallet:        w.Address,
		Coin:          raw.Coin,
		Side:          side,
		SizeUSD:       sizeUSD,
		EntryPrice:    raw.EntryPx.Float64(),
		Leverage:      raw.Leverage.Value,
		UnrealizedPnl: raw.UnrealizedPnl.Float64(),
		MarginUsed:    raw.MarginUsed.Float64(),
	}
	if raw.LiquidationPx != nil {
		px := raw.LiquidationPx.Float64()
		if px > 0 {
			pos.LiquidationPrice = &px
		}
	}
	return pos, true
}
