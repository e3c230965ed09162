package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"liqflow/config"
	"liqflow/logger"
)

// Client is the shared rate-limited gateway to the exchange info endpoint.
// All request types funnel through a single limiter and in-flight semaphore
// so every component competes for the same upstream budget.
type Client struct {
	baseURL string
	wsURL   string
	http    *http.Client
	limiter *rate.Limiter
	sem     chan struct{}
	retry   config.RetryConfig
	log     *logger.Entry
}

func NewClient(cfg config.SourceConfig, log *logger.Log) *Client {
	return &Client{
		baseURL: cfg.APIURL,
		wsURL:   cfg.WSURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), max(cfg.RateLimit.BurstSize, 1)),
		sem:     make(chan struct{}, cfg.MaxInFlight),
		retry:   cfg.Retry,
		log:     log.WithComponent("hyperliquid_client"),
	}
}

// infoRequest is the envelope every /info call posts. Only the fields the
// request type needs are set.
type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

// post executes one /info request with rate limiting, a bounded number of
// retries on upstream failures, and exponential backoff between attempts.
// The result is decoded into out.
func (c *Client) post(ctx context.Context, req infoRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &FetchError{Kind: KindDecode, Request: req.Type, Err: err}
	}

	delay := c.retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.log.WithFields(logger.Fields{
				"request": req.Type,
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("retrying upstream request")
			select {
			case <-ctx.Done():
				return &FetchError{Kind: KindTimeout, Request: req.Type, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay = delay * time.Duration(c.retry.BackoffMultiplier)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		lastErr = c.once(ctx, req.Type, body, out)
		if lastErr == nil {
			return nil
		}
		// A spent per-attempt budget is worth retrying; a cancelled caller
		// context is not.
		if !IsRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, reqType string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &FetchError{Kind: KindTimeout, Request: reqType, Err: err}
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return &FetchError{Kind: KindTimeout, Request: reqType, Err: ctx.Err()}
	}
	defer func() { <-c.sem }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return &FetchError{Kind: KindUpstream, Request: reqType, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &FetchError{Kind: KindTimeout, Request: reqType, Err: err}
		}
		return &FetchError{Kind: KindUpstream, Request: reqType, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &FetchError{Kind: KindUpstream, Request: reqType, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Kind: KindUpstream, Request: reqType, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &FetchError{Kind: KindDecode, Request: reqType, Err: err}
	}
	return nil
}

// Meta returns the perpetuals universe.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	var out Meta
	if err := c.post(ctx, infoRequest{Type: "meta"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllMids returns the current mid price for every listed coin.
func (c *Client) AllMids(ctx context.Context) (map[string]Float64String, error) {
	var out map[string]Float64String
	if err := c.post(ctx, infoRequest{Type: "allMids"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MetaAndAssetCtxs returns the universe together with per-asset market
// context, paired index-wise.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (*MetaAndAssetCtxs, error) {
	var out MetaAndAssetCtxs
	if err := c.post(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearinghouseState returns the margin state and open positions of one
// wallet address.
func (c *Client) ClearinghouseState(ctx context.Context, wallet string) (*ClearinghouseState, error) {
	var out ClearinghouseState
	if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: wallet}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentTrades returns the latest fills for a coin.
func (c *Client) RecentTrades(ctx context.Context, coin string) ([]Trade, error) {
	var out []Trade
	if err := c.post(ctx, infoRequest{Type: "recentTrades", Coin: coin}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// L2Book returns the order book snapshot for a coin.
func (c *Client) L2Book(ctx context.Context, coin string) (*L2Book, error) {
	var out L2Book
	if err := c.post(ctx, infoRequest{Type: "l2Book", Coin: coin}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
