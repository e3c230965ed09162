package hyperliquid

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liqflow/internal/metrics"
	"liqflow/logger"
)

// TradeHandler receives every trade delivered by the stream.
type TradeHandler func(Trade)

// TradeStream maintains a websocket subscription to the trades feed for a
// set of coins, reconnecting with a fixed delay after any failure. It exists
// so wallet discovery can observe counterparties continuously instead of
// polling recentTrades.
type TradeStream struct {
	url            string
	coins          []string
	reconnectDelay time.Duration
	handler        TradeHandler
	log            *logger.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewTradeStream(url string, coins []string, reconnectDelay time.Duration, handler TradeHandler, log *logger.Entry) *TradeStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &TradeStream{
		url:            url,
		coins:          coins,
		reconnectDelay: reconnectDelay,
		handler:        handler,
		log:            log.WithComponent("trade_stream"),
	}
}

func (s *TradeStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *TradeStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *TradeStream) run(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.connectOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("trade stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

type wsSubscription struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	} `json:"subscription"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (s *TradeStream) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, coin := range s.coins {
		sub := wsSubscription{Method: "subscribe"}
		sub.Subscription.Type = "trades"
		sub.Subscription.Coin = coin
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}
	s.log.WithField("coins", len(s.coins)).Info("subscribed to trade feed")

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.WithError(err).Debug("dropping undecodable frame")
			metrics.EmitDropMetric(nil, metrics.DropMetricTrades, "", "stream")
			continue
		}
		if msg.Channel != "trades" {
			continue
		}
		var trades []Trade
		if err := json.Unmarshal(msg.Data, &trades); err != nil {
			s.log.WithError(err).Debug("dropping undecodable trade batch")
			metrics.EmitDropMetric(nil, metrics.DropMetricTrades, "", "stream")
			continue
		}
		for _, t := range trades {
			s.handler(t)
		}
	}
}
