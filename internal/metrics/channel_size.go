package metrics

import (
	"context"
	"time"

	"liqflow/internal/channel"
	"liqflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the position channel
// buffer. Metrics are logged every `interval` until the context is cancelled.
// When interval <=0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, positions *channel.PositionChannels, interval time.Duration) {
	if positions == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sent, dropped := positions.Stats()
				EmitMetric(log, component, "position_buffer_length", len(positions.Positions), "gauge", logger.Fields{
					"buffer":   "positions",
					"capacity": cap(positions.Positions),
				})
				EmitMetric(log, component, "position_messages_sent", sent, "counter", logger.Fields{
					"buffer": "positions",
				})
				if dropped > 0 {
					EmitMetric(log, component, "position_messages_dropped_total", dropped, "counter", logger.Fields{
						"buffer": "positions",
					})
				}
			}
		}
	}()
}
