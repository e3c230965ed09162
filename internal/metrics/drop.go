package metrics

import "liqflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricPositions records positions dropped before aggregation.
	DropMetricPositions DropMetric = "position_messages_dropped"
	// DropMetricTrades records trade stream events dropped before discovery.
	DropMetricTrades DropMetric = "trade_messages_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message.
// The metric value is always incremented by one so callers should invoke this
// helper for each dropped message. Optional metadata (coin, stage) is added to
// the metric fields when provided which enables downstream aggregation per
// asset and pipeline stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, coin, stage string) {
	fields := logger.Fields{}
	if coin != "" {
		fields["coin"] = coin
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
