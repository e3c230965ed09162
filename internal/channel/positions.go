package channel

import (
	"sync/atomic"

	"liqflow/internal/models"
	"liqflow/logger"
)

// PositionChannels carries scanned positions from the scanner workers to the
// aggregation stage. The buffer absorbs bursts from parallel wallet scans;
// when it fills, sends drop rather than block the scan cycle.
type PositionChannels struct {
	Positions chan models.Position

	sent    int64
	dropped int64
}

func NewPositionChannels(buffer int) *PositionChannels {
	return &PositionChannels{
		Positions: make(chan models.Position, buffer),
	}
}

// Send enqueues a position without blocking. It reports false when the
// buffer is full and the position was dropped.
func (c *PositionChannels) Send(p models.Position) bool {
	select {
	case c.Positions <- p:
		atomic.AddInt64(&c.sent, 1)
		logger.RecordChannelMessage("positions", 1)
		return true
	default:
		atomic.AddInt64(&c.dropped, 1)
		return false
	}
}

// Close signals the consumer that no more positions arrive this cycle.
func (c *PositionChannels) Close() {
	close(c.Positions)
}

// Stats returns cumulative send and drop counts.
func (c *PositionChannels) Stats() (sent, dropped int64) {
	return atomic.LoadInt64(&c.sent), atomic.LoadInt64(&c.dropped)
}
