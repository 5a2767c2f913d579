package domain

import (
	"context"
	"time"
)

// MarketCache keeps the latest market data point per key outside the
// process so other consumers can read it.
type MarketCache interface {
	SetPoint(ctx context.Context, p MarketDataPoint) error
	GetPoint(ctx context.Context, exchange Exchange, symbol string) (MarketDataPoint, error)
	Snapshot(ctx context.Context) ([]MarketDataPoint, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID          string
	Payload     []byte
	PublishedAt time.Time
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelOpportunities = "opportunities"
	ChannelMetrics       = "metrics"
	ChannelMarketData    = "market_data"
	ChannelFeedStatus    = "feed_status"
)

// DefaultPointTTL bounds how long a cached point outlives its last update.
const DefaultPointTTL = 5 * time.Minute
