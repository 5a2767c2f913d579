package feed

import (
	"sync/atomic"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// ChannelSink turns client callbacks into typed Events on one buffered
// channel, so a single goroutine can own all state derived from them.
// Publishing never blocks the feed: when the buffer is full the event is
// dropped and counted.
type ChannelSink struct {
	events  chan Event
	dropped atomic.Int64
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 1024
	}
	return &ChannelSink{events: make(chan Event, size)}
}

// Attach registers the sink's handlers on c.
func (s *ChannelSink) Attach(c *Client) {
	ex := c.Exchange()
	c.OnStatus(func(ex domain.Exchange, st domain.ConnectionStatus) {
		s.push(Event{Kind: EventStatus, Exchange: ex, Status: st})
	})
	c.OnError(func(ex domain.Exchange, err error) {
		s.push(Event{Kind: EventError, Exchange: ex, Err: err})
	})
	c.OnOrderBook(func(b domain.OrderBook) {
		s.push(Event{Kind: EventOrderBook, Exchange: ex, OrderBook: b})
	})
	c.OnTrade(func(t domain.Trade) {
		s.push(Event{Kind: EventTrade, Exchange: ex, Trade: t})
	})
	c.OnTicker(func(t domain.Ticker) {
		s.push(Event{Kind: EventTicker, Exchange: ex, Ticker: t})
	})
	c.OnFundingRate(func(f domain.FundingRate) {
		s.push(Event{Kind: EventFundingRate, Exchange: ex, FundingRate: f})
	})
	c.OnMarkPrice(func(m domain.MarkPrice) {
		s.push(Event{Kind: EventMarkPrice, Exchange: ex, MarkPrice: m})
	})
	c.OnReleased(func(ex domain.Exchange, symbol string) {
		s.push(Event{Kind: EventReleased, Exchange: ex, Symbol: symbol})
	})
}

// Publish places ev on the channel. Non-feed producers such as the demo
// generator use it directly.
func (s *ChannelSink) Publish(ev Event) { s.push(ev) }

func (s *ChannelSink) push(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event { return s.events }

// Dropped returns how many events were discarded on a full buffer.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }
