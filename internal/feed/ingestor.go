package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/market"
)

// Observer receives the output of an Ingestor. Calls come from the
// ingestor's goroutine, one at a time.
type Observer interface {
	OnMarketData(ctx context.Context, p domain.MarketDataPoint)
	OnFeedStatus(ctx context.Context, s domain.FeedStatus)
}

// PointFunc adapts a function to an Observer that ignores status changes.
type PointFunc func(ctx context.Context, p domain.MarketDataPoint)

func (f PointFunc) OnMarketData(ctx context.Context, p domain.MarketDataPoint) { f(ctx, p) }
func (f PointFunc) OnFeedStatus(context.Context, domain.FeedStatus)            {}

// Ingestor is the single owner of the per-instrument merge state. It folds
// book, trade, ticker, funding and mark events into MarketDataPoints and
// publishes each updated point to the store and observers.
type Ingestor struct {
	events    <-chan Event
	store     *market.Store
	observers []Observer
	logger    *slog.Logger

	points map[domain.MarketKey]domain.MarketDataPoint
	now    func() time.Time
}

// NewIngestor creates an Ingestor reading from events.
func NewIngestor(events <-chan Event, store *market.Store, logger *slog.Logger, observers ...Observer) *Ingestor {
	return &Ingestor{
		events:    events,
		store:     store,
		observers: observers,
		logger:    logger.With(slog.String("component", "ingestor")),
		points:    make(map[domain.MarketKey]domain.MarketDataPoint),
		now:       time.Now,
	}
}

// Run consumes events until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.Info("ingestor started")
	defer i.logger.Info("ingestor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-i.events:
			i.handle(ctx, ev)
		}
	}
}

func (i *Ingestor) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventStatus:
		st := domain.FeedStatus{Exchange: ev.Exchange, Status: ev.Status}
		for _, o := range i.observers {
			o.OnFeedStatus(ctx, st)
		}
		return
	case EventError:
		if ev.Err != nil {
			i.logger.Warn("feed error", slog.String("exchange", ev.Exchange.String()), slog.String("error", ev.Err.Error()))
		}
		return
	case EventReleased:
		i.Forget(domain.MarketKey{Exchange: ev.Exchange, Symbol: ev.Symbol})
		return
	}

	p, ok := i.Apply(ev)
	if !ok {
		return
	}
	i.store.Put(p)
	for _, o := range i.observers {
		o.OnMarketData(ctx, p)
	}
}

// Apply merges ev into the point for its instrument and returns the result.
// Zero prices in an event leave the previous value in place, since venues
// omit unchanged fields in delta updates.
func (i *Ingestor) Apply(ev Event) (domain.MarketDataPoint, bool) {
	var (
		symbol string
		ts     time.Time
	)
	switch ev.Kind {
	case EventOrderBook:
		symbol, ts = ev.OrderBook.Symbol, ev.OrderBook.Timestamp
	case EventTrade:
		symbol, ts = ev.Trade.Symbol, ev.Trade.Timestamp
	case EventTicker:
		symbol, ts = ev.Ticker.Symbol, ev.Ticker.Timestamp
	case EventFundingRate:
		symbol, ts = ev.FundingRate.Symbol, ev.FundingRate.Timestamp
	case EventMarkPrice:
		symbol, ts = ev.MarkPrice.Symbol, ev.MarkPrice.Timestamp
	default:
		return domain.MarketDataPoint{}, false
	}
	if symbol == "" {
		return domain.MarketDataPoint{}, false
	}
	if ts.IsZero() {
		ts = i.now().UTC()
	}

	key := domain.MarketKey{Exchange: ev.Exchange, Symbol: symbol}
	p := i.points[key]
	p.Symbol, p.Exchange = symbol, ev.Exchange
	if ts.After(p.Timestamp) {
		p.Timestamp = ts
	}

	switch ev.Kind {
	case EventOrderBook:
		quote := setIfPositive(&p.Bid, ev.OrderBook.BestBid())
		quote = setIfPositive(&p.Ask, ev.OrderBook.BestAsk()) || quote
		if quote {
			stamp(&p.QuoteAt, ts)
		}
	case EventTrade:
		if setIfPositive(&p.Last, ev.Trade.Price) {
			stamp(&p.LastAt, ts)
		}
	case EventTicker:
		quote := setIfPositive(&p.Bid, ev.Ticker.Bid)
		quote = setIfPositive(&p.Ask, ev.Ticker.Ask) || quote
		if quote {
			stamp(&p.QuoteAt, ts)
		}
		if setIfPositive(&p.Last, ev.Ticker.Last) {
			stamp(&p.LastAt, ts)
		}
		setIfPositive(&p.Volume, ev.Ticker.Volume)
	case EventFundingRate:
		p.FundingRate = ev.FundingRate.Rate
		stamp(&p.FundingAt, ts)
	case EventMarkPrice:
		if setIfPositive(&p.MarkPrice, ev.MarkPrice.MarkPrice) {
			stamp(&p.MarkAt, ts)
		}
	}

	i.points[key] = p
	return p, true
}

// Forget drops the merge state and the published point for key, so an
// instrument that is no longer subscribed stops feeding pricing.
func (i *Ingestor) Forget(key domain.MarketKey) {
	delete(i.points, key)
	i.store.Remove(key)
	i.logger.Debug("market released", slog.String("key", key.String()))
}

func setIfPositive(dst *float64, v float64) bool {
	if v <= 0 {
		return false
	}
	*dst = v
	return true
}

// stamp moves a field group's observation time forward, never back.
func stamp(at *time.Time, ts time.Time) {
	if ts.After(*at) {
		*at = ts
	}
}
