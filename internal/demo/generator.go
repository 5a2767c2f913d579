// Package demo synthesises market data for running the system without
// exchange connectivity.
package demo

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/feed"
)

// Sink receives generated events. feed.ChannelSink satisfies it.
type Sink interface {
	Publish(ev feed.Event)
}

// asset describes one random-walking underlying.
type asset struct {
	symbol     string
	base       float64
	stepScale  float64
	venueScale float64
	halfSpread float64
	perpOffset float64
	funding    float64
}

// Generator random-walks BTC and ETH spot prices and derives per-exchange
// spot and perpetual quotes from them.
type Generator struct {
	exchanges []domain.Exchange
	assets    []*asset
	interval  time.Duration
	logger    *slog.Logger

	noise   distuv.Normal
	venue   distuv.Uniform
	volume  distuv.Uniform
	funding distuv.Normal

	now func() time.Time
}

// NewGenerator creates a generator ticking every interval. The same seed
// yields the same sequence of prices.
func NewGenerator(interval time.Duration, seed uint64, logger *slog.Logger) *Generator {
	if interval <= 0 {
		interval = time.Second
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Generator{
		exchanges: domain.Exchanges(),
		assets: []*asset{
			{symbol: "BTCUSDT", base: 50000, stepScale: 1, venueScale: 1, halfSpread: 0.25, perpOffset: 1.5, funding: 0.0001},
			{symbol: "ETHUSDT", base: 3000, stepScale: 0.1, venueScale: 0.1, halfSpread: 0.15, perpOffset: 0.8, funding: 0.00008},
		},
		interval: interval,
		logger:   logger.With(slog.String("component", "demo")),
		noise:    distuv.Normal{Mu: 0, Sigma: 0.5, Src: src},
		venue:    distuv.Uniform{Min: -2, Max: 2, Src: src},
		volume:   distuv.Uniform{Min: 100, Max: 2000, Src: src},
		funding:  distuv.Normal{Mu: 0, Sigma: 0.00005, Src: src},
		now:      time.Now,
	}
}

// Instruments returns the spot and perpetual instruments the generator
// quotes on every exchange.
func (g *Generator) Instruments() []domain.InstrumentSpec {
	var out []domain.InstrumentSpec
	for _, ex := range g.exchanges {
		for _, a := range g.assets {
			out = append(out,
				domain.InstrumentSpec{Symbol: a.symbol, Type: domain.InstrumentSpot, Exchange: ex},
				domain.InstrumentSpec{Symbol: domain.PerpSymbol(a.symbol), Type: domain.InstrumentPerpetualSwap, Exchange: ex},
			)
		}
	}
	return out
}

// Step advances the walk once and returns the resulting events: a ticker
// per instrument plus funding and mark price for perpetuals.
func (g *Generator) Step() []feed.Event {
	ts := g.now().UTC()
	for _, a := range g.assets {
		a.base += g.noise.Rand() * a.stepScale
	}

	var out []feed.Event
	for _, ex := range g.exchanges {
		for _, a := range g.assets {
			last := a.base + g.venue.Rand()*a.venueScale
			vol := g.volume.Rand()
			out = append(out, tickerEvent(ex, a.symbol, last, a.halfSpread, vol, ts))

			perp := domain.PerpSymbol(a.symbol)
			perpLast := last + a.perpOffset
			out = append(out,
				tickerEvent(ex, perp, perpLast, a.halfSpread, vol, ts),
				feed.Event{
					Kind:     feed.EventFundingRate,
					Exchange: ex,
					FundingRate: domain.FundingRate{
						Symbol: perp, Exchange: ex, Timestamp: ts,
						Rate:            a.funding + g.funding.Rand(),
						NextFundingTime: nextFunding(ts),
					},
				},
				feed.Event{
					Kind:      feed.EventMarkPrice,
					Exchange:  ex,
					MarkPrice: domain.MarkPrice{Symbol: perp, Exchange: ex, MarkPrice: perpLast, Timestamp: ts},
				},
			)
		}
	}
	return out
}

// Run publishes a step every interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, sink Sink) error {
	g.logger.Info("demo generator started", slog.Duration("interval", g.interval))
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		for _, ev := range g.Step() {
			sink.Publish(ev)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func tickerEvent(ex domain.Exchange, symbol string, last, halfSpread, volume float64, ts time.Time) feed.Event {
	return feed.Event{
		Kind:     feed.EventTicker,
		Exchange: ex,
		Ticker: domain.Ticker{
			Symbol: symbol, Exchange: ex, Timestamp: ts,
			Bid: last - halfSpread, Ask: last + halfSpread, Last: last, Volume: volume,
		},
	}
}

// nextFunding returns the next 8-hour funding boundary after ts.
func nextFunding(ts time.Time) time.Time {
	return ts.Truncate(8 * time.Hour).Add(8 * time.Hour)
}
