package demo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/feed"
)

func newTestGenerator(seed uint64) *Generator {
	g := NewGenerator(time.Millisecond, seed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestStep_ShapesQuotes(t *testing.T) {
	g := newTestGenerator(1)

	events := g.Step()

	// 3 exchanges x 2 assets x (spot ticker, perp ticker, funding, mark).
	require.Len(t, events, 24)
	tickers := map[domain.MarketKey]domain.Ticker{}
	for _, ev := range events {
		if ev.Kind == feed.EventTicker {
			tickers[domain.MarketKey{Exchange: ev.Exchange, Symbol: ev.Ticker.Symbol}] = ev.Ticker
		}
	}
	require.Len(t, tickers, 12)

	for _, ex := range domain.Exchanges() {
		spot := tickers[domain.MarketKey{Exchange: ex, Symbol: "BTCUSDT"}]
		perp := tickers[domain.MarketKey{Exchange: ex, Symbol: "BTCUSDT-PERP"}]
		assert.InDelta(t, 50000, spot.Last, 10)
		assert.InDelta(t, 0.5, spot.Ask-spot.Bid, 1e-9)
		assert.InDelta(t, 1.5, perp.Last-spot.Last, 1e-9)
	}
}

func TestStep_DeterministicForSeed(t *testing.T) {
	a, b := newTestGenerator(42), newTestGenerator(42)
	assert.Equal(t, a.Step(), b.Step())
	assert.NotEqual(t, a.Step(), newTestGenerator(7).Step())
}

func TestInstruments(t *testing.T) {
	specs := newTestGenerator(1).Instruments()
	require.Len(t, specs, 12)
	for _, s := range specs {
		_, err := domain.NewInstrumentSpec(s.Symbol, s.Type, s.Exchange)
		assert.NoError(t, err)
	}
}

func TestRun_FeedsIngestion(t *testing.T) {
	g := newTestGenerator(3)
	sink := feed.NewChannelSink(256)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, sink) }()

	ev := <-sink.Events()
	assert.Equal(t, feed.EventTicker, ev.Kind)
	cancel()
	require.NoError(t, <-done)
}
