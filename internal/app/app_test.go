package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/config"
	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/feed"
	"github.com/alanyoungcy/syntharb/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInstrumentStore struct {
	mu      sync.Mutex
	saved   []domain.InstrumentSpec
	stored  []domain.InstrumentSpec
	saveErr error
}

func (s *fakeInstrumentStore) Upsert(_ context.Context, spec domain.InstrumentSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, spec)
	return nil
}

func (s *fakeInstrumentStore) List(context.Context) ([]domain.InstrumentSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InstrumentSpec(nil), s.stored...), nil
}

func (s *fakeInstrumentStore) Delete(context.Context, domain.InstrumentID) error { return nil }

func TestResolveInstruments_DemoUsesGenerator(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "demo"
	store := &fakeInstrumentStore{}

	specs, err := ResolveInstruments(context.Background(), &cfg, store, discardLogger())
	require.NoError(t, err)

	assert.Len(t, specs, 12)
	assert.Empty(t, store.saved, "demo instruments are never persisted")
}

func TestResolveInstruments_LiveWithoutStore(t *testing.T) {
	cfg := config.Defaults()

	specs, err := ResolveInstruments(context.Background(), &cfg, nil, discardLogger())
	require.NoError(t, err)
	assert.Len(t, specs, 12)
}

func TestResolveInstruments_SavesAndMergesStored(t *testing.T) {
	// Arrange
	cfg := config.Defaults()
	cfg.Postgres.LoadInstruments = true
	extra := domain.InstrumentSpec{Symbol: "SOLUSDT", Type: domain.InstrumentSpot, Exchange: domain.ExchangeBinance}
	store := &fakeInstrumentStore{stored: []domain.InstrumentSpec{
		{Symbol: "BTCUSDT", Type: domain.InstrumentSpot, Exchange: domain.ExchangeBinance},
		extra,
	}}

	// Act
	specs, err := ResolveInstruments(context.Background(), &cfg, store, discardLogger())

	// Assert
	require.NoError(t, err)
	assert.Len(t, store.saved, 12)
	assert.Len(t, specs, 13)
	assert.Contains(t, specs, extra)
}

func TestResolveInstruments_StoreErrorIsReturned(t *testing.T) {
	cfg := config.Defaults()
	boom := errors.New("boom")

	_, err := ResolveInstruments(context.Background(), &cfg, &fakeInstrumentStore{saveErr: boom}, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBuildClients_GroupsByExchangeAndMarket(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())
	specs, err := cfg.InstrumentSpecs()
	require.NoError(t, err)

	clients, err := a.buildClients(specs, feed.NewChannelSink(16))
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, c := range clients {
			_ = c.Close()
		}
	})

	// One spot and one derivatives client per exchange.
	require.Len(t, clients, 6)
	for _, c := range clients {
		subs := c.Subscriptions()
		require.NotEmpty(t, subs)
		perp := domain.UnderlyingSymbol(subs[0].Symbol) != subs[0].Symbol
		if perp {
			// ticker, orderbook, trades, funding_rate, mark_price for BTC and ETH
			assert.Len(t, subs, 10, c.Exchange().String())
		} else {
			// funding and mark channels are skipped on spot
			assert.Len(t, subs, 6, c.Exchange().String())
			for _, s := range subs {
				assert.NotEqual(t, feed.ChannelFundingRate, s.Channel)
				assert.NotEqual(t, feed.ChannelMarkPrice, s.Channel)
			}
		}
		assert.Equal(t, domain.StatusDisconnected, c.Status())
	}
}

func TestBuildPipeline_RejectsUnknownFundingExchange(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pricing.FundingIntervalHours = map[string]float64{"kraken": 4}
	a := New(&cfg, discardLogger())

	_, err := a.buildPipeline(context.Background(), &Dependencies{Metrics: metrics.NewCollector()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedExchange)
}

func TestDemoMode_RunsPipelineUntilCancelled(t *testing.T) {
	// Arrange
	cfg := config.Defaults()
	cfg.Mode = "demo"
	cfg.Server.Enabled = false
	cfg.Demo.Interval.Duration = 10 * time.Millisecond
	cfg.Arbitrage.Interval.Duration = 20 * time.Millisecond
	a := New(&cfg, discardLogger())
	deps := &Dependencies{Metrics: metrics.NewCollector()}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	// Act
	err := a.DemoMode(ctx, deps)

	// Assert
	assert.ErrorIs(t, err, context.Canceled)

	families, err := deps.Metrics.Registry().Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		values[mf.GetName()] = sum
	}
	assert.Positive(t, values["syntharb_feed_market_updates_total"])
	assert.Positive(t, values["syntharb_arbitrage_detection_cycles_total"])
}

func TestWire_DisabledBackends(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Metrics)
	assert.Nil(t, deps.InstrumentStore)
	assert.Nil(t, deps.SignalBus)
	assert.False(t, deps.Notifier.Enabled())
}

func TestNewNotifier_RequiresCompleteCredentials(t *testing.T) {
	assert.False(t, newNotifier(config.NotifyConfig{TelegramToken: "t"}).Enabled())
	assert.True(t, newNotifier(config.NotifyConfig{DiscordWebhookURL: "https://discord.example/hook"}).Enabled())
}

func TestTeardown_ReverseOrder(t *testing.T) {
	var order []int
	var td teardown
	td.add(func() { order = append(order, 1) })
	td.add(func() { order = append(order, 2) })
	td.run()
	assert.Equal(t, []int{2, 1}, order)
}
