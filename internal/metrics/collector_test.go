package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

func TestCollector_FeedStatus(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.OnFeedStatus(ctx, domain.FeedStatus{Exchange: domain.ExchangeBinance, Status: domain.StatusConnecting})
	c.OnFeedStatus(ctx, domain.FeedStatus{Exchange: domain.ExchangeBinance, Status: domain.StatusConnected})

	assert.Equal(t, float64(domain.StatusConnected), testutil.ToFloat64(c.feedStatus.WithLabelValues("binance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedTransitions.WithLabelValues("binance", "CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedTransitions.WithLabelValues("binance", "CONNECTING")))
}

func TestCollector_MarketUpdates(t *testing.T) {
	c := NewCollector()
	for range 3 {
		c.OnMarketData(context.Background(), domain.MarketDataPoint{Exchange: domain.ExchangeOKX, Symbol: "BTCUSDT"})
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(c.marketUpdates.WithLabelValues("okx")))
}

func TestCollector_RecordCycle(t *testing.T) {
	c := NewCollector()
	opps := []domain.Opportunity{
		{Strategy: domain.StrategyCrossExchange, ExpectedProfitUSD: 12},
		{Strategy: domain.StrategyCrossExchange, ExpectedProfitUSD: 30},
		{Strategy: domain.StrategyFundingRate, ExpectedProfitUSD: 5},
	}

	c.RecordCycle(opps, domain.PerformanceMetrics{LastDetectionLatencyMs: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.opportunities.WithLabelValues("CROSS_EXCHANGE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opportunities.WithLabelValues("FUNDING_RATE")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.cycleLatency))
}

func TestCollector_EngineFuncs(t *testing.T) {
	c := NewCollector()
	m := domain.PerformanceMetrics{DetectionCycles: 7, OpportunitiesValidated: 2, FailedDetectionCycles: 1}
	require.NoError(t, c.RegisterEngine(func() domain.PerformanceMetrics { return m }))
	require.NoError(t, c.RegisterDropped(func() int64 { return 4 }))
	require.NoError(t, c.RegisterHub(func() int64 { return 3 }, func() int64 { return 1 }))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "syntharb_arbitrage_detection_cycles_total 7")
	assert.Contains(t, body, "syntharb_arbitrage_failed_detection_cycles_total 1")
	assert.Contains(t, body, "syntharb_arbitrage_opportunities_validated_total 2")
	assert.Contains(t, body, "syntharb_feed_dropped_events_total 4")
	assert.Contains(t, body, "syntharb_ws_dropped_frames_total 3")
	assert.Contains(t, body, "syntharb_ws_evicted_clients_total 1")
}

func TestCollector_RegisterEngineTwiceFails(t *testing.T) {
	c := NewCollector()
	src := func() domain.PerformanceMetrics { return domain.PerformanceMetrics{} }
	require.NoError(t, c.RegisterEngine(src))
	assert.Error(t, c.RegisterEngine(src))
}
