package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

type fakeFeeds []domain.FeedStatus

func (f fakeFeeds) FeedStatuses() []domain.FeedStatus { return f }

type fakeMarket domain.MarketData

func (f fakeMarket) MarketData() domain.MarketData { return domain.MarketData(f) }

type fakePricing []domain.PricingResult

func (f fakePricing) LatestResults() []domain.PricingResult { return f }

type fakeEngine struct {
	running  bool
	startErr error
	opps     []domain.Opportunity
	metrics  domain.PerformanceMetrics
}

func (e *fakeEngine) LatestOpportunities() []domain.Opportunity     { return e.opps }
func (e *fakeEngine) PerformanceMetrics() domain.PerformanceMetrics { return e.metrics }
func (e *fakeEngine) IsRunning() bool                               { return e.running }
func (e *fakeEngine) Running() bool                                 { return e.running }
func (e *fakeEngine) Config() domain.ArbitrageConfig {
	return domain.ArbitrageConfig{MaxPositionSizeUSD: 10000}
}

func (e *fakeEngine) Start(context.Context) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	return nil
}

func (e *fakeEngine) Stop(context.Context) { e.running = false }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name  string
		feeds FeedStatusSource
		want  string
	}{
		{name: "no feeds", feeds: nil, want: "ok"},
		{name: "all connected", feeds: fakeFeeds{{Exchange: domain.ExchangeBinance, Status: domain.StatusConnected}}, want: "ok"},
		{name: "one reconnecting", feeds: fakeFeeds{
			{Exchange: domain.ExchangeBinance, Status: domain.StatusConnected},
			{Exchange: domain.ExchangeOKX, Status: domain.StatusReconnecting},
		}, want: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.feeds)
			rec := httptest.NewRecorder()

			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			var body struct {
				Status string `json:"status"`
			}
			decode(t, rec, &body)
			assert.Equal(t, tt.want, body.Status)
		})
	}
}

func TestGetStatus(t *testing.T) {
	md := domain.NewMarketData(domain.MarketDataPoint{Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT"})
	h := NewStatusHandler("demo", []domain.StrategyType{domain.StrategyCrossExchange}, 12, &fakeEngine{running: true}, fakeMarket(md))
	h.now = func() time.Time { return h.startedAt.Add(90 * time.Second) }
	rec := httptest.NewRecorder()

	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "demo", body["mode"])
	assert.Equal(t, true, body["engine_running"])
	assert.Equal(t, 90.0, body["uptime_seconds"])
	assert.Equal(t, 12.0, body["instruments"])
	assert.Equal(t, 1.0, body["market_points"])
}

func TestListMarketData_Filters(t *testing.T) {
	md := domain.NewMarketData(
		domain.MarketDataPoint{Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Last: 1},
		domain.MarketDataPoint{Exchange: domain.ExchangeOKX, Symbol: "BTCUSDT", Last: 2},
		domain.MarketDataPoint{Exchange: domain.ExchangeOKX, Symbol: "BTCUSDT-PERP", Last: 2},
		domain.MarketDataPoint{Exchange: domain.ExchangeOKX, Symbol: "ETHUSDT", Last: 3},
	)
	h := NewMarketHandler(fakeMarket(md))

	tests := []struct {
		query string
		want  int
	}{
		{"", 4},
		{"?symbol=btc/usdt", 2},
		{"?symbol=BTC-USDT-PERP", 1},
		{"?exchange=OKX", 3},
		{"?symbol=BTCUSDT&exchange=okx", 1},
		{"?symbol=SOLUSDT", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListMarketData(rec, httptest.NewRequest(http.MethodGet, "/api/market-data"+tt.query, nil))

			var body marketDataResponse
			decode(t, rec, &body)
			assert.Equal(t, tt.want, body.Count)
			assert.Len(t, body.Points, tt.want)
		})
	}
}

func TestListMarketData_UnknownExchange(t *testing.T) {
	h := NewMarketHandler(fakeMarket(domain.NewMarketData()))
	rec := httptest.NewRecorder()

	h.ListMarketData(rec, httptest.NewRequest(http.MethodGet, "/api/market-data?exchange=kraken", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "kraken")
}

func TestListResults_Filters(t *testing.T) {
	h := NewPricingHandler(fakePricing{
		{Symbol: "BTCUSDT", Exchange: domain.ExchangeBinance, Success: true, SyntheticPrice: 50000},
		{Symbol: "BTCUSDT", Exchange: domain.ExchangeBybit, Success: true, SyntheticPrice: 50010},
		{Symbol: "ETHUSDT", Exchange: domain.ExchangeBinance, Success: false, Diagnostic: "no market data"},
	})

	rec := httptest.NewRecorder()
	h.ListResults(rec, httptest.NewRequest(http.MethodGet, "/api/pricing-results?success=true", nil))
	var body pricingResponse
	decode(t, rec, &body)
	require.Equal(t, 2, body.Count)

	rec = httptest.NewRecorder()
	h.ListResults(rec, httptest.NewRequest(http.MethodGet, "/api/pricing-results?symbol=btc/usdt&exchange=bybit", nil))
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, 50010.0, body.Results[0].SyntheticPrice)
}

func TestListOpportunities(t *testing.T) {
	eng := &fakeEngine{opps: []domain.Opportunity{
		{Strategy: domain.StrategyCrossExchange, ExpectedProfitUSD: 30},
		{Strategy: domain.StrategyFundingRate, ExpectedProfitUSD: 20},
		{Strategy: domain.StrategyCrossExchange, ExpectedProfitUSD: 10},
	}}
	h := NewArbHandler(eng, eng, discardLogger())

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities?strategy=cross_exchange&limit=1", nil))

	var body listOpportunitiesResponse
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, 30.0, body.Opportunities[0].ExpectedProfitUSD)
}

func TestListOpportunities_EmptyIsArray(t *testing.T) {
	h := NewArbHandler(&fakeEngine{}, &fakeEngine{}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	assert.JSONEq(t, `{"opportunities":[],"count":0}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	eng := &fakeEngine{metrics: domain.PerformanceMetrics{DetectionCycles: 4, FailedDetectionCycles: 1}}
	h := NewArbHandler(eng, eng, discardLogger())

	rec := httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/api/arbitrage/metrics", nil))

	var body domain.PerformanceMetrics
	decode(t, rec, &body)
	assert.Equal(t, int64(4), body.DetectionCycles)
	assert.Equal(t, int64(1), body.FailedDetectionCycles)
}

func TestControl(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		startErr    error
		wantCode    int
		wantRunning bool
	}{
		{name: "start", body: `{"action":"start"}`, wantCode: http.StatusOK, wantRunning: true},
		{name: "stop", body: `{"action":"STOP"}`, wantCode: http.StatusOK, wantRunning: false},
		{name: "unknown action", body: `{"action":"pause"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: `{"action":"start","force":true}`, wantCode: http.StatusBadRequest},
		{name: "trailing data", body: `{"action":"start"}{}`, wantCode: http.StatusBadRequest},
		{name: "start fails", body: `{"action":"start"}`, startErr: errors.New("no pricer"), wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{startErr: tt.startErr}
			h := NewArbHandler(eng, eng, discardLogger())
			rec := httptest.NewRecorder()

			h.Control(rec, httptest.NewRequest(http.MethodPost, "/api/arbitrage/control", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.JSONEq(t, `{"running":`+map[bool]string{true: "true", false: "false"}[tt.wantRunning]+`}`, rec.Body.String())
			}
			assert.Equal(t, tt.wantRunning, eng.running)
		})
	}
}
