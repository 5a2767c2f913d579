package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/server/handler"
)

type stubEngine struct{ running bool }

func (e *stubEngine) LatestOpportunities() []domain.Opportunity     { return nil }
func (e *stubEngine) PerformanceMetrics() domain.PerformanceMetrics { return domain.PerformanceMetrics{} }
func (e *stubEngine) IsRunning() bool                               { return e.running }
func (e *stubEngine) Running() bool                                 { return e.running }
func (e *stubEngine) Config() domain.ArbitrageConfig                { return domain.ArbitrageConfig{} }
func (e *stubEngine) Start(context.Context) error                   { e.running = true; return nil }
func (e *stubEngine) Stop(context.Context)                          { e.running = false }

type stubData struct{}

func (stubData) MarketData() domain.MarketData          { return domain.MarketData{} }
func (stubData) LatestResults() []domain.PricingResult { return nil }

func testHandlers(eng *stubEngine) Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Handlers{
		Health:  handler.NewHealthHandler(nil),
		Status:  handler.NewStatusHandler("demo", nil, 0, eng, stubData{}),
		Market:  handler.NewMarketHandler(stubData{}),
		Pricing: handler.NewPricingHandler(stubData{}),
		Arb:     handler.NewArbHandler(eng, eng, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "# metrics\n") }),
	}
}

func TestNewHandler_Routes(t *testing.T) {
	h := NewHandler(Config{}, testHandlers(&stubEngine{}), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, path := range []string{
		"/api/health", "/api/status", "/api/market-data", "/api/pricing-results",
		"/api/opportunities", "/api/arbitrage/metrics", "/metrics",
	} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/arbitrage/control", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewHandler_ControlRequiresKey(t *testing.T) {
	eng := &stubEngine{}
	h := NewHandler(Config{APIKey: "k"}, testHandlers(eng), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/arbitrage/control", strings.NewReader(`{"action":"start"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, eng.running)

	req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/control", strings.NewReader(`{"action":"start"}`))
	req.Header.Set("X-API-Key", "k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, eng.running)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv := NewServer(Config{}, testHandlers(&stubEngine{}), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
