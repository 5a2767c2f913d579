// Package analytics derives statistics from the live market-data stream.
package analytics

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	defaultSampleInterval = 10 * time.Second
	defaultWindow         = 360
	minReturns            = 10
	secondsPerYear        = 365 * 24 * 3600
)

// VolatilityTracker estimates annualised realised volatility per underlying
// from sampled spot prices. Each venue keeps its own series, sampled at most
// once per interval, so spreads between venues never register as returns.
type VolatilityTracker struct {
	interval time.Duration
	window   int

	mu     sync.Mutex
	series map[domain.MarketKey]*series
}

// series holds log returns scaled to one second by the measured gap between
// samples.
type series struct {
	lastPrice float64
	lastAt    time.Time
	returns   []float64
}

// NewVolatilityTracker creates a tracker sampling every interval and keeping
// window returns. Non-positive arguments select defaults.
func NewVolatilityTracker(interval time.Duration, window int) *VolatilityTracker {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if window < minReturns {
		window = defaultWindow
	}
	return &VolatilityTracker{
		interval: interval,
		window:   window,
		series:   make(map[domain.MarketKey]*series),
	}
}

// Observe records a spot price. Perpetuals and points without a price are
// ignored.
func (t *VolatilityTracker) Observe(p domain.MarketDataPoint) {
	price, at := p.Price(), p.PriceTime()
	if price <= 0 || p.Symbol != domain.UnderlyingSymbol(p.Symbol) || at.IsZero() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[p.Key()]
	if !ok {
		t.series[p.Key()] = &series{lastPrice: price, lastAt: at}
		return
	}
	dt := at.Sub(s.lastAt)
	if dt < t.interval {
		return
	}
	s.returns = append(s.returns, math.Log(price/s.lastPrice)/math.Sqrt(dt.Seconds()))
	if len(s.returns) > t.window {
		s.returns = s.returns[len(s.returns)-t.window:]
	}
	s.lastPrice, s.lastAt = price, at
}

// Volatility returns the annualised standard deviation of log returns for
// underlying, averaged over the venues that have enough samples. It reports
// false until at least one venue does.
func (t *VolatilityTracker) Volatility(underlying string) (float64, bool) {
	symbol := domain.UnderlyingSymbol(underlying)
	var perVenue [][]float64
	t.mu.Lock()
	for k, s := range t.series {
		if k.Symbol == symbol && len(s.returns) >= minReturns {
			perVenue = append(perVenue, append([]float64(nil), s.returns...))
		}
	}
	t.mu.Unlock()

	var sum float64
	var n int
	for _, returns := range perVenue {
		sd := stat.StdDev(returns, nil)
		if math.IsNaN(sd) {
			continue
		}
		sum += sd
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n) * math.Sqrt(secondsPerYear), true
}

// OnMarketData lets the tracker observe an ingestion stream.
func (t *VolatilityTracker) OnMarketData(_ context.Context, p domain.MarketDataPoint) {
	t.Observe(p)
}

// OnFeedStatus is a no-op.
func (t *VolatilityTracker) OnFeedStatus(context.Context, domain.FeedStatus) {}
