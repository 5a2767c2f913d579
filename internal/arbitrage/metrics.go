package arbitrage

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// metrics holds the engine's lifetime counters. Every field is atomic so
// readers never block a detection pass.
type metrics struct {
	cycles       atomic.Int64
	detected     atomic.Int64
	validated    atomic.Int64
	failed       atomic.Int64
	profitBits   atomic.Uint64
	latencyNanos atomic.Int64
	lastNanos    atomic.Int64
}

// record folds one completed pass into the counters. detected is bumped
// before validated so a concurrent reader never sees validated > detected.
func (m *metrics) record(detected, validated int, profitUSD float64, latency time.Duration) {
	m.detected.Add(int64(detected))
	m.validated.Add(int64(validated))
	m.addProfit(profitUSD)
	m.latencyNanos.Add(latency.Nanoseconds())
	m.lastNanos.Store(latency.Nanoseconds())
	m.cycles.Add(1)
}

func (m *metrics) addProfit(v float64) {
	if v == 0 {
		return
	}
	for {
		old := m.profitBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if m.profitBits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *metrics) snapshot() domain.PerformanceMetrics {
	validated := m.validated.Load()
	detected := m.detected.Load()
	cycles := m.cycles.Load()
	latency := m.latencyNanos.Load()

	var avg float64
	if cycles > 0 {
		avg = float64(latency) / float64(cycles) / 1e6
	}
	return domain.PerformanceMetrics{
		DetectionCycles:        cycles,
		OpportunitiesDetected:  detected,
		OpportunitiesValidated: validated,
		TotalExpectedProfitUSD: math.Float64frombits(m.profitBits.Load()),
		AvgDetectionLatencyMs:  avg,
		LastDetectionLatencyMs: float64(m.lastNanos.Load()) / 1e6,
		FailedDetectionCycles:  m.failed.Load(),
	}
}
