// Package metrics exports feed and detection telemetry in the Prometheus
// exposition format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	// Namespace for all metrics
	namespace = "syntharb"
)

// Collector owns a private registry so tests and multiple app instances do
// not collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	// Feed metrics
	feedStatus      *prometheus.GaugeVec
	feedTransitions *prometheus.CounterVec
	marketUpdates   *prometheus.CounterVec

	// Detection metrics
	opportunities     *prometheus.CounterVec
	opportunityProfit *prometheus.HistogramVec
	cycleLatency      prometheus.Histogram
}

// NewCollector creates a collector with its metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		// Current connection status per exchange, as the numeric status code
		feedStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "status",
				Help:      "Current feed connection status (0=disconnected 1=connecting 2=connected 3=reconnecting 4=error)",
			},
			[]string{"exchange"},
		),

		feedTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "status_transitions_total",
				Help:      "Feed status transitions by exchange and new status",
			},
			[]string{"exchange", "status"},
		),

		marketUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "market_updates_total",
				Help:      "Market data points merged from feed events",
			},
			[]string{"exchange"},
		),

		opportunities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "arbitrage",
				Name:      "published_opportunities_total",
				Help:      "Validated opportunities published by strategy",
			},
			[]string{"strategy"},
		),

		opportunityProfit: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "arbitrage",
				Name:      "opportunity_profit_usd",
				Help:      "Expected USD profit of published opportunities",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"strategy"},
		),

		cycleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "arbitrage",
				Name:      "detection_latency_seconds",
				Help:      "Detection cycle latency distribution",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
	}

	c.registry.MustRegister(
		c.feedStatus,
		c.feedTransitions,
		c.marketUpdates,
		c.opportunities,
		c.opportunityProfit,
		c.cycleLatency,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RegisterEngine exposes the detection engine's own counters. src is
// called on every scrape and must be safe for concurrent use.
func (c *Collector) RegisterEngine(src func() domain.PerformanceMetrics) error {
	funcs := []prometheus.Collector{
		engineCounter("detection_cycles_total", "Completed detection cycles",
			func() float64 { return float64(src().DetectionCycles) }),
		engineCounter("failed_detection_cycles_total", "Detection cycles aborted by a failure",
			func() float64 { return float64(src().FailedDetectionCycles) }),
		engineCounter("opportunities_detected_total", "Candidates produced by strategies",
			func() float64 { return float64(src().OpportunitiesDetected) }),
		engineCounter("opportunities_validated_total", "Candidates that passed every filter",
			func() float64 { return float64(src().OpportunitiesValidated) }),
		engineCounter("expected_profit_usd_total", "Sum of expected USD profit over validated opportunities",
			func() float64 { return src().TotalExpectedProfitUSD }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "avg_detection_latency_ms",
			Help:      "Running mean of detection latency",
		}, func() float64 { return src().AvgDetectionLatencyMs }),
	}
	for _, m := range funcs {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDropped exposes the number of feed events discarded on a full
// event buffer.
func (c *Collector) RegisterDropped(src func() int64) error {
	return c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "dropped_events_total",
		Help:      "Feed events dropped because the event buffer was full",
	}, func() float64 { return float64(src()) }))
}

// RegisterHub exposes dashboard socket drops and slow-client evictions.
func (c *Collector) RegisterHub(dropped, evicted func() int64) error {
	for _, m := range []struct {
		name, help string
		src        func() int64
	}{
		{"dropped_frames_total", "Dashboard frames dropped because the hub inbox was full", dropped},
		{"evicted_clients_total", "Dashboard clients disconnected for falling behind", evicted},
	} {
		err := c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      m.name,
			Help:      m.help,
		}, func() float64 { return float64(m.src()) }))
		if err != nil {
			return err
		}
	}
	return nil
}

func engineCounter(name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arbitrage",
		Name:      name,
		Help:      help,
	}, fn)
}

// OnMarketData counts merged points per exchange.
func (c *Collector) OnMarketData(_ context.Context, p domain.MarketDataPoint) {
	c.marketUpdates.WithLabelValues(p.Exchange.String()).Inc()
}

// OnFeedStatus records a status transition.
func (c *Collector) OnFeedStatus(_ context.Context, s domain.FeedStatus) {
	ex := s.Exchange.String()
	c.feedStatus.WithLabelValues(ex).Set(float64(s.Status))
	c.feedTransitions.WithLabelValues(ex, s.Status.String()).Inc()
}

// RecordCycle records the opportunities published by one detection cycle.
func (c *Collector) RecordCycle(opps []domain.Opportunity, m domain.PerformanceMetrics) {
	c.cycleLatency.Observe(m.LastDetectionLatencyMs / 1000)
	for _, o := range opps {
		strategy := string(o.Strategy)
		c.opportunities.WithLabelValues(strategy).Inc()
		c.opportunityProfit.WithLabelValues(strategy).Observe(o.ExpectedProfitUSD)
	}
}
