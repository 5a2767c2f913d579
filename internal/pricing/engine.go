// Package pricing computes synthetic fair prices for registered instruments.
package pricing

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	ModelSpot      = "spot_observed"
	ModelPerpetual = "perpetual_funding"

	DefaultFundingIntervalHours = 8.0
	DefaultStalenessThreshold   = 5 * time.Second
)

// Config controls freshness and funding conventions.
type Config struct {
	// StalenessThreshold is the age up to which data counts as fresh.
	// Confidence decays linearly to zero at twice this age.
	StalenessThreshold time.Duration
	// FundingIntervalHours overrides the funding interval per exchange.
	FundingIntervalHours map[domain.Exchange]float64
}

// DefaultConfig returns the 5s staleness threshold and 8h funding interval on
// every exchange.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: DefaultStalenessThreshold,
		FundingIntervalHours: map[domain.Exchange]float64{
			domain.ExchangeBinance: DefaultFundingIntervalHours,
			domain.ExchangeOKX:     DefaultFundingIntervalHours,
			domain.ExchangeBybit:   DefaultFundingIntervalHours,
		},
	}
}

// Engine prices registered instruments against market data snapshots.
type Engine struct {
	registry *Registry
	cfg      Config
	logger   *slog.Logger

	env    atomic.Pointer[domain.MarketEnvironment]
	latest atomic.Pointer[[]domain.PricingResult]

	now func() time.Time
}

// NewEngine creates an engine using env as the initial market environment.
func NewEngine(env domain.MarketEnvironment, cfg Config, logger *slog.Logger) *Engine {
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = DefaultStalenessThreshold
	}
	e := &Engine{
		registry: NewRegistry(),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pricing")),
		now:      time.Now,
	}
	e.SetEnvironment(env)
	empty := []domain.PricingResult{}
	e.latest.Store(&empty)
	return e
}

// RegisterInstrument adds spec to the engine's registry.
func (e *Engine) RegisterInstrument(spec domain.InstrumentSpec) error {
	if err := e.registry.Register(spec); err != nil {
		return err
	}
	e.logger.Debug("instrument registered", slog.String("id", string(spec.ID())), slog.String("type", string(spec.Type)))
	return nil
}

// Registry exposes the instrument registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Environment returns the current market environment.
func (e *Engine) Environment() domain.MarketEnvironment {
	return *e.env.Load()
}

// SetEnvironment replaces the market environment. Callers should do this
// between detection cycles.
func (e *Engine) SetEnvironment(env domain.MarketEnvironment) {
	c := env.Clone()
	e.env.Store(&c)
}

// FundingIntervalHours returns the funding interval for exchange.
func (e *Engine) FundingIntervalHours(exchange domain.Exchange) float64 {
	if h, ok := e.cfg.FundingIntervalHours[exchange]; ok && h > 0 {
		return h
	}
	return DefaultFundingIntervalHours
}

// LatestResults returns the results of the most recent PriceAll.
func (e *Engine) LatestResults() []domain.PricingResult {
	return *e.latest.Load()
}

// PriceAll prices every registered instrument against md using the current
// environment, and records the results as the latest snapshot.
func (e *Engine) PriceAll(md domain.MarketData) []domain.PricingResult {
	env := e.Environment()
	specs := e.registry.List()
	out := make([]domain.PricingResult, 0, len(specs))
	for _, s := range specs {
		r := e.Price(s.ID(), md, env)
		if !r.Success {
			e.logger.Debug("pricing skipped", slog.String("id", string(s.ID())), slog.String("reason", r.Diagnostic))
		}
		out = append(out, r)
	}
	e.latest.Store(&out)
	return out
}

// Price computes the synthetic price of instrument id. Missing inputs yield
// Success=false with a diagnostic rather than an error.
func (e *Engine) Price(id domain.InstrumentID, md domain.MarketData, env domain.MarketEnvironment) domain.PricingResult {
	start := time.Now()
	now := e.now()

	spec, ok := e.registry.Get(id)
	if !ok {
		return e.failed(domain.PricingResult{InstrumentID: id}, start, now, "instrument not registered")
	}
	res := domain.PricingResult{
		InstrumentID: id,
		Symbol:       spec.Symbol,
		Exchange:     spec.Exchange,
		Type:         spec.Type,
	}

	switch spec.Type {
	case domain.InstrumentSpot:
		res.ModelName = ModelSpot
		p, ok := md.Get(spec.Exchange, spec.Symbol)
		if !ok {
			return e.failed(res, start, now, "no market data")
		}
		price := spotPrice(p)
		if price <= 0 {
			return e.failed(res, start, now, "no observed price")
		}
		res.SyntheticPrice = price
		res.Components.BasePrice = price
		res.Confidence = e.quoteConfidence(p, now)

	case domain.InstrumentPerpetualSwap:
		res.ModelName = ModelPerpetual
		perp, ok := md.Get(spec.Exchange, spec.Symbol)
		if !ok {
			return e.failed(res, start, now, "no market data")
		}
		spot, ok := md.Get(spec.Exchange, spec.Underlying())
		if !ok || spotPrice(spot) <= 0 {
			return e.failed(res, start, now, fmt.Sprintf("no spot price for %s", spec.Underlying()))
		}
		base := spotPrice(spot)
		adj := perp.FundingRate * base * e.FundingIntervalHours(spec.Exchange)
		res.SyntheticPrice = base + adj
		res.Components.BasePrice = base
		res.Components.FundingAdjustment = adj
		res.Confidence = e.quoteConfidence(spot, now) * e.freshness(perp.FundingTime(), now)
		if perp.Price() > 0 {
			res.Confidence *= e.freshness(perp.PriceTime(), now)
		}
		if res.SyntheticPrice <= 0 {
			return e.failed(res, start, now, "non-positive synthetic price")
		}

	default:
		return e.failed(res, start, now, fmt.Sprintf("unsupported instrument type %q", spec.Type))
	}

	res.Success = true
	res.Timestamp = now
	res.CalculationTimeMs = elapsedMs(start)
	return res
}

func (e *Engine) failed(res domain.PricingResult, start, now time.Time, reason string) domain.PricingResult {
	res.Success = false
	res.SyntheticPrice = 0
	res.Confidence = 0
	res.Diagnostic = reason
	res.Timestamp = now
	res.CalculationTimeMs = elapsedMs(start)
	return res
}

// freshness is 1 within the staleness threshold and falls linearly to 0 at
// twice the threshold.
func (e *Engine) freshness(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := now.Sub(ts)
	limit := e.cfg.StalenessThreshold
	if age <= limit {
		return 1
	}
	f := 1 - float64(age-limit)/float64(limit)
	if f < 0 {
		return 0
	}
	return f
}

// spotPrice is last when observed, otherwise mid.
func spotPrice(p domain.MarketDataPoint) float64 {
	if p.Last > 0 {
		return p.Last
	}
	return p.Mid()
}

// quoteConfidence scores bid, ask and last by presence and by the age of
// each one's own observation, so a fresh trade cannot vouch for a stale quote.
// Complete data observed at a single instant scores completeness times
// freshness.
func (e *Engine) quoteConfidence(p domain.MarketDataPoint, now time.Time) float64 {
	fields := []struct {
		v  float64
		at time.Time
	}{
		{p.Bid, p.QuoteTime()},
		{p.Ask, p.QuoteTime()},
		{p.Last, p.LastTime()},
	}
	var sum float64
	for _, f := range fields {
		if f.v > 0 {
			sum += e.freshness(f.at, now)
		}
	}
	return sum / 3
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}
