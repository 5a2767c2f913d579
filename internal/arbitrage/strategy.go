// Package arbitrage detects, scores and filters mispricings between related
// instruments across exchanges.
package arbitrage

import (
	"math"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Strategy finds raw candidates of one kind in a detection input. Strategies
// are pure: they read the input and never retain it.
type Strategy interface {
	Name() domain.StrategyType
	Detect(in *Input) []Candidate
}

// Input is the read-only view one detection pass works on.
type Input struct {
	Market  domain.MarketData
	Env     domain.MarketEnvironment
	Params  Params
	Now     time.Time
	results map[domain.InstrumentID]domain.PricingResult

	fundingInterval func(domain.Exchange) float64
}

func newInput(md domain.MarketData, results []domain.PricingResult, env domain.MarketEnvironment,
	params Params, now time.Time, fundingInterval func(domain.Exchange) float64) *Input {
	byID := make(map[domain.InstrumentID]domain.PricingResult, len(results))
	for _, r := range results {
		if r.Usable() {
			byID[r.InstrumentID] = r
		}
	}
	return &Input{
		Market:          md,
		Env:             env,
		Params:          params,
		Now:             now,
		results:         byID,
		fundingInterval: fundingInterval,
	}
}

// Result returns the usable pricing result for symbol on exchange. Failed
// results and zero synthetic prices are treated as missing.
func (in *Input) Result(exchange domain.Exchange, symbol string) (domain.PricingResult, bool) {
	r, ok := in.results[domain.NewInstrumentID(exchange, symbol)]
	return r, ok
}

// priced pairs a market point with its usable pricing result.
type priced struct {
	point  domain.MarketDataPoint
	result domain.PricingResult
}

// pricedPoints returns every market point that has a usable pricing result
// and an observed price, grouped by symbol. Points for unregistered
// instruments have no result and are skipped.
func (in *Input) pricedPoints() map[string][]priced {
	out := make(map[string][]priced)
	for _, p := range in.Market.Points() {
		r, ok := in.Result(p.Exchange, p.Symbol)
		if !ok || p.Price() <= 0 {
			continue
		}
		out[p.Symbol] = append(out[p.Symbol], priced{point: p, result: r})
	}
	return out
}

// FundingIntervalHours returns the funding interval for exchange.
func (in *Input) FundingIntervalHours(exchange domain.Exchange) float64 {
	if in.fundingInterval != nil {
		if h := in.fundingInterval(exchange); h > 0 {
			return h
		}
	}
	return 8
}

// Candidate is an unscored opportunity.
type Candidate struct {
	Strategy   domain.StrategyType
	Underlying string
	Legs       []domain.Leg
	// Confidence is the weakest pricing confidence among the legs.
	Confidence float64
	// Spread is the relative price disagreement the candidate relies on.
	Spread float64
	// Carry is the financing cost over the holding horizon, as a fraction.
	Carry float64
}

// newLeg builds a leg and its deviation. It reports false when synthetic is
// not positive.
func newLeg(p domain.MarketDataPoint, typ domain.InstrumentType, price, synthetic float64,
	action domain.Side, qty, weight float64) (domain.Leg, bool) {
	if synthetic <= 0 || price <= 0 || math.IsNaN(synthetic) || math.IsInf(synthetic, 0) {
		return domain.Leg{}, false
	}
	return domain.Leg{
		Symbol:         p.Symbol,
		Type:           typ,
		Exchange:       p.Exchange,
		Price:          price,
		SyntheticPrice: synthetic,
		Deviation:      (price - synthetic) / synthetic,
		Action:         action,
		Quantity:       qty,
		Weight:         weight,
	}, true
}

// actionFor maps a deviation to the side that profits from convergence.
func actionFor(deviation float64) domain.Side {
	if deviation > 0 {
		return domain.SideSell
	}
	return domain.SideBuy
}

// consistent reports whether a hedge leg's deviation does not contradict its
// action.
func consistent(l domain.Leg) bool {
	return l.Deviation == 0 || actionFor(l.Deviation) == l.Action
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}
