package arbitrage

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Risk weights: capital usage, volatility, and execution cost relative to edge.
const (
	riskWeightCapital  = 0.4
	riskWeightVol      = 0.4
	riskWeightSlippage = 0.2

	// capitalTolerance absorbs float rounding in leg notional sums.
	capitalTolerance = 1e-6
)

// score turns a candidate into an opportunity.
//
//	profit fraction = sum(weight * |deviation|) - carry
//	expected_profit_pct = profit fraction * 100
//	expected_profit_usd = profit fraction * target notional
//	required_capital = sum(price * quantity)
//	confidence = weakest leg confidence * max(0, 1 - spread/agreement tolerance)
func (e *Engine) score(c Candidate, in *Input) domain.Opportunity {
	var edge, capital float64
	for _, l := range c.Legs {
		edge += l.Weight * math.Abs(l.Deviation)
		capital += l.Notional()
	}
	edge -= c.Carry

	agreement := 1.0
	if tol := in.Params.AgreementTolerance; tol > 0 {
		agreement = math.Max(0, 1-c.Spread/tol)
	}

	return domain.Opportunity{
		ID:                e.newID(),
		Strategy:          c.Strategy,
		Underlying:        c.Underlying,
		Legs:              c.Legs,
		ExpectedProfitPct: edge * 100,
		ExpectedProfitUSD: edge * in.Params.TargetNotionalUSD,
		RequiredCapital:   capital,
		RiskScore:         e.risk(c, edge, capital, in),
		Confidence:        clamp01(c.Confidence * agreement),
		DetectedAt:        in.Now,
	}
}

func (e *Engine) risk(c Candidate, edge, capital float64, in *Input) float64 {
	capitalRatio := 1.0
	if e.cfg.MaxPositionSizeUSD > 0 {
		capitalRatio = math.Min(capital/e.cfg.MaxPositionSizeUSD, 1)
	}

	vol := in.Env.DefaultVolatility
	if e.vol != nil {
		if v, ok := e.vol.Volatility(c.Underlying); ok {
			vol = v
		}
	}

	slippage := in.Params.SlippageBps / 1e4 * float64(len(c.Legs))
	slipRatio := 1.0
	if edge > 0 {
		slipRatio = math.Min(slippage/edge, 1)
	}

	return clamp01(riskWeightCapital*capitalRatio +
		riskWeightVol*math.Min(math.Max(vol, 0), 1) +
		riskWeightSlippage*slipRatio)
}

// accept applies the configured thresholds. Percent thresholds are in
// percent units.
func (e *Engine) accept(o domain.Opportunity) bool {
	return len(o.Legs) >= 2 &&
		o.ExpectedProfitPct >= e.cfg.MinProfitThresholdPercent &&
		o.ExpectedProfitUSD >= e.cfg.MinProfitThresholdUSD &&
		o.Confidence >= e.cfg.MinConfidenceScore &&
		o.RequiredCapital <= e.cfg.MaxPositionSizeUSD+capitalTolerance
}

// rank orders opportunities by expected USD profit, highest first.
func rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].ExpectedProfitUSD != opps[j].ExpectedProfitUSD {
			return opps[i].ExpectedProfitUSD > opps[j].ExpectedProfitUSD
		}
		return opps[i].ExpectedProfitPct > opps[j].ExpectedProfitPct
	})
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func newUUID() uuid.UUID { return uuid.New() }
