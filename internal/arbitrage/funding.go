package arbitrage

import (
	"math"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const hoursPerYear = 365 * 24

// FundingRate collects funding over a holding horizon: short the perpetual
// when longs pay (positive rate), long it when shorts pay, and hedge with an
// equal spot quantity.
type FundingRate struct{}

func (FundingRate) Name() domain.StrategyType { return domain.StrategyFundingRate }

func (FundingRate) Detect(in *Input) []Candidate {
	horizon := in.Params.FundingHorizon.Hours()
	if horizon <= 0 {
		return nil
	}

	var out []Candidate
	for _, p := range in.Market.Points() {
		if p.FundingRate == 0 || p.Symbol == domain.UnderlyingSymbol(p.Symbol) {
			continue
		}
		perpRes, ok := in.Result(p.Exchange, p.Symbol)
		if !ok || perpRes.Type != domain.InstrumentPerpetualSwap {
			continue
		}
		underlying := domain.UnderlyingSymbol(p.Symbol)
		spot, ok := in.Market.Get(p.Exchange, underlying)
		if !ok {
			continue
		}
		spotRes, ok := in.Result(p.Exchange, underlying)
		if !ok {
			continue
		}

		mp, sp := p.Price(), spot.Price()
		if mp <= 0 || sp <= 0 {
			continue
		}

		// Funding collected over the horizon, as a fraction of notional.
		gain := math.Abs(p.FundingRate) * horizon / in.FundingIntervalHours(p.Exchange)
		carry := carryRate(in.Env, underlying) * horizon / hoursPerYear
		if gain-carry <= in.Params.MaterialityFloor || gain >= 1 {
			continue
		}

		perpAction, synthetic := domain.SideSell, mp*(1-gain)
		if p.FundingRate < 0 {
			perpAction, synthetic = domain.SideBuy, mp*(1+gain)
		}

		n := in.Params.TargetNotionalUSD
		qty := 2 * n / (mp + sp)
		perpLeg, ok1 := newLeg(p, domain.InstrumentPerpetualSwap, mp, synthetic, perpAction, qty, qty*mp/n)
		spotLeg, ok2 := newLeg(spot, domain.InstrumentSpot, sp, spotRes.SyntheticPrice, opposite(perpAction), qty, qty*sp/n)
		if !ok1 || !ok2 || !consistent(spotLeg) {
			continue
		}

		out = append(out, Candidate{
			Strategy:   domain.StrategyFundingRate,
			Underlying: underlying,
			Legs:       []domain.Leg{perpLeg, spotLeg},
			Confidence: math.Min(perpRes.Confidence, spotRes.Confidence),
			Spread:     math.Abs(mp-sp) / sp,
			Carry:      carry,
		})
	}
	return out
}

// carryRate is the annual financing rate for the symbol's quote currency,
// falling back to USD for dollar stablecoins.
func carryRate(env domain.MarketEnvironment, symbol string) float64 {
	q := domain.QuoteCurrency(symbol)
	if r, ok := env.InterestRates[q]; ok {
		return r
	}
	return env.Rate("USD")
}
