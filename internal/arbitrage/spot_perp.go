package arbitrage

import (
	"math"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// SpotPerp compares a perpetual's traded price with its funding-adjusted
// synthetic price and hedges the mispricing with the spot instrument on the
// same exchange.
type SpotPerp struct{}

func (SpotPerp) Name() domain.StrategyType { return domain.StrategySpotPerp }

func (SpotPerp) Detect(in *Input) []Candidate {
	var out []Candidate
	for _, p := range in.Market.Points() {
		if p.Symbol == domain.UnderlyingSymbol(p.Symbol) {
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

		pp, sp := p.Price(), spot.Price()
		if pp <= 0 || sp <= 0 {
			continue
		}
		dev := (pp - perpRes.SyntheticPrice) / perpRes.SyntheticPrice
		if math.Abs(dev) <= in.Params.MaterialityFloor {
			continue
		}

		// Equal base quantity on both legs keeps the position delta-neutral.
		n := in.Params.TargetNotionalUSD
		qty := 2 * n / (pp + sp)
		perpAction := actionFor(dev)
		perpLeg, ok1 := newLeg(p, domain.InstrumentPerpetualSwap, pp, perpRes.SyntheticPrice, perpAction, qty, qty*pp/n)
		spotLeg, ok2 := newLeg(spot, domain.InstrumentSpot, sp, spotRes.SyntheticPrice, opposite(perpAction), qty, qty*sp/n)
		if !ok1 || !ok2 || !consistent(spotLeg) {
			continue
		}

		out = append(out, Candidate{
			Strategy:   domain.StrategySpotPerp,
			Underlying: underlying,
			Legs:       []domain.Leg{perpLeg, spotLeg},
			Confidence: math.Min(perpRes.Confidence, spotRes.Confidence),
			Spread:     math.Abs(dev),
		})
	}
	return out
}
