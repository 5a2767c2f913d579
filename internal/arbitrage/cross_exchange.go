package arbitrage

import (
	"math"
	"sort"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// CrossExchange pairs the same instrument on two venues: buy where it trades
// below the consensus synthetic price, sell where it trades above.
type CrossExchange struct{}

func (CrossExchange) Name() domain.StrategyType { return domain.StrategyCrossExchange }

func (CrossExchange) Detect(in *Input) []Candidate {
	groups := in.pricedPoints()
	symbols := make([]string, 0, len(groups))
	for s := range groups {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var out []Candidate
	for _, sym := range symbols {
		venues := groups[sym]
		if len(venues) < 2 {
			continue
		}
		var sum float64
		for _, v := range venues {
			sum += v.result.SyntheticPrice
		}
		consensus := sum / float64(len(venues))
		if consensus <= 0 {
			continue
		}

		for _, lo := range venues {
			for _, hi := range venues {
				if c, ok := crossPair(in, lo, hi, consensus); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func crossPair(in *Input, lo, hi priced, consensus float64) (Candidate, bool) {
	if lo.point.Exchange == hi.point.Exchange {
		return Candidate{}, false
	}
	pl, ph := lo.point.Price(), hi.point.Price()
	if !(pl < consensus && consensus < ph) {
		return Candidate{}, false
	}
	spread := (ph - pl) / consensus
	if spread <= in.Params.MaterialityFloor {
		return Candidate{}, false
	}

	n := in.Params.TargetNotionalUSD
	buy, ok1 := newLeg(lo.point, lo.result.Type, pl, consensus, domain.SideBuy, n/pl, 1)
	sell, ok2 := newLeg(hi.point, hi.result.Type, ph, consensus, domain.SideSell, n/ph, 1)
	if !ok1 || !ok2 {
		return Candidate{}, false
	}
	return Candidate{
		Strategy:   domain.StrategyCrossExchange,
		Underlying: domain.UnderlyingSymbol(lo.point.Symbol),
		Legs:       []domain.Leg{buy, sell},
		Confidence: math.Min(lo.result.Confidence, hi.result.Confidence),
		Spread:     spread,
	}, true
}
