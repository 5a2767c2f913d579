package domain

import (
	"sort"
	"time"
)

// MarketDataPoint is the latest normalised view of one instrument on one
// exchange. Zero prices mean the field has not been observed yet.
//
// Timestamp is the newest update of any kind. QuoteAt, LastAt, FundingAt and
// MarkAt record when each field group was last observed; a zero value falls
// back to Timestamp.
type MarketDataPoint struct {
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Timestamp   time.Time `json:"timestamp"`
	Bid         float64   `json:"bid"`
	Ask         float64   `json:"ask"`
	Last        float64   `json:"last"`
	Volume      float64   `json:"volume"`
	FundingRate float64   `json:"funding_rate"`
	MarkPrice   float64   `json:"mark_price,omitempty"`

	QuoteAt   time.Time `json:"quote_at,omitzero"`
	LastAt    time.Time `json:"last_at,omitzero"`
	FundingAt time.Time `json:"funding_at,omitzero"`
	MarkAt    time.Time `json:"mark_at,omitzero"`
}

func (p MarketDataPoint) or(at time.Time) time.Time {
	if at.IsZero() {
		return p.Timestamp
	}
	return at
}

// QuoteTime is when bid and ask were last observed.
func (p MarketDataPoint) QuoteTime() time.Time { return p.or(p.QuoteAt) }

// LastTime is when the last trade price was observed.
func (p MarketDataPoint) LastTime() time.Time { return p.or(p.LastAt) }

// FundingTime is when the funding rate was observed.
func (p MarketDataPoint) FundingTime() time.Time { return p.or(p.FundingAt) }

// PriceTime is the observation time of the field Price returns.
func (p MarketDataPoint) PriceTime() time.Time {
	switch {
	case p.Last > 0:
		return p.LastTime()
	case p.Mid() > 0:
		return p.QuoteTime()
	default:
		return p.or(p.MarkAt)
	}
}

// Key returns the last-write-wins key of the point.
func (p MarketDataPoint) Key() MarketKey {
	return MarketKey{Exchange: p.Exchange, Symbol: p.Symbol}
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (p MarketDataPoint) Mid() float64 {
	if p.Bid <= 0 || p.Ask <= 0 {
		return 0
	}
	return (p.Bid + p.Ask) / 2
}

// Price returns the best available observed price: last, then mid, then mark.
func (p MarketDataPoint) Price() float64 {
	switch {
	case p.Last > 0:
		return p.Last
	case p.Mid() > 0:
		return p.Mid()
	default:
		return p.MarkPrice
	}
}

// MarketKey identifies one instrument on one exchange.
type MarketKey struct {
	Exchange Exchange
	Symbol   string
}

func (k MarketKey) String() string { return string(k.Exchange) + ":" + k.Symbol }

// MarketData is an immutable snapshot of the latest point per key. Treat it
// as read-only once built.
type MarketData map[MarketKey]MarketDataPoint

// NewMarketData builds a snapshot from points. Later points replace earlier
// ones with the same key.
func NewMarketData(points ...MarketDataPoint) MarketData {
	md := make(MarketData, len(points))
	for _, p := range points {
		md[p.Key()] = p
	}
	return md
}

// Get returns the point for symbol on exchange.
func (m MarketData) Get(exchange Exchange, symbol string) (MarketDataPoint, bool) {
	p, ok := m[MarketKey{Exchange: exchange, Symbol: symbol}]
	return p, ok
}

// Points returns the snapshot as a slice sorted by symbol then exchange.
func (m MarketData) Points() []MarketDataPoint {
	out := make([]MarketDataPoint, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}

// MarketEnvironment carries process-wide pricing inputs. Values are replaced
// as a whole between detection cycles, never mutated in place.
type MarketEnvironment struct {
	InterestRates     map[string]float64 `json:"interest_rates"`
	DefaultVolatility float64            `json:"default_volatility"`
}

// Rate returns the annual interest rate for currency, or 0 when unknown.
func (e MarketEnvironment) Rate(currency string) float64 {
	return e.InterestRates[currency]
}

// Clone returns a deep copy of e.
func (e MarketEnvironment) Clone() MarketEnvironment {
	rates := make(map[string]float64, len(e.InterestRates))
	for k, v := range e.InterestRates {
		rates[k] = v
	}
	return MarketEnvironment{InterestRates: rates, DefaultVolatility: e.DefaultVolatility}
}
