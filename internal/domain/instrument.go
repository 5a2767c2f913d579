package domain

import (
	"fmt"
	"strings"
)

// InstrumentType classifies how an instrument is priced.
type InstrumentType string

const (
	InstrumentSpot          InstrumentType = "spot"
	InstrumentPerpetualSwap InstrumentType = "perpetual_swap"
)

// PerpSuffix is appended to a spot symbol to name its perpetual swap.
const PerpSuffix = "-PERP"

// Valid reports whether t is a known instrument type.
func (t InstrumentType) Valid() bool {
	return t == InstrumentSpot || t == InstrumentPerpetualSwap
}

// ParseInstrumentType accepts "spot", "perp", "perpetual" and "perpetual_swap"
// in any case.
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return InstrumentSpot, nil
	case "perp", "perpetual", "perpetual_swap", "swap":
		return InstrumentPerpetualSwap, nil
	default:
		return "", fmt.Errorf("unknown instrument type %q", s)
	}
}

// InstrumentID is the registry key of an instrument: "<exchange>:<symbol>".
type InstrumentID string

// NewInstrumentID builds the id for a symbol on an exchange.
func NewInstrumentID(exchange Exchange, symbol string) InstrumentID {
	return InstrumentID(string(exchange) + ":" + symbol)
}

// Split returns the exchange and symbol of id.
func (id InstrumentID) Split() (Exchange, string, error) {
	ex, sym, ok := strings.Cut(string(id), ":")
	if !ok || sym == "" {
		return "", "", fmt.Errorf("malformed instrument id %q", id)
	}
	exchange, err := ParseExchange(ex)
	if err != nil {
		return "", "", err
	}
	return exchange, sym, nil
}

// InstrumentSpec describes a tradable instrument. It is immutable once
// registered.
type InstrumentSpec struct {
	Symbol   string
	Type     InstrumentType
	Exchange Exchange
}

// NewInstrumentSpec validates and returns a spec.
func NewInstrumentSpec(symbol string, typ InstrumentType, exchange Exchange) (InstrumentSpec, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return InstrumentSpec{}, fmt.Errorf("instrument: empty symbol")
	}
	if !typ.Valid() {
		return InstrumentSpec{}, fmt.Errorf("instrument %s: unknown type %q", symbol, typ)
	}
	if !exchange.Valid() {
		return InstrumentSpec{}, fmt.Errorf("instrument %s: %w: %q", symbol, ErrUnsupportedExchange, exchange)
	}
	return InstrumentSpec{Symbol: symbol, Type: typ, Exchange: exchange}, nil
}

// ID returns the registry key of the instrument.
func (s InstrumentSpec) ID() InstrumentID {
	return NewInstrumentID(s.Exchange, s.Symbol)
}

// Underlying returns the spot symbol the instrument tracks. For a spot
// instrument this is its own symbol.
func (s InstrumentSpec) Underlying() string {
	return UnderlyingSymbol(s.Symbol)
}

// UnderlyingSymbol strips the perpetual suffix from symbol.
func UnderlyingSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, PerpSuffix)
}

// PerpSymbol returns the perpetual swap symbol for a spot symbol.
func PerpSymbol(spot string) string {
	if strings.HasSuffix(spot, PerpSuffix) {
		return spot
	}
	return spot + PerpSuffix
}

var quoteCurrencies = []string{"USDT", "USDC", "FDUSD", "USD", "BTC", "ETH"}

// SplitPair splits a concatenated pair such as BTCUSDT into base and quote.
func SplitPair(pair string) (base, quote string, ok bool) {
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return strings.TrimSuffix(pair, q), q, true
		}
	}
	return "", "", false
}

// QuoteCurrency returns the quote currency of a symbol, or "" if it cannot be
// inferred.
func QuoteCurrency(symbol string) string {
	_, q, _ := SplitPair(UnderlyingSymbol(symbol))
	return q
}
