package domain

import (
	"fmt"
	"strings"
)

// Exchange identifies a supported trading venue. The set is closed: adding a
// venue means adding a feed protocol for it, never extending an existing one.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeOKX     Exchange = "okx"
	ExchangeBybit   Exchange = "bybit"
)

// Exchanges returns every supported exchange in a stable order.
func Exchanges() []Exchange {
	return []Exchange{ExchangeBinance, ExchangeOKX, ExchangeBybit}
}

// Valid reports whether e is one of the supported exchanges.
func (e Exchange) Valid() bool {
	switch e {
	case ExchangeBinance, ExchangeOKX, ExchangeBybit:
		return true
	default:
		return false
	}
}

func (e Exchange) String() string { return string(e) }

// ParseExchange converts a case-insensitive name into an Exchange. Unknown
// names return ErrUnsupportedExchange.
func ParseExchange(s string) (Exchange, error) {
	e := Exchange(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExchange, s)
	}
	return e, nil
}
