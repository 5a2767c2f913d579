package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Channel is a kind of market data stream.
type Channel string

const (
	ChannelOrderBook   Channel = "orderbook"
	ChannelTrades      Channel = "trades"
	ChannelTicker      Channel = "ticker"
	ChannelFundingRate Channel = "funding_rate"
	ChannelMarkPrice   Channel = "mark_price"
)

// Subscription is one entry of a client's desired-subscription set. Symbols
// use the normalised form: "BTCUSDT" for spot, "BTCUSDT-PERP" for perpetuals.
type Subscription struct {
	Channel Channel
	Symbol  string
}

func (s Subscription) String() string { return string(s.Channel) + ":" + s.Symbol }

// EventKind discriminates Event payloads.
type EventKind int

const (
	EventOrderBook EventKind = iota + 1
	EventTrade
	EventTicker
	EventFundingRate
	EventMarkPrice
	EventStatus
	EventError
	EventReleased
)

func (k EventKind) String() string {
	switch k {
	case EventOrderBook:
		return "orderbook"
	case EventTrade:
		return "trade"
	case EventTicker:
		return "ticker"
	case EventFundingRate:
		return "funding_rate"
	case EventMarkPrice:
		return "mark_price"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event is a typed market event. Only the field matching Kind is set.
type Event struct {
	Kind        EventKind
	Exchange    domain.Exchange
	OrderBook   domain.OrderBook
	Trade       domain.Trade
	Ticker      domain.Ticker
	FundingRate domain.FundingRate
	MarkPrice   domain.MarkPrice
	Status      domain.ConnectionStatus
	Err         error
	// Symbol is set on EventReleased.
	Symbol string
}

// Protocol is the exchange-specific wire capability used by Client: where to
// connect, how to (un)subscribe, and how to decode inbound frames.
type Protocol interface {
	Exchange() domain.Exchange
	DefaultURL() string
	// Heartbeat is the application-level keep-alive payload, or nil when
	// websocket control pings suffice.
	Heartbeat() []byte
	SubscribeMessage(sub Subscription, subscribe bool) ([]byte, error)
	// Decode returns the market events carried by raw. Control frames decode
	// to no events and no error.
	Decode(raw []byte) ([]Event, error)
}

// NewProtocol returns the wire protocol for exchange. derivatives selects the
// perpetual-swap stream on venues that split spot and derivatives endpoints.
func NewProtocol(exchange domain.Exchange, derivatives bool) (Protocol, error) {
	switch exchange {
	case domain.ExchangeBinance:
		return newBinanceProtocol(derivatives), nil
	case domain.ExchangeOKX:
		return newOKXProtocol(), nil
	case domain.ExchangeBybit:
		return newBybitProtocol(derivatives), nil
	default:
		return nil, fmt.Errorf("feed: %w: %q", domain.ErrUnsupportedExchange, exchange)
	}
}

func errUnsupportedChannel(ex domain.Exchange, sub Subscription) error {
	return fmt.Errorf("%s: channel %s not available for %s", ex, sub.Channel, sub.Symbol)
}

// num parses a numeric JSON value. Exchanges send prices as strings; they go
// through decimal so "0.10000000" and 0.1 decode to the same float.
func num(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return 0
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	default:
		return 0
	}
}

// millis parses an epoch-milliseconds value sent as number or string.
func millis(r gjson.Result) time.Time {
	ms := r.Int()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// levels decodes [[price, qty, ...], ...] into price levels, skipping
// malformed rows.
func levels(r gjson.Result) []domain.PriceLevel {
	rows := r.Array()
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 2 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: num(cols[0]), Quantity: num(cols[1])})
	}
	return out
}

func perpSymbol(symbol string, derivatives bool) string {
	if derivatives {
		return domain.PerpSymbol(symbol)
	}
	return symbol
}

func isPerp(symbol string) bool { return strings.HasSuffix(symbol, domain.PerpSuffix) }
