package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const okxPublicURL = "wss://ws.okx.com:8443/ws/v5/public"

// okxProtocol serves spot and swap instruments from one public endpoint.
type okxProtocol struct{}

func newOKXProtocol() *okxProtocol { return &okxProtocol{} }

func (p *okxProtocol) Exchange() domain.Exchange { return domain.ExchangeOKX }
func (p *okxProtocol) DefaultURL() string        { return okxPublicURL }
func (p *okxProtocol) Heartbeat() []byte         { return []byte("ping") }

// okxInstID maps BTCUSDT to BTC-USDT and BTCUSDT-PERP to BTC-USDT-SWAP.
func okxInstID(symbol string) (string, bool) {
	base, quote, ok := domain.SplitPair(domain.UnderlyingSymbol(symbol))
	if !ok {
		return "", false
	}
	id := base + "-" + quote
	if isPerp(symbol) {
		id += "-SWAP"
	}
	return id, true
}

// okxSymbol is the inverse of okxInstID.
func okxSymbol(instID string) string {
	swap := strings.HasSuffix(instID, "-SWAP")
	parts := strings.Split(strings.TrimSuffix(instID, "-SWAP"), "-")
	sym := strings.Join(parts, "")
	if swap {
		return domain.PerpSymbol(sym)
	}
	return sym
}

func (p *okxProtocol) SubscribeMessage(sub Subscription, subscribe bool) ([]byte, error) {
	instID, ok := okxInstID(sub.Symbol)
	if !ok {
		return nil, fmt.Errorf("okx: cannot map symbol %q", sub.Symbol)
	}
	var channel string
	switch sub.Channel {
	case ChannelOrderBook:
		channel = "books5"
	case ChannelTrades:
		channel = "trades"
	case ChannelTicker:
		channel = "tickers"
	case ChannelFundingRate:
		if !isPerp(sub.Symbol) {
			return nil, errUnsupportedChannel(p.Exchange(), sub)
		}
		channel = "funding-rate"
	case ChannelMarkPrice:
		channel = "mark-price"
	default:
		return nil, errUnsupportedChannel(p.Exchange(), sub)
	}
	op := "subscribe"
	if !subscribe {
		op = "unsubscribe"
	}
	return json.Marshal(map[string]any{
		"op":   op,
		"args": []map[string]string{{"channel": channel, "instId": instID}},
	})
}

func (p *okxProtocol) Decode(raw []byte) ([]Event, error) {
	if string(raw) == "pong" {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("okx: malformed frame")
	}
	root := gjson.ParseBytes(raw)
	if ev := root.Get("event").String(); ev != "" {
		if ev == "error" {
			return nil, fmt.Errorf("okx: %s (code %s)", root.Get("msg").String(), root.Get("code").String())
		}
		return nil, nil
	}

	channel := root.Get("arg.channel").String()
	var events []Event
	for _, d := range root.Get("data").Array() {
		instID := d.Get("instId").String()
		if instID == "" {
			instID = root.Get("arg.instId").String()
		}
		symbol := okxSymbol(instID)
		ts := millis(d.Get("ts"))
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		switch channel {
		case "books5":
			events = append(events, Event{Kind: EventOrderBook, Exchange: domain.ExchangeOKX, OrderBook: domain.OrderBook{
				Symbol: symbol, Exchange: domain.ExchangeOKX,
				Bids: levels(d.Get("bids")), Asks: levels(d.Get("asks")), Timestamp: ts,
			}})
		case "trades":
			side := domain.SideBuy
			if d.Get("side").String() == "sell" {
				side = domain.SideSell
			}
			events = append(events, Event{Kind: EventTrade, Exchange: domain.ExchangeOKX, Trade: domain.Trade{
				Symbol: symbol, Exchange: domain.ExchangeOKX,
				Price: num(d.Get("px")), Quantity: num(d.Get("sz")),
				Side: side, TradeID: d.Get("tradeId").String(), Timestamp: ts,
			}})
		case "tickers":
			events = append(events, Event{Kind: EventTicker, Exchange: domain.ExchangeOKX, Ticker: domain.Ticker{
				Symbol: symbol, Exchange: domain.ExchangeOKX,
				Bid: num(d.Get("bidPx")), Ask: num(d.Get("askPx")), Last: num(d.Get("last")),
				Volume: num(d.Get("vol24h")), Timestamp: ts,
			}})
		case "funding-rate":
			events = append(events, Event{Kind: EventFundingRate, Exchange: domain.ExchangeOKX, FundingRate: domain.FundingRate{
				Symbol: symbol, Exchange: domain.ExchangeOKX,
				Rate: num(d.Get("fundingRate")), NextFundingTime: millis(d.Get("nextFundingTime")), Timestamp: ts,
			}})
		case "mark-price":
			events = append(events, Event{Kind: EventMarkPrice, Exchange: domain.ExchangeOKX, MarkPrice: domain.MarkPrice{
				Symbol: symbol, Exchange: domain.ExchangeOKX,
				MarkPrice: num(d.Get("markPx")), Timestamp: ts,
			}})
		}
	}
	return events, nil
}
