package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	binanceSpotURL    = "wss://stream.binance.com:9443/stream"
	binanceFuturesURL = "wss://fstream.binance.com/stream"
)

// binanceProtocol speaks the combined-stream API. Spot and USD-M futures live
// on different hosts, so one instance covers one of them.
type binanceProtocol struct {
	derivatives bool
	nextID      atomic.Int64
}

func newBinanceProtocol(derivatives bool) *binanceProtocol {
	return &binanceProtocol{derivatives: derivatives}
}

func (p *binanceProtocol) Exchange() domain.Exchange { return domain.ExchangeBinance }
func (p *binanceProtocol) Heartbeat() []byte         { return nil }

func (p *binanceProtocol) DefaultURL() string {
	if p.derivatives {
		return binanceFuturesURL
	}
	return binanceSpotURL
}

func (p *binanceProtocol) stream(sub Subscription) (string, error) {
	if isPerp(sub.Symbol) != p.derivatives {
		return "", errUnsupportedChannel(p.Exchange(), sub)
	}
	sym := strings.ToLower(domain.UnderlyingSymbol(sub.Symbol))
	switch sub.Channel {
	case ChannelOrderBook:
		return sym + "@depth5@100ms", nil
	case ChannelTrades:
		if p.derivatives {
			return sym + "@aggTrade", nil
		}
		return sym + "@trade", nil
	case ChannelTicker:
		return sym + "@ticker", nil
	case ChannelFundingRate, ChannelMarkPrice:
		if !p.derivatives {
			return "", errUnsupportedChannel(p.Exchange(), sub)
		}
		return sym + "@markPrice@1s", nil
	default:
		return "", errUnsupportedChannel(p.Exchange(), sub)
	}
}

func (p *binanceProtocol) SubscribeMessage(sub Subscription, subscribe bool) ([]byte, error) {
	stream, err := p.stream(sub)
	if err != nil {
		return nil, err
	}
	method := "SUBSCRIBE"
	if !subscribe {
		method = "UNSUBSCRIBE"
	}
	return json.Marshal(map[string]any{
		"method": method,
		"params": []string{stream},
		"id":     p.nextID.Add(1),
	})
}

func (p *binanceProtocol) Decode(raw []byte) ([]Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("binance: malformed frame")
	}
	root := gjson.ParseBytes(raw)
	if msg := root.Get("msg"); msg.Exists() && root.Get("code").Exists() {
		return nil, fmt.Errorf("binance: %s", msg.String())
	}
	stream := root.Get("stream").String()
	data := root.Get("data")
	if stream == "" || !data.Exists() {
		// Subscription acks: {"result":null,"id":1}.
		return nil, nil
	}

	name, kind, _ := strings.Cut(stream, "@")
	symbol := perpSymbol(strings.ToUpper(name), p.derivatives)
	now := time.Now().UTC()
	ts := millis(data.Get("E"))
	if ts.IsZero() {
		ts = now
	}

	switch {
	case strings.HasPrefix(kind, "depth"):
		bids, asks := data.Get("bids"), data.Get("asks")
		if !bids.Exists() {
			bids, asks = data.Get("b"), data.Get("a")
		}
		return []Event{{Kind: EventOrderBook, Exchange: domain.ExchangeBinance, OrderBook: domain.OrderBook{
			Symbol: symbol, Exchange: domain.ExchangeBinance,
			Bids: levels(bids), Asks: levels(asks), Timestamp: ts,
		}}}, nil

	case kind == "trade" || kind == "aggTrade":
		side := domain.SideBuy
		if data.Get("m").Bool() {
			// Buyer was the maker, so the aggressor sold.
			side = domain.SideSell
		}
		id := data.Get("t")
		if !id.Exists() {
			id = data.Get("a")
		}
		tradeTime := millis(data.Get("T"))
		if tradeTime.IsZero() {
			tradeTime = ts
		}
		return []Event{{Kind: EventTrade, Exchange: domain.ExchangeBinance, Trade: domain.Trade{
			Symbol: symbol, Exchange: domain.ExchangeBinance,
			Price: num(data.Get("p")), Quantity: num(data.Get("q")),
			Side: side, TradeID: id.String(), Timestamp: tradeTime,
		}}}, nil

	case kind == "ticker":
		return []Event{{Kind: EventTicker, Exchange: domain.ExchangeBinance, Ticker: domain.Ticker{
			Symbol: symbol, Exchange: domain.ExchangeBinance,
			Bid: num(data.Get("b")), Ask: num(data.Get("a")), Last: num(data.Get("c")),
			Volume: num(data.Get("v")), Timestamp: ts,
		}}}, nil

	case strings.HasPrefix(kind, "markPrice"):
		return []Event{
			{Kind: EventMarkPrice, Exchange: domain.ExchangeBinance, MarkPrice: domain.MarkPrice{
				Symbol: symbol, Exchange: domain.ExchangeBinance,
				MarkPrice: num(data.Get("p")), IndexPrice: num(data.Get("i")), Timestamp: ts,
			}},
			{Kind: EventFundingRate, Exchange: domain.ExchangeBinance, FundingRate: domain.FundingRate{
				Symbol: symbol, Exchange: domain.ExchangeBinance,
				Rate: num(data.Get("r")), NextFundingTime: millis(data.Get("T")), Timestamp: ts,
			}},
		}, nil
	}
	return nil, nil
}
