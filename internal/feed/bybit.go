package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	bybitSpotURL   = "wss://stream.bybit.com/v5/public/spot"
	bybitLinearURL = "wss://stream.bybit.com/v5/public/linear"
	bybitBookDepth = 50
)

// bybitProtocol decodes the v5 public streams. Order books arrive as a
// snapshot followed by deltas, so the protocol keeps a local book per symbol.
type bybitProtocol struct {
	derivatives bool

	mu    sync.Mutex
	books map[string]*bybitBook
}

type bybitBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newBybitProtocol(derivatives bool) *bybitProtocol {
	return &bybitProtocol{derivatives: derivatives, books: make(map[string]*bybitBook)}
}

func (p *bybitProtocol) Exchange() domain.Exchange { return domain.ExchangeBybit }
func (p *bybitProtocol) Heartbeat() []byte         { return []byte(`{"op":"ping"}`) }

func (p *bybitProtocol) DefaultURL() string {
	if p.derivatives {
		return bybitLinearURL
	}
	return bybitSpotURL
}

func (p *bybitProtocol) topic(sub Subscription) (string, error) {
	if isPerp(sub.Symbol) != p.derivatives {
		return "", errUnsupportedChannel(p.Exchange(), sub)
	}
	sym := domain.UnderlyingSymbol(sub.Symbol)
	switch sub.Channel {
	case ChannelOrderBook:
		return fmt.Sprintf("orderbook.%d.%s", bybitBookDepth, sym), nil
	case ChannelTrades:
		return "publicTrade." + sym, nil
	case ChannelTicker:
		return "tickers." + sym, nil
	case ChannelFundingRate, ChannelMarkPrice:
		// Linear tickers carry funding and mark fields.
		if !p.derivatives {
			return "", errUnsupportedChannel(p.Exchange(), sub)
		}
		return "tickers." + sym, nil
	default:
		return "", errUnsupportedChannel(p.Exchange(), sub)
	}
}

func (p *bybitProtocol) SubscribeMessage(sub Subscription, subscribe bool) ([]byte, error) {
	topic, err := p.topic(sub)
	if err != nil {
		return nil, err
	}
	op := "subscribe"
	if !subscribe {
		op = "unsubscribe"
	}
	return json.Marshal(map[string]any{"op": op, "args": []string{topic}})
}

func (p *bybitProtocol) Decode(raw []byte) ([]Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("bybit: malformed frame")
	}
	root := gjson.ParseBytes(raw)
	if op := root.Get("op").String(); op != "" {
		if ok := root.Get("success"); ok.Exists() && !ok.Bool() {
			return nil, fmt.Errorf("bybit: %s failed: %s", op, root.Get("ret_msg").String())
		}
		return nil, nil
	}

	topic := root.Get("topic").String()
	if topic == "" {
		return nil, nil
	}
	ts := millis(root.Get("ts"))
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data := root.Get("data")

	switch {
	case strings.HasPrefix(topic, "orderbook."):
		sym := data.Get("s").String()
		book := p.applyBook(sym, root.Get("type").String() == "snapshot", data)
		book.Timestamp = ts
		return []Event{{Kind: EventOrderBook, Exchange: domain.ExchangeBybit, OrderBook: book}}, nil

	case strings.HasPrefix(topic, "publicTrade."):
		var events []Event
		for _, t := range data.Array() {
			side := domain.SideBuy
			if t.Get("S").String() == "Sell" {
				side = domain.SideSell
			}
			events = append(events, Event{Kind: EventTrade, Exchange: domain.ExchangeBybit, Trade: domain.Trade{
				Symbol: perpSymbol(t.Get("s").String(), p.derivatives), Exchange: domain.ExchangeBybit,
				Price: num(t.Get("p")), Quantity: num(t.Get("v")),
				Side: side, TradeID: t.Get("i").String(), Timestamp: millis(t.Get("T")),
			}})
		}
		return events, nil

	case strings.HasPrefix(topic, "tickers."):
		symbol := perpSymbol(data.Get("symbol").String(), p.derivatives)
		events := []Event{{Kind: EventTicker, Exchange: domain.ExchangeBybit, Ticker: domain.Ticker{
			Symbol: symbol, Exchange: domain.ExchangeBybit,
			Bid: num(data.Get("bid1Price")), Ask: num(data.Get("ask1Price")), Last: num(data.Get("lastPrice")),
			Volume: num(data.Get("volume24h")), Timestamp: ts,
		}}}
		if fr := data.Get("fundingRate"); fr.Exists() {
			events = append(events, Event{Kind: EventFundingRate, Exchange: domain.ExchangeBybit, FundingRate: domain.FundingRate{
				Symbol: symbol, Exchange: domain.ExchangeBybit,
				Rate: num(fr), NextFundingTime: millis(data.Get("nextFundingTime")), Timestamp: ts,
			}})
		}
		if mp := data.Get("markPrice"); mp.Exists() {
			events = append(events, Event{Kind: EventMarkPrice, Exchange: domain.ExchangeBybit, MarkPrice: domain.MarkPrice{
				Symbol: symbol, Exchange: domain.ExchangeBybit,
				MarkPrice: num(mp), IndexPrice: num(data.Get("indexPrice")), Timestamp: ts,
			}})
		}
		return events, nil
	}
	return nil, nil
}

// applyBook merges a snapshot or delta into the local book and returns the
// sorted result. A zero quantity removes the level.
func (p *bybitProtocol) applyBook(sym string, snapshot bool, data gjson.Result) domain.OrderBook {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.books[sym]
	if !ok || snapshot {
		b = &bybitBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
		p.books[sym] = b
	}
	merge := func(side map[float64]float64, rows []domain.PriceLevel) {
		for _, l := range rows {
			if l.Quantity == 0 {
				delete(side, l.Price)
				continue
			}
			side[l.Price] = l.Quantity
		}
	}
	merge(b.bids, levels(data.Get("b")))
	merge(b.asks, levels(data.Get("a")))

	return domain.OrderBook{
		Symbol:   perpSymbol(sym, p.derivatives),
		Exchange: domain.ExchangeBybit,
		Bids:     sortedLevels(b.bids, true),
		Asks:     sortedLevels(b.asks, false),
	}
}

func sortedLevels(side map[float64]float64, desc bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(side))
	for px, qty := range side {
		out = append(out, domain.PriceLevel{Price: px, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
