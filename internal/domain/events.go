package domain

import "time"

// PriceLevel is one level of an order book.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot normalised from an exchange feed.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Exchange  Exchange     `json:"exchange"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the top bid price, or 0 for an empty side.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 for an empty side.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Side is the aggressor side of a trade or the direction of a leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a single public execution.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      Side      `json:"side"`
	TradeID   string    `json:"trade_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticker is a rolling top-of-book summary.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// FundingRate is the current funding rate of a perpetual swap.
type FundingRate struct {
	Symbol          string    `json:"symbol"`
	Exchange        Exchange  `json:"exchange"`
	Rate            float64   `json:"rate"`
	NextFundingTime time.Time `json:"next_funding_time"`
	Timestamp       time.Time `json:"timestamp"`
}

// MarkPrice is the exchange's mark (and optional index) price.
type MarkPrice struct {
	Symbol     string    `json:"symbol"`
	Exchange   Exchange  `json:"exchange"`
	MarkPrice  float64   `json:"mark_price"`
	IndexPrice float64   `json:"index_price"`
	Timestamp  time.Time `json:"timestamp"`
}
