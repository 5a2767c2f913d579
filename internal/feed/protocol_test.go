package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

func TestBinance_DecodeSpotDepth(t *testing.T) {
	p := newBinanceProtocol(false)

	events, err := p.Decode([]byte(`{"stream":"btcusdt@depth5@100ms","data":{"lastUpdateId":1,"bids":[["50000.00","1.5"],["49999.00","2"]],"asks":[["50001.00","0.5"]]}}`))

	require.NoError(t, err)
	require.Len(t, events, 1)
	book := events[0].OrderBook
	assert.Equal(t, EventOrderBook, events[0].Kind)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Equal(t, 50000.0, book.BestBid())
	assert.Equal(t, 50001.0, book.BestAsk())
	assert.Len(t, book.Bids, 2)
}

func TestBinance_DecodeMarkPriceEmitsFunding(t *testing.T) {
	p := newBinanceProtocol(true)

	events, err := p.Decode([]byte(`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"50010.5","i":"50001.2","r":"0.00010000","T":1700006400000}}`))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "BTCUSDT-PERP", events[0].MarkPrice.Symbol)
	assert.Equal(t, 50010.5, events[0].MarkPrice.MarkPrice)
	assert.Equal(t, EventFundingRate, events[1].Kind)
	assert.InDelta(t, 0.0001, events[1].FundingRate.Rate, 1e-12)
	assert.False(t, events[1].FundingRate.NextFundingTime.IsZero())
}

func TestBinance_DecodeTradeSide(t *testing.T) {
	p := newBinanceProtocol(false)

	events, err := p.Decode([]byte(`{"stream":"ethusdt@trade","data":{"e":"trade","E":1,"s":"ETHUSDT","t":42,"p":"3000.5","q":"0.2","T":1700000000000,"m":true}}`))

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SideSell, events[0].Trade.Side)
	assert.Equal(t, "42", events[0].Trade.TradeID)
}

func TestBinance_ControlAndMalformedFrames(t *testing.T) {
	p := newBinanceProtocol(false)

	events, err := p.Decode([]byte(`{"result":null,"id":1}`))
	assert.NoError(t, err)
	assert.Empty(t, events)

	_, err = p.Decode([]byte(`{"stream":`))
	assert.Error(t, err)

	_, err = p.Decode([]byte(`{"code":2,"msg":"Invalid request"}`))
	assert.Error(t, err)
}

func TestBinance_SubscribeMessage(t *testing.T) {
	p := newBinanceProtocol(true)

	msg, err := p.SubscribeMessage(Subscription{Channel: ChannelTrades, Symbol: "BTCUSDT-PERP"}, true)
	require.NoError(t, err)
	assert.Equal(t, "SUBSCRIBE", gjson.GetBytes(msg, "method").String())
	assert.Equal(t, "btcusdt@aggTrade", gjson.GetBytes(msg, "params.0").String())

	_, err = p.SubscribeMessage(Subscription{Channel: ChannelTrades, Symbol: "BTCUSDT"}, true)
	assert.Error(t, err, "spot symbol on the futures stream")
}

func TestOKX_SymbolMapping(t *testing.T) {
	id, ok := okxInstID("BTCUSDT-PERP")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SWAP", id)

	id, ok = okxInstID("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, "ETH-USDT", id)

	assert.Equal(t, "BTCUSDT-PERP", okxSymbol("BTC-USDT-SWAP"))
	assert.Equal(t, "ETHUSDT", okxSymbol("ETH-USDT"))
}

func TestOKX_DecodeChannels(t *testing.T) {
	p := newOKXProtocol()

	events, err := p.Decode([]byte(`{"arg":{"channel":"books5","instId":"BTC-USDT"},"data":[{"asks":[["50001","1","0","1"]],"bids":[["50000","2","0","1"]],"ts":"1700000000000"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "BTCUSDT", events[0].OrderBook.Symbol)
	assert.Equal(t, 50000.0, events[0].OrderBook.BestBid())

	events, err = p.Decode([]byte(`{"arg":{"channel":"funding-rate","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","fundingRate":"-0.0002","nextFundingTime":"1700006400000","ts":"1700000000000"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "BTCUSDT-PERP", events[0].FundingRate.Symbol)
	assert.InDelta(t, -0.0002, events[0].FundingRate.Rate, 1e-12)

	events, err = p.Decode([]byte("pong"))
	assert.NoError(t, err)
	assert.Empty(t, events)

	_, err = p.Decode([]byte(`{"event":"error","msg":"bad instId","code":"60018"}`))
	assert.Error(t, err)
}

func TestOKX_SubscribeMessage(t *testing.T) {
	p := newOKXProtocol()

	msg, err := p.SubscribeMessage(Subscription{Channel: ChannelFundingRate, Symbol: "ETHUSDT-PERP"}, true)
	require.NoError(t, err)
	assert.Equal(t, "subscribe", gjson.GetBytes(msg, "op").String())
	assert.Equal(t, "funding-rate", gjson.GetBytes(msg, "args.0.channel").String())
	assert.Equal(t, "ETH-USDT-SWAP", gjson.GetBytes(msg, "args.0.instId").String())

	_, err = p.SubscribeMessage(Subscription{Channel: ChannelFundingRate, Symbol: "ETHUSDT"}, true)
	assert.Error(t, err)
}

func TestBybit_OrderBookSnapshotAndDelta(t *testing.T) {
	p := newBybitProtocol(false)

	_, err := p.Decode([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["50000","1"],["49990","2"]],"a":[["50010","1"]],"u":1}}`))
	require.NoError(t, err)

	events, err := p.Decode([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,"data":{"s":"BTCUSDT","b":[["50000","0"],["50005","3"]],"a":[],"u":2}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	book := events[0].OrderBook
	assert.Equal(t, 50005.0, book.BestBid())
	assert.Equal(t, 50010.0, book.BestAsk())
	assert.Equal(t, []domain.PriceLevel{{Price: 50005, Quantity: 3}, {Price: 49990, Quantity: 2}}, book.Bids)
}

func TestBybit_LinearTickerCarriesFundingAndMark(t *testing.T) {
	p := newBybitProtocol(true)

	events, err := p.Decode([]byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT","lastPrice":"50020.0","markPrice":"50018.5","indexPrice":"50000.1","fundingRate":"0.0001","nextFundingTime":"1700006400000","bid1Price":"50019.5","ask1Price":"50020.5","volume24h":"1000"}}`))

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "BTCUSDT-PERP", events[0].Ticker.Symbol)
	assert.Equal(t, 50020.0, events[0].Ticker.Last)
	assert.InDelta(t, 0.0001, events[1].FundingRate.Rate, 1e-12)
	assert.Equal(t, 50018.5, events[2].MarkPrice.MarkPrice)
}

func TestBybit_SubscribeAck(t *testing.T) {
	p := newBybitProtocol(false)

	events, err := p.Decode([]byte(`{"success":true,"ret_msg":"","op":"subscribe","conn_id":"x"}`))
	assert.NoError(t, err)
	assert.Empty(t, events)

	_, err = p.Decode([]byte(`{"success":false,"ret_msg":"error:handler not found","op":"subscribe"}`))
	assert.Error(t, err)
}

func TestNum_ParsesStringsAndNumbers(t *testing.T) {
	assert.Equal(t, 0.1, num(gjson.Parse(`"0.10000000"`)))
	assert.Equal(t, 12.5, num(gjson.Parse(`12.5`)))
	assert.Equal(t, 0.0, num(gjson.Parse(`"abc"`)))
	assert.Equal(t, 0.0, num(gjson.Parse(`""`)))
}
