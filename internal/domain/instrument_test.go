package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstrumentSpec(t *testing.T) {
	s, err := NewInstrumentSpec(" btcusdt-perp ", InstrumentPerpetualSwap, ExchangeOKX)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT-PERP", s.Symbol)
	assert.Equal(t, "BTCUSDT", s.Underlying())
	assert.Equal(t, InstrumentID("okx:BTCUSDT-PERP"), s.ID())

	_, err = NewInstrumentSpec("", InstrumentSpot, ExchangeOKX)
	assert.Error(t, err)
	_, err = NewInstrumentSpec("BTCUSDT", InstrumentSpot, Exchange("kraken"))
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
}

func TestParseExchange(t *testing.T) {
	ex, err := ParseExchange("Binance")
	require.NoError(t, err)
	assert.Equal(t, ExchangeBinance, ex)

	_, err = ParseExchange("kraken")
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
}

func TestParseInstrumentType(t *testing.T) {
	for in, want := range map[string]InstrumentType{
		"spot": InstrumentSpot, "PERP": InstrumentPerpetualSwap, "perpetual_swap": InstrumentPerpetualSwap,
	} {
		got, err := ParseInstrumentType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseInstrumentType("option")
	assert.Error(t, err)
}

func TestQuoteCurrency(t *testing.T) {
	assert.Equal(t, "USDT", QuoteCurrency("BTCUSDT-PERP"))
	assert.Equal(t, "USDC", QuoteCurrency("ETHUSDC"))
	assert.Equal(t, "", QuoteCurrency("XYZ"))
	assert.Equal(t, "BTCUSDT-PERP", PerpSymbol("BTCUSDT"))
	assert.Equal(t, "BTCUSDT-PERP", PerpSymbol("BTCUSDT-PERP"))
}

func TestOpportunity_NetExposure(t *testing.T) {
	o := Opportunity{Legs: []Leg{
		{Action: SideBuy, Price: 100, Quantity: 50},
		{Action: SideSell, Price: 101, Quantity: 50},
	}}
	assert.InDelta(t, -50, o.NetExposure(), 1e-9)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "RECONNECTING", StatusReconnecting.String())
	b, err := StatusError.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ERROR", string(b))
}

func TestInstrumentID_Split(t *testing.T) {
	ex, sym, err := NewInstrumentID(ExchangeOKX, "BTCUSDT-PERP").Split()
	require.NoError(t, err)
	assert.Equal(t, ExchangeOKX, ex)
	assert.Equal(t, "BTCUSDT-PERP", sym)

	_, _, err = InstrumentID("BTCUSDT").Split()
	assert.Error(t, err)
	_, _, err = InstrumentID("kraken:BTCUSDT").Split()
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
}
