package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// newTestClient connects to SYNTHARB_TEST_REDIS_ADDR, skipping the test when
// it is unset. Each test gets its own key prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("SYNTHARB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SYNTHARB_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, Prefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Key(t *testing.T) {
	c := &Client{prefix: "syntharb:"}
	assert.Equal(t, "syntharb:md:index", c.Key("md:index"))
	assert.Equal(t, "syntharb:history:opportunities", c.Key("history", "opportunities"))
	assert.Equal(t, "binance:BTCUSDT", pointMember(domain.ExchangeBinance, "BTCUSDT"))
}

func TestDecodePoint_FillsKeyFromMember(t *testing.T) {
	p, err := decodePoint("okx:ETHUSDT", []byte(`{"last":3000}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeOKX, p.Exchange)
	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.Equal(t, 3000.0, p.Last)

	_, err = decodePoint("okx:ETHUSDT", []byte(`{`))
	assert.Error(t, err)
}

func TestMarketCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMarketCache(newTestClient(t), time.Minute)
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := mc.GetPoint(ctx, domain.ExchangeBinance, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := domain.MarketDataPoint{Symbol: "BTCUSDT", Exchange: domain.ExchangeBinance, Timestamp: now, Last: 50000}
	require.NoError(t, mc.SetPoint(ctx, p))

	older := p
	older.Timestamp, older.Last = now.Add(-time.Second), 1
	require.NoError(t, mc.SetPoint(ctx, older))

	got, err := mc.GetPoint(ctx, domain.ExchangeBinance, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Last)

	snap, err := mc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	require.NoError(t, mc.Invalidate(ctx, domain.ExchangeBinance, "BTCUSDT"))
	snap, err = mc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSignalBus_PublishSubscribeAndStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := NewSignalBus(newTestClient(t))

	ch, err := bus.Subscribe(ctx, domain.ChannelOpportunities)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunities, []byte(`[]`)))
	select {
	case msg := <-ch:
		assert.Equal(t, []byte(`[]`), msg)
	case <-ctx.Done():
		t.Fatal("no message")
	}

	require.NoError(t, bus.StreamAppend(ctx, domain.ChannelOpportunities, []byte(`a`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.ChannelOpportunities, []byte(`b`)))
	msgs, err := bus.StreamRead(ctx, domain.ChannelOpportunities, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte(`b`), msgs[1].Payload)
	assert.False(t, msgs[1].PublishedAt.IsZero())

	rest, err := bus.StreamRead(ctx, domain.ChannelOpportunities, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, msgs[1].ID, rest[0].ID)
}

func TestStreamEntryFields(t *testing.T) {
	data, ok := entryData(map[string]any{fieldData: "x"})
	require.True(t, ok)
	assert.Equal(t, []byte("x"), data)
	data, ok = entryData(map[string]any{fieldData: []byte("y")})
	require.True(t, ok)
	assert.Equal(t, []byte("y"), data)
	_, ok = entryData(map[string]any{"payload": "z"})
	assert.False(t, ok)

	assert.Equal(t, int64(1700000000123), entryTime(map[string]any{fieldTS: "1700000000123"}).UnixMilli())
	assert.True(t, entryTime(map[string]any{}).IsZero())
}

func TestWithStreamMaxLen(t *testing.T) {
	c := &Client{prefix: "p:"}
	assert.Equal(t, int64(500), NewSignalBus(c, WithStreamMaxLen(500)).maxLen)
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(c, WithStreamMaxLen(0)).maxLen)
}
