package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// fakeConn is an in-memory Conn. Frames pushed to reads are returned by
// ReadMessage; Close makes ReadMessage fail like a dropped socket.
type fakeConn struct {
	reads chan []byte

	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.reads:
		return m, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// fakeDialer fails the next `fails` dials, then hands out fresh fakeConns.
type fakeDialer struct {
	mu     sync.Mutex
	fails  int
	always bool
	dials  int
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.always || d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []domain.ConnectionStatus
}

func (r *statusRecorder) record(_ domain.Exchange, s domain.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []domain.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionStatus(nil), r.statuses...)
}

// clock records reconnect delays. With block set, the delay never elapses.
type clock struct {
	mu     sync.Mutex
	delays []time.Duration
	block  bool
}

func (c *clock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	if !c.block {
		ch <- time.Now()
	}
	return ch
}

func (c *clock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, d *fakeDialer, clk *clock) (*Client, *statusRecorder) {
	t.Helper()
	c := New(newBinanceProtocol(false), ClientConfig{Dialer: d}, testLogger())
	c.after = clk.after
	rec := &statusRecorder{}
	c.OnStatus(rec.record)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

func waitStatus(t *testing.T, c *Client, want domain.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, time.Millisecond,
		"status never reached %s (now %s)", want, c.Status())
}

func TestClient_ConnectSucceeds(t *testing.T) {
	d := &fakeDialer{}
	c, rec := newTestClient(t, d, &clock{})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, domain.StatusConnected, c.Status())
	assert.Equal(t, 1, d.dialCount(), "second Connect must be a no-op")
	assert.Equal(t, []domain.ConnectionStatus{domain.StatusConnecting, domain.StatusConnected}, rec.all())
}

func TestClient_ConnectFailureDrivesReconnect(t *testing.T) {
	d := &fakeDialer{fails: 1}
	c, rec := newTestClient(t, d, &clock{})
	var errs []error
	var errMu sync.Mutex
	c.OnError(func(_ domain.Exchange, err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	})

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrConnection)

	waitStatus(t, c, domain.StatusConnected)
	assert.Equal(t, []domain.ConnectionStatus{
		domain.StatusConnecting,
		domain.StatusError,
		domain.StatusReconnecting,
		domain.StatusConnecting,
		domain.StatusConnected,
	}, rec.all())
	errMu.Lock()
	assert.Len(t, errs, 1)
	errMu.Unlock()
}

func TestClient_ConnectFailureWithoutAutoReconnect(t *testing.T) {
	d := &fakeDialer{fails: 1}
	clk := &clock{}
	c, rec := newTestClient(t, d, clk)
	c.SetAutoReconnect(false)

	require.ErrorIs(t, c.Connect(context.Background()), domain.ErrConnection)

	assert.Equal(t, domain.StatusError, c.Status())
	assert.False(t, c.Reconnecting())
	assert.Empty(t, clk.recorded())
	assert.Equal(t, []domain.ConnectionStatus{domain.StatusConnecting, domain.StatusError}, rec.all())
}

func TestClient_BackoffSequenceAndReset(t *testing.T) {
	// Arrange: the initial connect plus six reconnect attempts fail.
	d := &fakeDialer{fails: 7}
	clk := &clock{}
	c, _ := newTestClient(t, d, clk)
	require.NoError(t, c.SetReconnectParameters(time.Second, 30*time.Second, 2.0))

	// Act
	_ = c.Connect(context.Background())
	waitStatus(t, c, domain.StatusConnected)

	// Assert
	s := time.Second
	assert.Equal(t, []time.Duration{1 * s, 2 * s, 4 * s, 8 * s, 16 * s, 30 * s, 30 * s}, clk.recorded())

	// A later connection loss starts again from the initial delay.
	d.conn(0).Close()
	require.Eventually(t, func() bool { return d.connCount() == 2 && c.Status() == domain.StatusConnected },
		2*time.Second, time.Millisecond)
	delays := clk.recorded()
	assert.Equal(t, 1*s, delays[len(delays)-1])
}

func TestClient_ConnectionLossFollowsStateMachine(t *testing.T) {
	d := &fakeDialer{}
	c, rec := newTestClient(t, d, &clock{})
	require.NoError(t, c.Connect(context.Background()))

	d.conn(0).Close()
	require.Eventually(t, func() bool { return d.connCount() == 2 && c.Status() == domain.StatusConnected },
		2*time.Second, time.Millisecond)

	assert.Equal(t, []domain.ConnectionStatus{
		domain.StatusConnecting,
		domain.StatusConnected,
		domain.StatusError,
		domain.StatusReconnecting,
		domain.StatusConnecting,
		domain.StatusConnected,
	}, rec.all())
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeOrderBook("btcusdt"))
	require.Len(t, d.conn(0).written(), 1)

	d.conn(0).Close()
	require.Eventually(t, func() bool { return d.connCount() == 2 && c.Status() == domain.StatusConnected },
		2*time.Second, time.Millisecond)

	replayed := d.conn(1).written()
	require.Len(t, replayed, 1)
	assert.Contains(t, replayed[0], `"SUBSCRIBE"`)
	assert.Contains(t, replayed[0], "btcusdt@depth5@100ms")
}

func TestClient_SubscribeWhileDisconnectedIsKept(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})

	require.NoError(t, c.SubscribeTrades("ETHUSDT"))
	require.NoError(t, c.SubscribeTicker("ETHUSDT"))

	assert.Equal(t, 0, d.dialCount())
	assert.Equal(t, domain.StatusDisconnected, c.Status())
	assert.Equal(t, []Subscription{
		{Channel: ChannelTicker, Symbol: "ETHUSDT"},
		{Channel: ChannelTrades, Symbol: "ETHUSDT"},
	}, c.Subscriptions())

	require.NoError(t, c.Connect(context.Background()))
	assert.Len(t, d.conn(0).written(), 2)
}

func TestClient_SubscribeRejectsInvalid(t *testing.T) {
	c, _ := newTestClient(t, &fakeDialer{}, &clock{})

	assert.ErrorIs(t, c.SubscribeOrderBook("  "), domain.ErrSubscription)
	// Spot streams carry no funding data.
	assert.ErrorIs(t, c.SubscribeFundingRate("BTCUSDT"), domain.ErrSubscription)
	assert.ErrorIs(t, c.UnsubscribeTrades("BTCUSDT"), domain.ErrSubscription)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_SubscribeSendFailureIsReported(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})
	require.NoError(t, c.Connect(context.Background()))

	conn := d.conn(0)
	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	err := c.SubscribeOrderBook("BTCUSDT")
	require.ErrorIs(t, err, domain.ErrSubscription)
	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, domain.StatusConnected, c.Status(), "subscription failures do not change status")
}

func TestClient_UnsubscribeSendsAndForgets(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeOrderBook("BTCUSDT"))

	require.NoError(t, c.UnsubscribeOrderBook("BTCUSDT"))

	writes := d.conn(0).written()
	require.Len(t, writes, 2)
	assert.Contains(t, writes[1], `"UNSUBSCRIBE"`)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_ReleasesSymbolAfterLastChannel(t *testing.T) {
	c, _ := newTestClient(t, &fakeDialer{}, &clock{})
	var released []string
	c.OnReleased(func(_ domain.Exchange, symbol string) { released = append(released, symbol) })
	require.NoError(t, c.SubscribeOrderBook("BTCUSDT"))
	require.NoError(t, c.SubscribeTrades("btcusdt"))

	require.NoError(t, c.UnsubscribeOrderBook("BTCUSDT"))
	assert.Empty(t, released, "trades still cover the symbol")

	require.NoError(t, c.UnsubscribeTrades("BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, released)
}

func TestClient_DisconnectCancelsReconnectLoop(t *testing.T) {
	d := &fakeDialer{always: true}
	clk := &clock{block: true}
	c, _ := newTestClient(t, d, clk)
	require.NoError(t, c.SubscribeTicker("BTCUSDT"))

	_ = c.Connect(context.Background())
	require.True(t, c.Reconnecting())
	assert.Equal(t, domain.StatusReconnecting, c.Status())

	c.Disconnect()

	assert.False(t, c.Reconnecting())
	assert.Equal(t, domain.StatusDisconnected, c.Status())
	assert.Equal(t, 1, d.dialCount())
	assert.Len(t, c.Subscriptions(), 1, "disconnect keeps the desired subscriptions")
}

func TestClient_DisconnectThenReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})
	require.NoError(t, c.SubscribeOrderBook("BTCUSDT"))
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	assert.Equal(t, domain.StatusDisconnected, c.Status())

	// The closed socket must not trigger a reconnect on its own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, domain.StatusConnected, c.Status())
	assert.Len(t, d.conn(1).written(), 1)
}

func TestClient_SingleReconnectLoop(t *testing.T) {
	d := &fakeDialer{always: true}
	clk := &clock{block: true}
	c, _ := newTestClient(t, d, clk)

	_ = c.Connect(context.Background())
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.startReconnection(gen)
	c.startReconnection(gen)

	require.Eventually(t, func() bool { return len(clk.recorded()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, clk.recorded(), 1, "only one loop may wait on the backoff clock")
}

func TestClient_ManualConnectDuringBackoffKeepsOneLoop(t *testing.T) {
	d := &fakeDialer{fails: 1}
	clk := &clock{block: true}
	c, rec := newTestClient(t, d, clk)

	// The failed dial leaves a loop asleep on the backoff clock.
	require.Error(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(clk.recorded()) == 1 }, time.Second, time.Millisecond)

	// An operator connect wins the race with the sleeping loop.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, domain.StatusConnected, c.Status())
	assert.True(t, c.Reconnecting(), "the sleeping loop still owns the reconnect")

	d.conn(0).Close()
	waitStatus(t, c, domain.StatusReconnecting)
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, clk.recorded(), 1, "only one loop may wait on the backoff clock")
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, []domain.ConnectionStatus{
		domain.StatusConnecting,
		domain.StatusError,
		domain.StatusReconnecting,
		domain.StatusConnecting,
		domain.StatusConnected,
		domain.StatusError,
		domain.StatusReconnecting,
	}, rec.all())
}

func TestClient_FailedConnectWhileLoopRunsReturnsToReconnecting(t *testing.T) {
	d := &fakeDialer{always: true}
	clk := &clock{block: true}
	c, rec := newTestClient(t, d, clk)

	require.Error(t, c.Connect(context.Background()))
	require.Error(t, c.Connect(context.Background()))

	assert.Equal(t, domain.StatusReconnecting, c.Status())
	require.Eventually(t, func() bool { return len(clk.recorded()) == 1 }, time.Second, time.Millisecond)
	statuses := rec.all()
	for i := 1; i < len(statuses); i++ {
		if statuses[i-1] == domain.StatusError {
			assert.NotEqual(t, domain.StatusConnecting, statuses[i], "ERROR must not jump to CONNECTING: %v", statuses)
		}
	}
}

func TestClient_CloseIsFinal(t *testing.T) {
	c, _ := newTestClient(t, &fakeDialer{}, &clock{})
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Connect(context.Background()), domain.ErrClientClosed)
	assert.ErrorIs(t, c.SubscribeTicker("BTCUSDT"), domain.ErrClientClosed)
	require.NoError(t, c.Close())
}

func TestClient_DispatchesDecodedEvents(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &clock{})
	got := make(chan domain.Ticker, 1)
	c.OnTicker(func(tk domain.Ticker) { got <- tk })
	require.NoError(t, c.Connect(context.Background()))

	d.conn(0).reads <- []byte(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"50000.10","b":"50000.00","a":"50000.20","v":"1234.5"}}`)

	select {
	case tk := <-got:
		assert.Equal(t, "BTCUSDT", tk.Symbol)
		assert.Equal(t, domain.ExchangeBinance, tk.Exchange)
		assert.InDelta(t, 50000.10, tk.Last, 1e-9)
		assert.InDelta(t, 50000.00, tk.Bid, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker not dispatched")
	}
}

func TestClient_SetReconnectParametersValidates(t *testing.T) {
	c, _ := newTestClient(t, &fakeDialer{}, &clock{})

	assert.Error(t, c.SetReconnectParameters(0, time.Second, 2))
	assert.Error(t, c.SetReconnectParameters(2*time.Second, time.Second, 2))
	assert.Error(t, c.SetReconnectParameters(time.Second, time.Second, 0.5))
	require.NoError(t, c.SetReconnectParameters(500*time.Millisecond, 5*time.Second, 1.5))

	assert.Equal(t, 500*time.Millisecond, c.nextDelay())
	assert.Equal(t, 750*time.Millisecond, c.nextDelay())
}

func TestNewClient_Factory(t *testing.T) {
	for _, ex := range domain.Exchanges() {
		c, err := NewClient(ex, ClientConfig{}, testLogger())
		require.NoError(t, err, ex)
		assert.Equal(t, ex, c.Exchange())
		assert.NotEmpty(t, c.URL())
	}

	_, err := NewClient(domain.Exchange("kraken"), ClientConfig{}, testLogger())
	assert.ErrorIs(t, err, domain.ErrUnsupportedExchange)
}
