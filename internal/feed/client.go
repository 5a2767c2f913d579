// Package feed connects to exchange market-data streams and turns them into
// normalised domain events.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Handler signatures. Handlers run synchronously on the goroutine that
// produced the event and must not block or call the client's control
// methods (Connect, Disconnect, Subscribe*).
type (
	StatusHandler      func(domain.Exchange, domain.ConnectionStatus)
	ErrorHandler       func(domain.Exchange, error)
	OrderBookHandler   func(domain.OrderBook)
	TradeHandler       func(domain.Trade)
	TickerHandler      func(domain.Ticker)
	FundingRateHandler func(domain.FundingRate)
	MarkPriceHandler   func(domain.MarkPrice)
	// ReleasedHandler receives a symbol once no subscription covers it.
	ReleasedHandler func(domain.Exchange, string)
)

// ClientConfig tunes a Client. Zero values fall back to DefaultClientConfig.
type ClientConfig struct {
	URL                 string
	Derivatives         bool
	Dialer              Dialer
	DialTimeout         time.Duration
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	// SubscribeRate limits outbound subscribe/unsubscribe frames per second.
	SubscribeRate  float64
	SubscribeBurst int
}

// DefaultClientConfig returns the reconnect and throttling defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:         15 * time.Second,
		ReconnectInitial:    time.Second,
		ReconnectMax:        30 * time.Second,
		ReconnectMultiplier: 2,
		SubscribeRate:       5,
		SubscribeBurst:      10,
	}
}

// Client owns one exchange connection: its status, its desired
// subscriptions, and the reconnection loop that restores both after a
// connection loss.
type Client struct {
	proto       Protocol
	url         string
	dialer      Dialer
	dialTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu      sync.Mutex
	conn    Conn
	subs    map[Subscription]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	closing bool
	closed  bool

	// dialMu serialises connection attempts.
	dialMu     sync.Mutex
	shutdownMu sync.Mutex

	status        atomic.Int32
	autoReconnect atomic.Bool
	reconnecting  atomic.Bool

	boMu sync.Mutex
	bo   backoff.Backoff

	handlerMu         sync.RWMutex
	statusHandlers    []StatusHandler
	errorHandlers     []ErrorHandler
	orderBookHandlers []OrderBookHandler
	tradeHandlers     []TradeHandler
	tickerHandlers    []TickerHandler
	fundingHandlers   []FundingRateHandler
	markPriceHandlers []MarkPriceHandler
	releasedHandlers  []ReleasedHandler

	// after is the reconnect clock; replaced in tests.
	after func(time.Duration) <-chan time.Time
	wg    sync.WaitGroup
}

// New returns a disconnected client speaking proto. Auto-reconnect is on.
func New(proto Protocol, cfg ClientConfig, logger *slog.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.URL == "" {
		cfg.URL = proto.DefaultURL()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWSDialer(proto.Heartbeat())
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = def.ReconnectInitial
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = max(def.ReconnectMax, cfg.ReconnectInitial)
	}
	if cfg.ReconnectMultiplier < 1 {
		cfg.ReconnectMultiplier = def.ReconnectMultiplier
	}
	if cfg.SubscribeRate <= 0 {
		cfg.SubscribeRate = def.SubscribeRate
	}
	if cfg.SubscribeBurst <= 0 {
		cfg.SubscribeBurst = def.SubscribeBurst
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		proto:       proto,
		url:         cfg.URL,
		dialer:      cfg.Dialer,
		dialTimeout: cfg.DialTimeout,
		limiter:     rate.NewLimiter(rate.Limit(cfg.SubscribeRate), cfg.SubscribeBurst),
		logger: logger.With(
			slog.String("component", "feed"),
			slog.String("exchange", proto.Exchange().String()),
		),
		subs:   make(map[Subscription]struct{}),
		ctx:    ctx,
		cancel: cancel,
		bo: backoff.Backoff{
			Min:    cfg.ReconnectInitial,
			Max:    cfg.ReconnectMax,
			Factor: cfg.ReconnectMultiplier,
		},
		after: time.After,
	}
	c.autoReconnect.Store(true)
	return c
}

// NewClient builds a client for a supported exchange. Unsupported exchanges
// return ErrUnsupportedExchange.
func NewClient(exchange domain.Exchange, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	proto, err := NewProtocol(exchange, cfg.Derivatives)
	if err != nil {
		return nil, err
	}
	return New(proto, cfg, logger), nil
}

// Exchange returns the venue this client streams from.
func (c *Client) Exchange() domain.Exchange { return c.proto.Exchange() }

// URL returns the endpoint the client dials.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() domain.ConnectionStatus {
	return domain.ConnectionStatus(c.status.Load())
}

// SetAutoReconnect enables or disables reconnection after a failure. It does
// not stop a loop that is already running.
func (c *Client) SetAutoReconnect(enabled bool) { c.autoReconnect.Store(enabled) }

// Reconnecting reports whether the reconnection loop is active.
func (c *Client) Reconnecting() bool { return c.reconnecting.Load() }

// Connect dials the exchange and replays the desired subscriptions. It is a
// no-op when already connected. A failure moves the client to ERROR and, with
// auto-reconnect enabled, starts the reconnection loop; the error is still
// returned to the caller. While a loop is already running it keeps ownership
// of the status, which returns to RECONNECTING.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == domain.StatusConnected {
		return nil
	}

	c.dialMu.Lock()
	gen, err := c.attemptLocked(ctx, false)
	failed := err != nil && !errors.Is(err, domain.ErrClientClosed)
	loopActive := c.reconnecting.Load()
	if failed {
		c.emitError(err)
		c.setStatus(domain.StatusError)
		if loopActive {
			c.setStatus(domain.StatusReconnecting)
		}
	}
	c.dialMu.Unlock()

	if failed && !loopActive && c.autoReconnect.Load() {
		c.startReconnection(gen)
	}
	return err
}

// attemptLocked performs CONNECTING -> CONNECTED. The caller holds dialMu.
// It returns the lifecycle generation the attempt belonged to. Only the
// reconnection loop (fromLoop) may clear the reconnecting flag, and it does
// so before the new connection can be lost again.
func (c *Client) attemptLocked(ctx context.Context, fromLoop bool) (uint64, error) {
	c.mu.Lock()
	if c.closing || c.closed {
		c.mu.Unlock()
		return 0, domain.ErrClientClosed
	}
	runCtx, gen := c.ctx, c.gen
	c.mu.Unlock()

	if c.Status() == domain.StatusConnected {
		if fromLoop {
			c.reconnecting.Store(false)
		}
		return gen, nil
	}
	c.setStatus(domain.StatusConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	stop := context.AfterFunc(runCtx, cancel)
	conn, err := c.dialer.Dial(dialCtx, c.url)
	stop()
	cancel()
	if err != nil {
		if runCtx.Err() != nil {
			return gen, domain.ErrClientClosed
		}
		return gen, fmt.Errorf("%s: %w: %v", c.Exchange(), domain.ErrConnection, err)
	}

	c.mu.Lock()
	if c.closing || c.closed || c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return gen, domain.ErrClientClosed
	}
	// Publish the conn before replaying so concurrent Subscribe calls send
	// on it directly instead of racing the replay snapshot.
	c.conn = conn
	subs := c.subscriptionsLocked()
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.send(runCtx, conn, sub, true); err != nil {
			c.dropConn(conn)
			return gen, fmt.Errorf("%s: %w: replay %s: %v", c.Exchange(), domain.ErrConnection, sub, err)
		}
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		_ = conn.Close()
		return gen, domain.ErrClientClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.resetBackoff()
	if fromLoop {
		c.reconnecting.Store(false)
	}
	c.setStatus(domain.StatusConnected)
	c.logger.Info("feed connected", slog.String("url", c.url), slog.Int("subscriptions", len(subs)))

	go c.readLoop(conn, gen)
	return gen, nil
}

// dropConn clears conn if it is still current and closes it.
func (c *Client) dropConn(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	defer c.wg.Done()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.connLost(conn, gen, err)
			return
		}
		events, err := c.proto.Decode(raw)
		if err != nil {
			c.emitError(err)
			continue
		}
		for i := range events {
			c.dispatch(&events[i])
		}
	}
}

// connLost handles a read failure on conn. Failures on a conn that was
// already replaced or shut down are ignored.
func (c *Client) connLost(conn Conn, gen uint64, cause error) {
	c.mu.Lock()
	if c.conn != conn || c.closing || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()

	err := fmt.Errorf("%s: %w: %v", c.Exchange(), domain.ErrConnection, cause)
	c.logger.Warn("feed connection lost", slog.String("error", cause.Error()))
	c.emitError(err)

	// A loop left over from before a manual Connect is still sleeping; it
	// owns the retry, so no second loop is started.
	c.dialMu.Lock()
	c.setStatus(domain.StatusError)
	loopActive := c.reconnecting.Load()
	if loopActive {
		c.setStatus(domain.StatusReconnecting)
	}
	c.dialMu.Unlock()

	if !loopActive && c.autoReconnect.Load() {
		c.startReconnection(gen)
	}
}

// Disconnect closes the connection and stops any reconnection loop, waiting
// for background goroutines to exit. The desired subscriptions are kept and
// replayed by the next Connect.
func (c *Client) Disconnect() {
	c.shutdown(false)
}

// Close disconnects permanently. Further Connect calls return
// ErrClientClosed.
func (c *Client) Close() error {
	c.shutdown(true)
	return nil
}

func (c *Client) shutdown(final bool) {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.closed = final
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	// Let a caller-driven attempt observe the shutdown before reopening.
	c.dialMu.Lock()
	c.mu.Lock()
	c.gen++
	if !final {
		c.closing = false
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()
	c.reconnecting.Store(false)
	c.setStatus(domain.StatusDisconnected)
	c.dialMu.Unlock()

	c.logger.Info("feed disconnected", slog.Bool("closed", final))
}

// setStatus stores s and notifies status handlers when it changed.
func (c *Client) setStatus(s domain.ConnectionStatus) {
	prev := domain.ConnectionStatus(c.status.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Debug("feed status", slog.String("from", prev.String()), slog.String("to", s.String()))

	c.handlerMu.RLock()
	handlers := c.statusHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(c.Exchange(), s)
	}
}

func (c *Client) emitError(err error) {
	c.handlerMu.RLock()
	handlers := c.errorHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(c.Exchange(), err)
	}
}

func (c *Client) dispatch(ev *Event) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()

	switch ev.Kind {
	case EventOrderBook:
		for _, h := range c.orderBookHandlers {
			h(ev.OrderBook)
		}
	case EventTrade:
		for _, h := range c.tradeHandlers {
			h(ev.Trade)
		}
	case EventTicker:
		for _, h := range c.tickerHandlers {
			h(ev.Ticker)
		}
	case EventFundingRate:
		for _, h := range c.fundingHandlers {
			h(ev.FundingRate)
		}
	case EventMarkPrice:
		for _, h := range c.markPriceHandlers {
			h(ev.MarkPrice)
		}
	}
}

// OnStatus registers a connection-status handler.
func (c *Client) OnStatus(h StatusHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.statusHandlers = append(c.statusHandlers, h)
}

// OnError registers an error handler. Connection failures, rejected frames
// and decode errors are reported here.
func (c *Client) OnError(h ErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.errorHandlers = append(c.errorHandlers, h)
}

func (c *Client) OnOrderBook(h OrderBookHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.orderBookHandlers = append(c.orderBookHandlers, h)
}

func (c *Client) OnTrade(h TradeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tradeHandlers = append(c.tradeHandlers, h)
}

func (c *Client) OnTicker(h TickerHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tickerHandlers = append(c.tickerHandlers, h)
}

func (c *Client) OnFundingRate(h FundingRateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.fundingHandlers = append(c.fundingHandlers, h)
}

func (c *Client) OnMarkPrice(h MarkPriceHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.markPriceHandlers = append(c.markPriceHandlers, h)
}

// OnReleased registers a handler called when an unsubscribe leaves a symbol
// with no channels.
func (c *Client) OnReleased(h ReleasedHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.releasedHandlers = append(c.releasedHandlers, h)
}

func (c *Client) emitReleased(symbol string) {
	c.handlerMu.RLock()
	handlers := c.releasedHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(c.Exchange(), symbol)
	}
}
