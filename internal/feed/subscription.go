package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

func (c *Client) SubscribeOrderBook(symbol string) error {
	return c.subscribe(Subscription{Channel: ChannelOrderBook, Symbol: symbol})
}

func (c *Client) SubscribeTrades(symbol string) error {
	return c.subscribe(Subscription{Channel: ChannelTrades, Symbol: symbol})
}

func (c *Client) SubscribeTicker(symbol string) error {
	return c.subscribe(Subscription{Channel: ChannelTicker, Symbol: symbol})
}

func (c *Client) SubscribeFundingRate(symbol string) error {
	return c.subscribe(Subscription{Channel: ChannelFundingRate, Symbol: symbol})
}

func (c *Client) SubscribeMarkPrice(symbol string) error {
	return c.subscribe(Subscription{Channel: ChannelMarkPrice, Symbol: symbol})
}

func (c *Client) UnsubscribeOrderBook(symbol string) error {
	return c.unsubscribe(Subscription{Channel: ChannelOrderBook, Symbol: symbol})
}

func (c *Client) UnsubscribeTrades(symbol string) error {
	return c.unsubscribe(Subscription{Channel: ChannelTrades, Symbol: symbol})
}

// Subscribe adds sub to the desired set by channel. It is the generic form of
// the Subscribe* methods.
func (c *Client) Subscribe(sub Subscription) error {
	return c.subscribe(sub)
}

// Subscriptions returns the desired-subscription set, sorted.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionsLocked()
}

func (c *Client) subscriptionsLocked() []Subscription {
	out := make([]Subscription, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// subscribe records sub and, when connected, sends it immediately. A send
// failure removes the entry again and is returned as ErrSubscription; the
// client does not retry it.
func (c *Client) subscribe(sub Subscription) error {
	sub.Symbol = strings.ToUpper(strings.TrimSpace(sub.Symbol))
	if sub.Symbol == "" {
		return fmt.Errorf("%s: %w: empty symbol", c.Exchange(), domain.ErrSubscription)
	}
	if _, err := c.proto.SubscribeMessage(sub, true); err != nil {
		return fmt.Errorf("%s: %w: %v", c.Exchange(), domain.ErrSubscription, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClientClosed
	}
	_, existed := c.subs[sub]
	c.subs[sub] = struct{}{}
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	if conn == nil || existed {
		return nil
	}
	if err := c.send(ctx, conn, sub, true); err != nil {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w: %s: %v", c.Exchange(), domain.ErrSubscription, sub, err)
	}
	return nil
}

// unsubscribe removes sub from the desired set and, when connected, tells the
// exchange. The entry stays removed even if the send fails.
func (c *Client) unsubscribe(sub Subscription) error {
	sub.Symbol = strings.ToUpper(strings.TrimSpace(sub.Symbol))

	c.mu.Lock()
	if _, ok := c.subs[sub]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w: not subscribed to %s", c.Exchange(), domain.ErrSubscription, sub)
	}
	delete(c.subs, sub)
	released := !c.coversLocked(sub.Symbol)
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	if released {
		c.emitReleased(sub.Symbol)
	}
	if conn == nil {
		return nil
	}
	if err := c.send(ctx, conn, sub, false); err != nil {
		return fmt.Errorf("%s: %w: %s: %v", c.Exchange(), domain.ErrSubscription, sub, err)
	}
	return nil
}

func (c *Client) coversLocked(symbol string) bool {
	for s := range c.subs {
		if s.Symbol == symbol {
			return true
		}
	}
	return false
}

// send throttles and writes one (un)subscribe frame.
func (c *Client) send(ctx context.Context, conn Conn, sub Subscription, subscribe bool) error {
	msg, err := c.proto.SubscribeMessage(sub, subscribe)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return conn.WriteMessage(msg)
}
