package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// SetReconnectParameters replaces the backoff policy. The delay sequence
// restarts at initial on the next reconnection attempt.
func (c *Client) SetReconnectParameters(initial, maxDelay time.Duration, multiplier float64) error {
	if initial <= 0 {
		return fmt.Errorf("feed: initial delay must be positive, got %s", initial)
	}
	if maxDelay < initial {
		return fmt.Errorf("feed: max delay %s below initial delay %s", maxDelay, initial)
	}
	if multiplier < 1 {
		return fmt.Errorf("feed: backoff multiplier must be >= 1, got %g", multiplier)
	}

	c.boMu.Lock()
	defer c.boMu.Unlock()
	c.bo = backoff.Backoff{Min: initial, Max: maxDelay, Factor: multiplier}
	return nil
}

// nextDelay returns the current reconnect delay and advances the sequence:
// min(initial * multiplier^n, max).
func (c *Client) nextDelay() time.Duration {
	c.boMu.Lock()
	defer c.boMu.Unlock()
	return c.bo.Duration()
}

func (c *Client) resetBackoff() {
	c.boMu.Lock()
	defer c.boMu.Unlock()
	c.bo.Reset()
}

// startReconnection launches the reconnection loop unless one is already
// running or the lifecycle generation gen has been shut down.
func (c *Client) startReconnection(gen uint64) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.closing || c.closed || c.gen != gen {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	c.setStatus(domain.StatusReconnecting)
	go c.reconnectLoop(ctx)
}

// reconnectLoop sleeps for the current delay, attempts a connection and
// repeats with a longer delay until it succeeds or ctx is cancelled.
func (c *Client) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		delay := c.nextDelay()
		c.logger.Info("feed reconnecting", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			c.reconnecting.Store(false)
			return
		case <-c.after(delay):
		}

		err := c.loopAttempt(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrClientClosed) || ctx.Err() != nil {
			c.reconnecting.Store(false)
			return
		}
		c.logger.Warn("feed reconnect attempt failed",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
}

// loopAttempt runs one attempt for the loop. A failure returns the status to
// RECONNECTING before dialMu is released, so a concurrent Connect never sees
// or overwrites a stale state.
func (c *Client) loopAttempt(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	_, err := c.attemptLocked(ctx, true)
	if err != nil && !errors.Is(err, domain.ErrClientClosed) && ctx.Err() == nil {
		c.emitError(err)
		c.setStatus(domain.StatusReconnecting)
	}
	return err
}
