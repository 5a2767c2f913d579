// Package notify dispatches operator alerts to chat channels. Notifications
// are filtered by event type and rate limited per key so a persistent
// opportunity or a flapping feed does not flood a channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types accepted by Notify.
const (
	EventOpportunity = "opportunity"
	EventFeedStatus  = "feed_status"
	EventEngine      = "engine"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to every Sender.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	last  map[string]time.Time
	muted map[string]time.Time // sender name -> throttled until
	now   func() time.Time
}

// NewNotifier creates a Notifier delivering to senders. Only events listed in
// events are forwarded; an empty list allows every event. Notifications
// sharing a key are suppressed for cooldown after one is sent.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		last:     make(map[string]time.Time),
		muted:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends title and message for event unless the event type is filtered
// or key is cooling down. An empty key disables the cooldown.
func (n *Notifier) Notify(ctx context.Context, event, key, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if key != "" && !n.admit(event+"/"+key) {
		n.logger.DebugContext(ctx, "notification cooling down",
			slog.String("event", event),
			slog.String("key", key),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) admit(key string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if t, ok := n.last[key]; ok && now.Sub(t) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}

// dispatch sends to every sender. A failing sender does not prevent
// delivery to the others; all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if until, ok := n.throttled(s.Name()); ok {
			n.logger.DebugContext(ctx, "sender throttled",
				slog.String("sender", s.Name()),
				slog.Time("until", until),
			)
			continue
		}
		if err := s.Send(ctx, title, message); err != nil {
			n.backOff(s.Name(), err)
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) throttled(sender string) (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	until, ok := n.muted[sender]
	if ok && !n.now().Before(until) {
		delete(n.muted, sender)
		return time.Time{}, false
	}
	return until, ok
}

// backOff mutes a sender that answered 429 for the advertised Retry-After.
func (n *Notifier) backOff(sender string, err error) {
	var se *StatusError
	if !errors.As(err, &se) || !se.Throttled() || se.RetryAfter <= 0 {
		return
	}
	n.mu.Lock()
	n.muted[sender] = n.now().Add(se.RetryAfter)
	n.mu.Unlock()
}
