package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

const (
	defaultStreamMaxLen int64 = 10000
	relayBuffer               = 128

	fieldData = "data"
	fieldTS   = "ts"
)

// BusOption configures a SignalBus.
type BusOption func(*SignalBus)

// WithStreamMaxLen caps each history stream at roughly n entries. Values
// below one keep the default.
func WithStreamMaxLen(n int64) BusOption {
	return func(sb *SignalBus) {
		if n > 0 {
			sb.maxLen = n
		}
	}
}

// SignalBus implements domain.SignalBus. Live snapshots go out on Pub/Sub
// channels under "bus:"; opportunity history lives in capped streams under
// "history:" so the CLI can page through it later.
type SignalBus struct {
	c      *Client
	rdb    *redis.Client
	maxLen int64
	now    func() time.Time
}

// NewSignalBus creates a bus on c.
func NewSignalBus(c *Client, opts ...BusOption) *SignalBus {
	sb := &SignalBus{c: c, rdb: c.Underlying(), maxLen: defaultStreamMaxLen, now: time.Now}
	for _, opt := range opts {
		opt(sb)
	}
	return sb
}

func (sb *SignalBus) channelKey(channel string) string { return sb.c.Key("bus", channel) }
func (sb *SignalBus) streamKey(stream string) string   { return sb.c.Key("history", stream) }

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.channelKey(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe relays payloads published on channel until ctx ends. A channel
// containing glob characters subscribes by pattern.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	key := sb.channelKey(channel)
	pubsub := sb.rdb.Subscribe(ctx, key)
	if strings.ContainsAny(channel, "*?[") {
		_ = pubsub.Close()
		pubsub = sb.rdb.PSubscribe(ctx, key)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, relayBuffer)
	go relay(ctx, pubsub, out)
	return out, nil
}

func relay(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

// StreamAppend records payload with its publish time in the capped stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.streamKey(stream),
		MaxLen: sb.maxLen,
		Approx: true,
		Values: []any{fieldData, payload, fieldTS, sb.now().UnixMilli()},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID, oldest
// first. An empty or "0" lastID reads from the beginning. It never blocks.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	if count <= 0 {
		count = 100
	}

	entries, err := sb.rdb.XRangeN(ctx, sb.streamKey(stream), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s from %s: %w", stream, start, err)
	}

	msgs := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if data, ok := entryData(e.Values); ok {
			msgs = append(msgs, domain.StreamMessage{ID: e.ID, Payload: data, PublishedAt: entryTime(e.Values)})
		}
	}
	return msgs, nil
}

// entryData extracts the payload field. go-redis returns field values as
// strings; tolerate byte slices written by other clients.
func entryData(values map[string]any) ([]byte, bool) {
	switch v := values[fieldData].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// entryTime parses the publish timestamp, zero when absent.
func entryTime(values map[string]any) time.Time {
	s, _ := values[fieldTS].(string)
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var _ domain.SignalBus = (*SignalBus)(nil)
