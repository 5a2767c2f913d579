package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// MarketCache implements domain.MarketCache using Redis hashes holding the
// JSON-encoded latest point per instrument, plus an index set of the keys
// written so far.
//
// Key schema (before the client prefix):
//
//	md:{exchange}:{symbol} - hash with fields "data" (JSON) and "ts" (unix nanos)
//	md:index               - set of "{exchange}:{symbol}" members
type MarketCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. Points
// expire ttl after their last update; zero selects domain.DefaultPointTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = domain.DefaultPointTTL
	}
	return &MarketCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func pointMember(exchange domain.Exchange, symbol string) string {
	return domain.MarketKey{Exchange: exchange, Symbol: symbol}.String()
}

func (mc *MarketCache) pointKey(member string) string { return mc.c.Key("md:" + member) }
func (mc *MarketCache) indexKey() string              { return mc.c.Key("md:index") }

// SetPoint stores p as the latest point for its instrument. An older point
// never overwrites a newer one already cached.
func (mc *MarketCache) SetPoint(ctx context.Context, p domain.MarketDataPoint) error {
	if p.Symbol == "" || !p.Exchange.Valid() {
		return fmt.Errorf("redis: set point %q on %q: invalid key", p.Symbol, p.Exchange)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal point %s: %w", p.Key(), err)
	}

	member := pointMember(p.Exchange, p.Symbol)
	key := mc.pointKey(member)

	prev, err := mc.rdb.HGet(ctx, key, "ts").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: read point %s: %w", member, err)
	}
	if err == nil && prev > p.Timestamp.UnixNano() {
		return nil
	}

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "ts", p.Timestamp.UnixNano())
	pipe.Expire(ctx, key, mc.ttl)
	pipe.SAdd(ctx, mc.indexKey(), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set point %s: %w", member, err)
	}
	return nil
}

// GetPoint returns the cached point for (exchange, symbol), or
// domain.ErrNotFound.
func (mc *MarketCache) GetPoint(ctx context.Context, exchange domain.Exchange, symbol string) (domain.MarketDataPoint, error) {
	member := pointMember(exchange, symbol)
	data, err := mc.rdb.HGet(ctx, mc.pointKey(member), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketDataPoint{}, domain.ErrNotFound
		}
		return domain.MarketDataPoint{}, fmt.Errorf("redis: get point %s: %w", member, err)
	}
	return decodePoint(member, data)
}

// Snapshot returns every live cached point. Index members whose hash has
// expired are pruned.
func (mc *MarketCache) Snapshot(ctx context.Context) ([]domain.MarketDataPoint, error) {
	members, err := mc.rdb.SMembers(ctx, mc.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list points: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := mc.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGet(ctx, mc.pointKey(m), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: snapshot points: %w", err)
	}

	var (
		out   []domain.MarketDataPoint
		stale []any
	)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, members[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: snapshot point %s: %w", members[i], err)
		}
		p, err := decodePoint(members[i], data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(stale) > 0 {
		if err := mc.rdb.SRem(ctx, mc.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis: prune index: %w", err)
		}
	}
	return out, nil
}

// Invalidate removes the cached point for (exchange, symbol).
func (mc *MarketCache) Invalidate(ctx context.Context, exchange domain.Exchange, symbol string) error {
	member := pointMember(exchange, symbol)
	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, mc.pointKey(member))
	pipe.SRem(ctx, mc.indexKey(), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate point %s: %w", member, err)
	}
	return nil
}

func decodePoint(member string, data []byte) (domain.MarketDataPoint, error) {
	var p domain.MarketDataPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.MarketDataPoint{}, fmt.Errorf("redis: unmarshal point %s: %w", member, err)
	}
	if p.Symbol == "" {
		ex, sym, _ := strings.Cut(member, ":")
		p.Exchange, p.Symbol = domain.Exchange(ex), sym
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
