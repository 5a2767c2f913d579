package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/syntharb/internal/cache/redis"
	"github.com/alanyoungcy/syntharb/internal/config"
	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/metrics"
	"github.com/alanyoungcy/syntharb/internal/notify"
	"github.com/alanyoungcy/syntharb/internal/store/postgres"
)

// Dependencies are the optional backends behind the pipeline. Fields for a
// disabled backend stay nil and the pipeline skips them.
type Dependencies struct {
	InstrumentStore domain.InstrumentStore
	AuditStore      domain.AuditStore
	MarketCache     domain.MarketCache
	SignalBus       domain.SignalBus
	Notifier        *notify.Notifier
	Metrics         *metrics.Collector
}

// teardown releases resources in reverse acquisition order.
type teardown []func()

func (t *teardown) add(f func()) { *t = append(*t, f) }

func (t teardown) run() {
	for i := len(t) - 1; i >= 0; i-- {
		t[i]()
	}
}

// Wire connects every enabled backend. On error anything already opened is
// closed before returning; on success the caller owns the cleanup func.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Metrics: metrics.NewCollector()}
	var td teardown

	steps := []struct {
		name string
		on   bool
		fn   func(context.Context, *config.Config, *Dependencies, *teardown) error
	}{
		{"postgres", cfg.Postgres.Enabled, wirePostgres},
		{"redis", cfg.Redis.Enabled, wireRedis},
	}
	for _, s := range steps {
		if !s.on {
			slog.DebugContext(ctx, "backend disabled", slog.String("backend", s.name))
			continue
		}
		if err := s.fn(ctx, cfg, deps, &td); err != nil {
			td.run()
			return nil, nil, fmt.Errorf("wire: %s: %w", s.name, err)
		}
	}

	deps.Notifier = newNotifier(cfg.Notify)
	return deps, td.run, nil
}

func wirePostgres(ctx context.Context, cfg *config.Config, deps *Dependencies, td *teardown) error {
	pc := cfg.Postgres
	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      pc.DSN,
		Host:     pc.Host,
		Port:     pc.Port,
		Database: pc.Database,
		User:     pc.User,
		Password: pc.Password,
		SSLMode:  pc.SSLMode,
		MaxConns: pc.PoolMaxConns,
		MinConns: pc.PoolMinConns,
	})
	if err != nil {
		return err
	}
	td.add(client.Close)

	if pc.RunMigrations {
		if err := client.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	deps.InstrumentStore = postgres.NewInstrumentStore(client.Pool())
	deps.AuditStore = postgres.NewAuditStore(client.Pool())
	slog.InfoContext(ctx, "postgres ready", slog.Bool("migrated", pc.RunMigrations))
	return nil
}

func wireRedis(ctx context.Context, cfg *config.Config, deps *Dependencies, td *teardown) error {
	rc := cfg.Redis
	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
		TLSEnabled: rc.TLSEnabled,
		Prefix:     rc.Prefix,
	})
	if err != nil {
		return err
	}
	td.add(func() { _ = client.Close() })

	deps.MarketCache = redis.NewMarketCache(client, rc.CacheTTL.Duration)
	deps.SignalBus = redis.NewSignalBus(client, redis.WithStreamMaxLen(int64(rc.StreamMaxLen)))
	slog.InfoContext(ctx, "redis ready", slog.String("addr", rc.Addr), slog.String("prefix", rc.Prefix))
	return nil
}

// newNotifier builds senders for every chat channel with complete
// credentials. With none configured the notifier is a no-op.
func newNotifier(nc config.NotifyConfig) *notify.Notifier {
	var senders []notify.Sender
	if nc.TelegramToken != "" && nc.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(nc.TelegramToken, nc.TelegramChatID))
	}
	if nc.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(nc.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, nc.Events, nc.Cooldown.Duration, slog.Default())
}
