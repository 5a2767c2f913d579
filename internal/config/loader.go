package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load layers the TOML file at path over Defaults, then SYNTHARB_* variables
// (from the process or a .env file) over that. An empty path skips the file.
// A malformed variable is an error. Call Validate on the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides lists every SYNTHARB_* variable and the field it replaces.
func envOverrides(cfg *Config) []override {
	return []override{
		envVar("SYNTHARB_MODE", &cfg.Mode, parseString),
		envVar("SYNTHARB_LOG_LEVEL", &cfg.LogLevel, parseString),

		envVar("SYNTHARB_FEEDS_EXCHANGES", &cfg.Feeds.Exchanges, parseList),
		envVar("SYNTHARB_FEEDS_CHANNELS", &cfg.Feeds.Channels, parseList),
		envVar("SYNTHARB_FEEDS_AUTO_RECONNECT", &cfg.Feeds.AutoReconnect, strconv.ParseBool),
		envVar("SYNTHARB_FEEDS_DIAL_TIMEOUT", &cfg.Feeds.DialTimeout, parseDuration),
		envVar("SYNTHARB_FEEDS_RECONNECT_INITIAL", &cfg.Feeds.ReconnectInitial, parseDuration),
		envVar("SYNTHARB_FEEDS_RECONNECT_MAX", &cfg.Feeds.ReconnectMax, parseDuration),
		envVar("SYNTHARB_FEEDS_RECONNECT_MULTIPLIER", &cfg.Feeds.ReconnectMultiplier, parseFloat),
		envVar("SYNTHARB_FEEDS_SUBSCRIBE_RATE", &cfg.Feeds.SubscribeRate, parseFloat),
		envVar("SYNTHARB_FEEDS_SUBSCRIBE_BURST", &cfg.Feeds.SubscribeBurst, strconv.Atoi),

		envVar("SYNTHARB_MARKET_DEFAULT_VOLATILITY", &cfg.Market.DefaultVolatility, parseFloat),
		envVar("SYNTHARB_PRICING_STALENESS_THRESHOLD", &cfg.Pricing.StalenessThreshold, parseDuration),

		envVar("SYNTHARB_ARBITRAGE_MIN_PROFIT_THRESHOLD_USD", &cfg.Arbitrage.MinProfitThresholdUSD, parseFloat),
		envVar("SYNTHARB_ARBITRAGE_MIN_PROFIT_THRESHOLD_PERCENT", &cfg.Arbitrage.MinProfitThresholdPercent, parseFloat),
		envVar("SYNTHARB_ARBITRAGE_MIN_CONFIDENCE_SCORE", &cfg.Arbitrage.MinConfidenceScore, parseFloat),
		envVar("SYNTHARB_ARBITRAGE_MAX_POSITION_SIZE_USD", &cfg.Arbitrage.MaxPositionSizeUSD, parseFloat),
		envVar("SYNTHARB_ARBITRAGE_AUTO_START", &cfg.Arbitrage.AutoStart, strconv.ParseBool),
		envVar("SYNTHARB_ARBITRAGE_INTERVAL", &cfg.Arbitrage.Interval, parseDuration),
		envVar("SYNTHARB_ARBITRAGE_STRATEGIES", &cfg.Arbitrage.Strategies, parseList),

		envVar("SYNTHARB_DEMO_INTERVAL", &cfg.Demo.Interval, parseDuration),
		envVar("SYNTHARB_DEMO_SEED", &cfg.Demo.Seed, parseInt64),

		envVar("SYNTHARB_REDIS_ENABLED", &cfg.Redis.Enabled, strconv.ParseBool),
		envVar("SYNTHARB_REDIS_ADDR", &cfg.Redis.Addr, parseString),
		envVar("SYNTHARB_REDIS_PASSWORD", &cfg.Redis.Password, parseString),
		envVar("SYNTHARB_REDIS_DB", &cfg.Redis.DB, strconv.Atoi),
		envVar("SYNTHARB_REDIS_POOL_SIZE", &cfg.Redis.PoolSize, strconv.Atoi),
		envVar("SYNTHARB_REDIS_MAX_RETRIES", &cfg.Redis.MaxRetries, strconv.Atoi),
		envVar("SYNTHARB_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled, strconv.ParseBool),
		envVar("SYNTHARB_REDIS_PREFIX", &cfg.Redis.Prefix, parseString),

		envVar("SYNTHARB_POSTGRES_ENABLED", &cfg.Postgres.Enabled, strconv.ParseBool),
		envVar("DATABASE_URL", &cfg.Postgres.DSN, parseString),
		envVar("SYNTHARB_POSTGRES_DSN", &cfg.Postgres.DSN, parseString),
		envVar("SYNTHARB_POSTGRES_HOST", &cfg.Postgres.Host, parseString),
		envVar("SYNTHARB_POSTGRES_PORT", &cfg.Postgres.Port, strconv.Atoi),
		envVar("SYNTHARB_POSTGRES_DATABASE", &cfg.Postgres.Database, parseString),
		envVar("SYNTHARB_POSTGRES_USER", &cfg.Postgres.User, parseString),
		envVar("SYNTHARB_POSTGRES_PASSWORD", &cfg.Postgres.Password, parseString),
		envVar("SYNTHARB_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode, parseString),
		envVar("SYNTHARB_POSTGRES_POOL_MAX_CONNS", &cfg.Postgres.PoolMaxConns, strconv.Atoi),
		envVar("SYNTHARB_POSTGRES_POOL_MIN_CONNS", &cfg.Postgres.PoolMinConns, strconv.Atoi),
		envVar("SYNTHARB_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations, strconv.ParseBool),
		envVar("SYNTHARB_POSTGRES_LOAD_INSTRUMENTS", &cfg.Postgres.LoadInstruments, strconv.ParseBool),

		envVar("SYNTHARB_SERVER_ENABLED", &cfg.Server.Enabled, strconv.ParseBool),
		envVar("SYNTHARB_SERVER_PORT", &cfg.Server.Port, strconv.Atoi),
		envVar("SYNTHARB_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins, parseList),
		envVar("SYNTHARB_SERVER_API_KEY", &cfg.Server.APIKey, parseString),

		envVar("SYNTHARB_NOTIFY_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken, parseString),
		envVar("SYNTHARB_NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID, parseString),
		envVar("SYNTHARB_NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL, parseString),
		envVar("SYNTHARB_NOTIFY_MIN_PROFIT_USD", &cfg.Notify.MinProfitUSD, parseFloat),
		envVar("SYNTHARB_NOTIFY_EVENTS", &cfg.Notify.Events, parseList),
	}
}

// override applies one variable when it is set and non-empty.
type override struct {
	key   string
	apply func(raw string) error
}

func envVar[T any](key string, dst *T, parse func(string) (T, error)) override {
	return override{key: key, apply: func(raw string) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

// applyEnvOverrides applies every set variable and reports all malformed
// ones together.
func applyEnvOverrides(cfg *Config) error {
	var bad []string
	for _, o := range envOverrides(cfg) {
		raw := strings.TrimSpace(os.Getenv(o.key))
		if raw == "" {
			continue
		}
		if err := o.apply(raw); err != nil {
			bad = append(bad, fmt.Sprintf("%s=%q", o.key, raw))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("config: malformed environment overrides: %s", strings.Join(bad, ", "))
	}
	return nil
}

func parseString(s string) (string, error) { return s, nil }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseDuration(s string) (duration, error) {
	d, err := time.ParseDuration(s)
	return duration{d}, err
}

// parseList splits a comma separated value, dropping blanks.
func parseList(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}
