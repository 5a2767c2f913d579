// Package config defines the top-level configuration for syntharb and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SYNTHARB_* environment variables.
type Config struct {
	Mode        string             `toml:"mode" validate:"oneof=live demo"`
	LogLevel    string             `toml:"log_level" validate:"oneof=debug info warn error"`
	Feeds       FeedsConfig        `toml:"feeds"`
	Instruments []InstrumentConfig `toml:"instruments" validate:"dive"`
	Market      MarketConfig       `toml:"market"`
	Pricing     PricingConfig      `toml:"pricing"`
	Arbitrage   ArbitrageConfig    `toml:"arbitrage"`
	Analytics   AnalyticsConfig    `toml:"analytics"`
	Demo        DemoConfig         `toml:"demo"`
	Redis       RedisConfig        `toml:"redis"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
}

// FeedsConfig controls the exchange websocket clients.
type FeedsConfig struct {
	// Exchanges lists the venues to connect to in live mode.
	Exchanges []string `toml:"exchanges" validate:"min=1,dive,oneof=binance okx bybit"`
	// Channels are subscribed for every instrument. Funding and mark price
	// channels only apply to perpetuals.
	Channels []string `toml:"channels" validate:"min=1,dive,oneof=orderbook trades ticker funding_rate mark_price"`
	// URLs overrides endpoints, keyed "<exchange>" for spot and
	// "<exchange>_perp" for derivatives.
	URLs                map[string]string `toml:"urls" validate:"dive,url"`
	AutoReconnect       bool              `toml:"auto_reconnect"`
	DialTimeout         duration          `toml:"dial_timeout"`
	ReconnectInitial    duration          `toml:"reconnect_initial"`
	ReconnectMax        duration          `toml:"reconnect_max"`
	ReconnectMultiplier float64           `toml:"reconnect_multiplier" validate:"gte=1"`
	SubscribeRate       float64           `toml:"subscribe_rate" validate:"gt=0"`
	SubscribeBurst      int               `toml:"subscribe_burst" validate:"gte=1"`
	EventBuffer         int               `toml:"event_buffer" validate:"gte=1"`
}

// InstrumentConfig declares one instrument on a set of exchanges.
type InstrumentConfig struct {
	Symbol string `toml:"symbol" validate:"required"`
	Type   string `toml:"type" validate:"required,oneof=spot perp perpetual perpetual_swap swap"`
	// Exchanges defaults to every feed exchange when empty.
	Exchanges []string `toml:"exchanges" validate:"dive,oneof=binance okx bybit"`
}

// MarketConfig seeds the shared market environment.
type MarketConfig struct {
	// InterestRates are annual rates keyed by currency, e.g. "USD" = 0.05.
	InterestRates     map[string]float64 `toml:"interest_rates"`
	DefaultVolatility float64            `toml:"default_volatility" validate:"gte=0"`
}

// PricingConfig controls the pricing engine.
type PricingConfig struct {
	StalenessThreshold   duration           `toml:"staleness_threshold"`
	FundingIntervalHours map[string]float64 `toml:"funding_interval_hours"`
}

// ArbitrageConfig holds the acceptance thresholds and detection tuning.
// Percent values are in percent units.
type ArbitrageConfig struct {
	MinProfitThresholdUSD     float64  `toml:"min_profit_threshold_usd" validate:"gte=0"`
	MinProfitThresholdPercent float64  `toml:"min_profit_threshold_percent" validate:"gte=0"`
	MinConfidenceScore        float64  `toml:"min_confidence_score" validate:"gte=0,lte=1"`
	MaxPositionSizeUSD        float64  `toml:"max_position_size_usd" validate:"gt=0"`
	AutoStart                 bool     `toml:"auto_start"`
	Interval                  duration `toml:"interval"`
	MaterialityFloor          float64  `toml:"materiality_floor" validate:"gte=0"`
	TargetNotionalUSD         float64  `toml:"target_notional_usd" validate:"gte=0"`
	FundingHorizon            duration `toml:"funding_horizon"`
	SlippageBps               float64  `toml:"slippage_bps" validate:"gte=0"`
	AgreementTolerance        float64  `toml:"agreement_tolerance" validate:"gte=0"`
	Strategies                []string `toml:"strategies" validate:"dive,oneof=CROSS_EXCHANGE SPOT_PERP FUNDING_RATE"`
}

// AnalyticsConfig controls realised volatility estimation.
type AnalyticsConfig struct {
	VolatilitySampleInterval duration `toml:"volatility_sample_interval"`
	VolatilityWindow         int      `toml:"volatility_window" validate:"gte=0"`
}

// DemoConfig controls the synthetic market generator used in demo mode.
type DemoConfig struct {
	Interval duration `toml:"interval"`
	Seed     int64    `toml:"seed"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr" validate:"required_if=Enabled true"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db" validate:"gte=0"`
	PoolSize     int      `toml:"pool_size" validate:"gte=1"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Prefix       string   `toml:"prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len" validate:"gte=0"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	PoolMaxConns  int    `toml:"pool_max_conns" validate:"gte=1"`
	PoolMinConns  int    `toml:"pool_min_conns" validate:"gte=0"`
	RunMigrations bool   `toml:"run_migrations"`
	// LoadInstruments merges the stored instrument universe with the
	// configured one at startup.
	LoadInstruments bool `toml:"load_instruments"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on POST endpoints.
	APIKey    string  `toml:"api_key"`
	RateLimit float64 `toml:"rate_limit" validate:"gte=0"`
	RateBurst int     `toml:"rate_burst" validate:"gte=0"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" validate:"omitempty,url"`
	MinProfitUSD      float64  `toml:"min_profit_usd" validate:"gte=0"`
	Cooldown          duration `toml:"cooldown"`
	Events            []string `toml:"events" validate:"dive,oneof=opportunity feed_status engine"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "live",
		LogLevel: "info",
		Feeds: FeedsConfig{
			Exchanges:           []string{"binance", "okx", "bybit"},
			Channels:            []string{"ticker", "orderbook", "trades", "funding_rate", "mark_price"},
			URLs:                map[string]string{},
			AutoReconnect:       true,
			DialTimeout:         duration{15 * time.Second},
			ReconnectInitial:    duration{time.Second},
			ReconnectMax:        duration{30 * time.Second},
			ReconnectMultiplier: 2,
			SubscribeRate:       5,
			SubscribeBurst:      10,
			EventBuffer:         4096,
		},
		Instruments: []InstrumentConfig{
			{Symbol: "BTCUSDT", Type: "spot"},
			{Symbol: "BTCUSDT", Type: "perpetual_swap"},
			{Symbol: "ETHUSDT", Type: "spot"},
			{Symbol: "ETHUSDT", Type: "perpetual_swap"},
		},
		Market: MarketConfig{
			InterestRates:     map[string]float64{"USD": 0.05},
			DefaultVolatility: 0.6,
		},
		Pricing: PricingConfig{
			StalenessThreshold: duration{5 * time.Second},
			FundingIntervalHours: map[string]float64{
				"binance": 8,
				"okx":     8,
				"bybit":   8,
			},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThresholdUSD:     10,
			MinProfitThresholdPercent: 0.01,
			MinConfidenceScore:        0.7,
			MaxPositionSizeUSD:        10000,
			AutoStart:                 true,
			Interval:                  duration{time.Second},
			MaterialityFloor:          0.0001,
			FundingHorizon:            duration{24 * time.Hour},
			SlippageBps:               2,
			AgreementTolerance:        0.05,
		},
		Analytics: AnalyticsConfig{
			VolatilitySampleInterval: duration{10 * time.Second},
			VolatilityWindow:         360,
		},
		Demo: DemoConfig{
			Interval: duration{time.Second},
			Seed:     1,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Prefix:       "syntharb:",
			CacheTTL:     duration{domain.DefaultPointTTL},
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "syntharb",
			User:          "syntharb",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			MinProfitUSD: 50,
			Cooldown:     duration{time.Minute},
			Events:       []string{"opportunity", "feed_status"},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		for _, e := range verrs {
			errs = append(errs, fmt.Sprintf("%s: failed %q (value: %v)", fieldPath(e.Namespace()), e.Tag(), e.Value()))
		}
	}

	// Durations
	positive := []struct {
		name string
		d    duration
	}{
		{"feeds.dial_timeout", c.Feeds.DialTimeout},
		{"feeds.reconnect_initial", c.Feeds.ReconnectInitial},
		{"feeds.reconnect_max", c.Feeds.ReconnectMax},
		{"pricing.staleness_threshold", c.Pricing.StalenessThreshold},
		{"arbitrage.interval", c.Arbitrage.Interval},
		{"arbitrage.funding_horizon", c.Arbitrage.FundingHorizon},
	}
	for _, p := range positive {
		if p.d.Duration <= 0 {
			errs = append(errs, p.name+" must be > 0")
		}
	}
	if c.Feeds.ReconnectMax.Duration < c.Feeds.ReconnectInitial.Duration {
		errs = append(errs, "feeds: reconnect_max must not be less than reconnect_initial")
	}
	if c.Mode == "demo" && c.Demo.Interval.Duration <= 0 {
		errs = append(errs, "demo.interval must be > 0")
	}

	// Instruments
	if c.Mode == "live" && len(c.Instruments) == 0 && !c.Postgres.LoadInstruments {
		errs = append(errs, "instruments: at least one instrument is required in live mode")
	}
	if _, err := c.InstrumentSpecs(); err != nil {
		errs = append(errs, err.Error())
	}

	// Pricing
	for ex, h := range c.Pricing.FundingIntervalHours {
		if _, err := domain.ParseExchange(ex); err != nil {
			errs = append(errs, fmt.Sprintf("pricing: funding_interval_hours: unknown exchange %q", ex))
		}
		if h <= 0 {
			errs = append(errs, fmt.Sprintf("pricing: funding_interval_hours[%s] must be > 0", ex))
		}
	}

	// Arbitrage
	if c.Arbitrage.TargetNotionalUSD*2 > c.Arbitrage.MaxPositionSizeUSD && c.Arbitrage.TargetNotionalUSD > 0 {
		errs = append(errs, "arbitrage: target_notional_usd must not exceed half of max_position_size_usd")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Postgres.LoadInstruments && !c.Postgres.Enabled {
		errs = append(errs, "postgres: load_instruments requires postgres.enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify: telegram needs both fields.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// fieldPath turns "Config.Arbitrage.MinConfidenceScore" into
// "Arbitrage.MinConfidenceScore".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

// InstrumentSpecs expands the instrument declarations into one spec per
// exchange. Perpetual symbols get the "-PERP" suffix when it is missing.
// Duplicates are removed; conflicting types for the same symbol fail.
func (c *Config) InstrumentSpecs() ([]domain.InstrumentSpec, error) {
	seen := make(map[domain.InstrumentID]domain.InstrumentSpec)
	var out []domain.InstrumentSpec
	for _, ic := range c.Instruments {
		typ, err := domain.ParseInstrumentType(ic.Type)
		if err != nil {
			return nil, fmt.Errorf("instruments: %s: %w", ic.Symbol, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(ic.Symbol))
		if typ == domain.InstrumentPerpetualSwap {
			symbol = domain.PerpSymbol(domain.UnderlyingSymbol(symbol))
		}

		exchanges := ic.Exchanges
		if len(exchanges) == 0 {
			exchanges = c.Feeds.Exchanges
		}
		for _, name := range exchanges {
			ex, err := domain.ParseExchange(name)
			if err != nil {
				return nil, fmt.Errorf("instruments: %s: %w", symbol, err)
			}
			spec, err := domain.NewInstrumentSpec(symbol, typ, ex)
			if err != nil {
				return nil, fmt.Errorf("instruments: %w", err)
			}
			if prev, ok := seen[spec.ID()]; ok {
				if prev.Type != spec.Type {
					return nil, fmt.Errorf("instruments: %s: %w", spec.ID(), domain.ErrAmbiguousInstrument)
				}
				continue
			}
			seen[spec.ID()] = spec
			out = append(out, spec)
		}
	}
	return out, nil
}

// DomainArbitrage returns the engine thresholds.
func (c *Config) DomainArbitrage() domain.ArbitrageConfig {
	return domain.ArbitrageConfig{
		MinProfitThresholdUSD:     c.Arbitrage.MinProfitThresholdUSD,
		MinProfitThresholdPercent: c.Arbitrage.MinProfitThresholdPercent,
		MinConfidenceScore:        c.Arbitrage.MinConfidenceScore,
		MaxPositionSizeUSD:        c.Arbitrage.MaxPositionSizeUSD,
	}
}

// Environment returns the initial market environment.
func (c *Config) Environment() domain.MarketEnvironment {
	return domain.MarketEnvironment{
		InterestRates:     c.Market.InterestRates,
		DefaultVolatility: c.Market.DefaultVolatility,
	}.Clone()
}

// FeedURL returns the endpoint override for exchange, if any.
func (c *Config) FeedURL(exchange domain.Exchange, derivatives bool) string {
	key := string(exchange)
	if derivatives {
		key += "_perp"
	}
	return c.Feeds.URLs[key]
}
