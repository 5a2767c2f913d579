package config

import (
	"maps"
	"strings"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Feed URLs may carry credentials in their query strings.
	out.Feeds.URLs = maps.Clone(cfg.Feeds.URLs)
	for k, v := range out.Feeds.URLs {
		redactQuery(&v)
		out.Feeds.URLs[k] = v
	}

	// Copy the remaining slices and maps so callers cannot mutate the
	// original through the redacted copy.
	out.Feeds.Exchanges = append([]string(nil), cfg.Feeds.Exchanges...)
	out.Feeds.Channels = append([]string(nil), cfg.Feeds.Channels...)
	out.Instruments = append([]InstrumentConfig(nil), cfg.Instruments...)
	out.Market.InterestRates = maps.Clone(cfg.Market.InterestRates)
	out.Pricing.FundingIntervalHours = maps.Clone(cfg.Pricing.FundingIntervalHours)
	out.Arbitrage.Strategies = append([]string(nil), cfg.Arbitrage.Strategies...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactQuery masks everything after "?" in a URL.
func redactQuery(s *string) {
	if base, _, ok := strings.Cut(*s, "?"); ok {
		*s = base + "?" + redacted
	}
}
