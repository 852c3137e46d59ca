// Package config loads the keymarketd runtime configuration from YAML.
// Decimal-valued knobs stay strings until parsed so curve parameters never
// round-trip through floats.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"keymarket/market"
)

// Storage backends supported by the daemon.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for keymarketd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	LogLevel      string          `yaml:"log_level"`
	ShutdownGrace Duration        `yaml:"shutdown_grace"`
	Storage       StorageConfig   `yaml:"storage"`
	Market        MarketConfig    `yaml:"market"`
	Events        EventsConfig    `yaml:"events"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects and tunes the supply store backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database"`
	PostgresDSN  string `yaml:"postgres_dsn"`
}

// MarketConfig tunes the shared launch curve and settlement limits.
// Empty decimal strings fall back to the platform defaults; an explicit
// "0" for max_trade_amount disables the per-trade cap. A negative
// referrer_share_bps disables referral payouts, zero applies the default.
type MarketConfig struct {
	BasePrice        string `yaml:"base_price"`
	PriceIncrement   string `yaml:"price_increment"`
	MaxSupply        string `yaml:"max_supply"`
	CreatorFeeBps    int64  `yaml:"creator_fee_bps"`
	ProtocolFeeBps   int64  `yaml:"protocol_fee_bps"`
	MaxTradeAmount   string `yaml:"max_trade_amount"`
	ReferrerShareBps int64  `yaml:"referrer_share_bps"`
	CommitRetries    int    `yaml:"commit_retries"`
}

// EventsConfig points the trade event stream at a Kafka topic. Leaving
// brokers empty keeps events in-process only.
type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Environment string            `yaml:"environment"`
	Endpoint    string            `yaml:"otlp_endpoint"`
	Insecure    bool              `yaml:"otlp_insecure"`
	Headers     map[string]string `yaml:"otlp_headers"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.ShutdownGrace.Duration == 0 {
		cfg.ShutdownGrace.Duration = 10 * time.Second
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.Backend == BackendSQLite && cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/var/data/keymarket.sqlite"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "keymarket.events"
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(cfg.Storage.DatabasePath) == "" {
			return fmt.Errorf("sqlite backend requires a database path")
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return fmt.Errorf("postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	params, err := cfg.MarketParams()
	if err != nil {
		return err
	}
	if err := params.DefaultCurve.Validate(); err != nil {
		return err
	}
	return nil
}

// MarketParams resolves the market section into engine parameters,
// starting from the platform defaults.
func (c Config) MarketParams() (market.Params, error) {
	params := market.DefaultParams()
	fields := []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"base_price", c.Market.BasePrice, &params.DefaultCurve.BasePrice},
		{"price_increment", c.Market.PriceIncrement, &params.DefaultCurve.PriceIncrement},
		{"max_supply", c.Market.MaxSupply, &params.DefaultCurve.MaxSupply},
		{"max_trade_amount", c.Market.MaxTradeAmount, &params.MaxTradeAmount},
	}
	for _, field := range fields {
		raw := strings.TrimSpace(field.raw)
		if raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return params, fmt.Errorf("parse %s %q: %w", field.name, raw, err)
		}
		*field.value = parsed
	}
	if c.Market.CreatorFeeBps > 0 {
		params.DefaultCurve.CreatorFeeBps = c.Market.CreatorFeeBps
	}
	if c.Market.ProtocolFeeBps > 0 {
		params.DefaultCurve.ProtocolFeeBps = c.Market.ProtocolFeeBps
	}
	switch {
	case c.Market.ReferrerShareBps < 0:
		params.ReferrerShareBps = 0
	case c.Market.ReferrerShareBps > 0:
		params.ReferrerShareBps = c.Market.ReferrerShareBps
	}
	if c.Market.CommitRetries > 0 {
		params.CommitRetries = c.Market.CommitRetries
	}
	return params, nil
}
