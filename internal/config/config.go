// Package config loads gateway configuration from an optional YAML file with
// environment variable overrides. A .env file is honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Chain      ChainConfig      `yaml:"chain"`
	Intents    IntentsConfig    `yaml:"intents"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig configures PostgreSQL access. An empty DSN selects the
// in-memory store, for local development only.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// ChainConfig configures Starknet node access and event matching.
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" env:"CHAIN_TIMEOUT_SECONDS"`
	ProcessorAddress string `yaml:"processor_address" env:"CHAIN_PROCESSOR_ADDRESS"`
	EventSelector    string `yaml:"event_selector" env:"CHAIN_EVENT_SELECTOR"`
}

// IntentsConfig configures intent lifecycle policy.
type IntentsConfig struct {
	ExpiryMinutes int `yaml:"expiry_minutes" env:"INTENT_EXPIRY_MINUTES"`
}

// ReconcilerConfig configures the reconciliation loop.
type ReconcilerConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds" env:"RECONCILER_INTERVAL_SECONDS"`
	RPCRate         float64 `yaml:"rpc_rate" env:"RECONCILER_RPC_RATE"`
	RPCBurst        int     `yaml:"rpc_burst" env:"RECONCILER_RPC_BURST"`
}

// SweeperConfig configures expiry and retention housekeeping.
type SweeperConfig struct {
	ExpiryIntervalSeconds int    `yaml:"expiry_interval_seconds" env:"SWEEPER_EXPIRY_INTERVAL_SECONDS"`
	PurgeSchedule         string `yaml:"purge_schedule" env:"SWEEPER_PURGE_SCHEDULE"`
	RetentionDays         int    `yaml:"retention_days" env:"SWEEPER_RETENTION_DAYS"`
}

// PricingConfig configures the fiat quote service.
type PricingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"PRICING_ENABLED"`
	URLTemplate string `yaml:"url_template" env:"PRICING_URL_TEMPLATE"`
	JSONPath    string `yaml:"json_path" env:"PRICING_JSON_PATH"`
	TTLSeconds  int    `yaml:"ttl_seconds" env:"PRICING_TTL_SECONDS"`
	RedisAddr   string `yaml:"redis_addr" env:"PRICING_REDIS_ADDR"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Load reads configuration: defaults, then the YAML file named by
// GATEWAY_CONFIG (default config/gateway.yaml) when it exists, then
// environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	path := os.Getenv("GATEWAY_CONFIG")
	if path == "" {
		path = "config/gateway.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Chain: ChainConfig{
			TimeoutSeconds: 30,
		},
		Intents: IntentsConfig{ExpiryMinutes: 15},
		Reconciler: ReconcilerConfig{
			IntervalSeconds: 30,
			RPCRate:         10,
			RPCBurst:        5,
		},
		Sweeper: SweeperConfig{
			ExpiryIntervalSeconds: 120,
			PurgeSchedule:         "0 3 * * *",
			RetentionDays:         30,
		},
		Pricing: PricingConfig{
			TTLSeconds: 300,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.ProcessorAddress == "" {
		return fmt.Errorf("chain.processor_address is required")
	}
	if c.Pricing.Enabled {
		if c.Pricing.URLTemplate == "" || c.Pricing.JSONPath == "" {
			return fmt.Errorf("pricing.url_template and pricing.json_path are required when pricing is enabled")
		}
	}
	return nil
}

// ChainTimeout returns the chain RPC timeout as a duration.
func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.Chain.TimeoutSeconds) * time.Second
}

// IntentExpiry returns the intent expiry window as a duration.
func (c *Config) IntentExpiry() time.Duration {
	return time.Duration(c.Intents.ExpiryMinutes) * time.Minute
}

// ReconcileInterval returns the reconciliation sweep interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconciler.IntervalSeconds) * time.Second
}

// SweepInterval returns the expiry sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.ExpiryIntervalSeconds) * time.Second
}

// Retention returns the terminal intent retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sweeper.RetentionDays) * 24 * time.Hour
}

// PricingTTL returns the quote freshness window.
func (c *Config) PricingTTL() time.Duration {
	return time.Duration(c.Pricing.TTLSeconds) * time.Second
}
