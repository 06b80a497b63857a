// Package config provides the application configuration: defaults
// overlaid by an optional YAML file, then by environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the full application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Agent        AgentConfig        `yaml:"agent" env:"AGENT"`
	LLM          LLMConfig          `yaml:"llm" env:"LLM"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint" env:"CHECKPOINT"`
	ExchangeRate ExchangeRateConfig `yaml:"exchange_rate" env:"EXCHANGE_RATE"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AgentConfig configures agent behavior and the extended-card route.
type AgentConfig struct {
	// MaxIterations caps the tool loop per turn.
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// ExtendedCardToken guards /agent/authenticatedExtendedCard. Empty
	// disables the extended card.
	ExtendedCardToken string `yaml:"extended_card_token" env:"EXTENDED_CARD_TOKEN"`
	// RequestTimeout bounds one synchronous turn.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// LLMConfig selects and configures the model backend. Provider is the
// tag; the remaining fields parameterize whichever backend it names.
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"` // openai or google
	Model    string        `yaml:"model" env:"MODEL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Supported checkpoint backends.
const (
	CheckpointMemory = "memory"
	CheckpointRedis  = "redis"
	CheckpointSQLite = "sqlite"
)

// CheckpointConfig selects where conversation state lives.
type CheckpointConfig struct {
	Backend string       `yaml:"backend" env:"BACKEND"` // memory, redis or sqlite
	Redis   RedisConfig  `yaml:"redis" env:"REDIS"`
	SQLite  SQLiteConfig `yaml:"sqlite" env:"SQLITE"`
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// SQLiteConfig configures the SQLite checkpoint backend.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// ExchangeRateConfig points the exchange-rate tool at its upstream.
type ExchangeRateConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9999,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:  10,
			RequestTimeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			Provider: ProviderGoogle,
			Timeout:  60 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend: CheckpointMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "checkpoint",
			},
			SQLite: SQLiteConfig{
				Path: "checkpoints.db",
			},
		},
		ExchangeRate: ExchangeRateConfig{
			Timeout: 20 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGoogle:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderGoogle, c.LLM.Provider)
	}

	switch c.Checkpoint.Backend {
	case CheckpointMemory, CheckpointRedis, CheckpointSQLite:
	default:
		return fmt.Errorf("checkpoint.backend must be one of memory, redis, sqlite; got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == CheckpointRedis && c.Checkpoint.Redis.Addr == "" {
		return fmt.Errorf("checkpoint.redis.addr required for the redis backend")
	}
	if c.Checkpoint.Backend == CheckpointSQLite && c.Checkpoint.SQLite.Path == "" {
		return fmt.Errorf("checkpoint.sqlite.path required for the sqlite backend")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	return nil
}
