package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, ProviderGoogle, cfg.LLM.Provider)
	assert.Equal(t, CheckpointMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: sk-test
checkpoint:
  backend: sqlite
  sqlite:
    path: /tmp/cp.db
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, CheckpointSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, "/tmp/cp.db", cfg.Checkpoint.SQLite.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: openai\n"), 0o600))

	t.Setenv("FXAGENT_LLM_PROVIDER", "google")
	t.Setenv("FXAGENT_LLM_API_KEY", "env-key")
	t.Setenv("FXAGENT_SERVER_PORT", "7777")
	t.Setenv("FXAGENT_AGENT_REQUEST_TIMEOUT", "90s")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGoogle, cfg.LLM.Provider)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Agent.RequestTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"bad backend", func(c *Config) { c.Checkpoint.Backend = "mongo" }, "checkpoint.backend"},
		{"redis without addr", func(c *Config) {
			c.Checkpoint.Backend = CheckpointRedis
			c.Checkpoint.Redis.Addr = ""
		}, "checkpoint.redis.addr"},
		{"sqlite without path", func(c *Config) {
			c.Checkpoint.Backend = CheckpointSQLite
			c.Checkpoint.SQLite.Path = ""
		}, "checkpoint.sqlite.path"},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"bad iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_ExtraValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.LLM.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
