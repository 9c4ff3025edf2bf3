package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.RPC.Endpoint = "http://localhost:8545"
	cfg.Storage.Path = "/tmp/extractor-test"
	return cfg
}

func intPtr(n int) *int { return &n }

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, constants.DefaultRPCTimeout, cfg.RPC.Timeout)
	assert.Equal(t, constants.DefaultRPCBatchSize, cfg.RPC.BatchSize)
	assert.Equal(t, constants.DefaultRetryDelay, cfg.Retry.Delay)
	assert.Equal(t, constants.DefaultMaxRetries, cfg.Retry.Attempts())
	assert.Equal(t, "pebble", cfg.Storage.Type)
	assert.Equal(t, constants.DefaultPollInterval, cfg.Extractor.PollInterval)
	assert.Equal(t, constants.DefaultJSONRPCPath, cfg.API.JSONRPCPath)
	assert.Equal(t, "evm_extractor", cfg.Metrics.Namespace)
}

func TestRetryAttempts(t *testing.T) {
	assert.Equal(t, constants.DefaultMaxRetries, RetryConfig{}.Attempts())
	assert.Equal(t, 0, RetryConfig{MaxAttempts: intPtr(0)}.Attempts())

	cfg := &Config{Retry: RetryConfig{MaxAttempts: intPtr(0)}}
	cfg.SetDefaults()
	assert.Equal(t, 0, cfg.Retry.Attempts(), "an explicit zero survives defaults")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing endpoint", func(c *Config) { c.RPC.Endpoint = "" }, "RPC endpoint is required"},
		{"zero timeout", func(c *Config) { c.RPC.Timeout = 0 }, "RPC timeout must be positive"},
		{"zero batch size", func(c *Config) { c.RPC.BatchSize = 0 }, "batch size must be positive"},
		{"negative rate limit", func(c *Config) { c.RPC.RateLimit = -1 }, "rate limit cannot be negative"},
		{"negative delay", func(c *Config) { c.Retry.Delay = -time.Second }, "retry delay cannot be negative"},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = intPtr(-1) }, "max attempts cannot be negative"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = intPtr(0) }, ""},
		{"pebble without path", func(c *Config) { c.Storage.Path = "" }, "storage path is required"},
		{"memory without path", func(c *Config) {
			c.Storage.Type = "memory"
			c.Storage.Path = ""
		}, ""},
		{"redis without addr", func(c *Config) { c.Storage.Type = "redis" }, "redis address is required"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, "postgres dsn is required"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "leveldb" }, "invalid storage type"},
		{"follow without interval", func(c *Config) {
			c.Extractor.Follow = true
			c.Extractor.PollInterval = 0
		}, "poll interval must be positive"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
rpc:
  endpoint: http://node:8545
  timeout: 10s
  batch_size: 50
retry:
  delay: 250ms
  max_attempts: 0
storage:
  type: bbolt
  path: /data/blocks.db
extractor:
  genesis: 1000
  follow: true
  poll_interval: 2s
  reset_on_mismatch: true
api:
  enabled: true
  port: 9545
log:
  level: debug
  format: console
metrics:
  enabled: true
`)

	cfg := &Config{}
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "http://node:8545", cfg.RPC.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 50, cfg.RPC.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
	require.NotNil(t, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0, cfg.Retry.Attempts())
	assert.Equal(t, "bbolt", cfg.Storage.Type)
	assert.Equal(t, "/data/blocks.db", cfg.Storage.Path)
	assert.Equal(t, uint64(1000), cfg.Extractor.Genesis)
	assert.True(t, cfg.Extractor.Follow)
	assert.Equal(t, 2*time.Second, cfg.Extractor.PollInterval)
	assert.True(t, cfg.Extractor.ResetOnMismatch)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 9545, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := &Config{}

	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	err = cfg.LoadFromFile(writeConfig(t, "rpc:\n  endpiont: http://typo\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	err = cfg.LoadFromFile(writeConfig(t, "rpc: [unclosed\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	assert.NoError(t, cfg.LoadFromFile(writeConfig(t, "")))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EXTRACTOR_RPC_ENDPOINT", "http://env:8545")
	t.Setenv("EXTRACTOR_RPC_TIMEOUT", "5s")
	t.Setenv("EXTRACTOR_RPC_BATCH_SIZE", "25")
	t.Setenv("EXTRACTOR_RPC_RATE_LIMIT", "12.5")
	t.Setenv("EXTRACTOR_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("EXTRACTOR_STORAGE_TYPE", "redis")
	t.Setenv("EXTRACTOR_REDIS_ADDR", "redis:6379")
	t.Setenv("EXTRACTOR_GENESIS", "42")
	t.Setenv("EXTRACTOR_FOLLOW", "true")
	t.Setenv("EXTRACTOR_API_PORT", "9000")
	t.Setenv("EXTRACTOR_LOG_LEVEL", "warn")

	cfg := &Config{}
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://env:8545", cfg.RPC.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 25, cfg.RPC.BatchSize)
	assert.Equal(t, 12.5, cfg.RPC.RateLimit)
	assert.Equal(t, 0, cfg.Retry.Attempts())
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, uint64(42), cfg.Extractor.Genesis)
	assert.True(t, cfg.Extractor.Follow)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("EXTRACTOR_RPC_TIMEOUT", "soon")
	t.Setenv("EXTRACTOR_GENESIS", "-1")

	err := (&Config{}).LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTRACTOR_RPC_TIMEOUT")
	assert.Contains(t, err.Error(), "EXTRACTOR_GENESIS")
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
rpc:
  endpoint: http://file:8545
  batch_size: 10
storage:
  type: memory
log:
  level: debug
`)
	t.Setenv("EXTRACTOR_RPC_ENDPOINT", "http://env:8545")
	t.Setenv("EXTRACTOR_RPC_BATCH_SIZE", "20")

	cfg, err := Load(path, func(c *Config) {
		c.RPC.BatchSize = 30
	})
	require.NoError(t, err)

	assert.Equal(t, "http://env:8545", cfg.RPC.Endpoint, "env overrides file")
	assert.Equal(t, 30, cfg.RPC.BatchSize, "overrides win over env")
	assert.Equal(t, "debug", cfg.Log.Level, "file value kept")
	assert.Equal(t, "json", cfg.Log.Format, "defaults fill the rest")
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load("", func(c *Config) { c.Storage.Type = "memory" })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC endpoint is required")
}
