package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the extractor process
type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	Retry     RetryConfig     `yaml:"retry"`
	Storage   StorageConfig   `yaml:"storage"`
	Extractor ExtractorConfig `yaml:"extractor"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RPCConfig holds JSON-RPC client configuration
type RPCConfig struct {
	Endpoint string `yaml:"endpoint"`
	// UpdateEndpoint receives state-changing calls; defaults to Endpoint
	UpdateEndpoint string        `yaml:"update_endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	// BatchSize is the number of blocks fetched and persisted together
	BatchSize      int     `yaml:"batch_size"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
	MaxConcurrency int     `yaml:"max_concurrency"`
}

// RetryConfig controls how failed batches are retried
type RetryConfig struct {
	Delay time.Duration `yaml:"delay"`
	// MaxAttempts is the number of attempts per batch. Zero is kept as is
	// and still makes one attempt; only an absent value takes the default.
	MaxAttempts *int `yaml:"max_attempts"`
}

// Attempts returns the configured attempt count
func (r RetryConfig) Attempts() int {
	if r.MaxAttempts == nil {
		return constants.DefaultMaxRetries
	}
	return *r.MaxAttempts
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`

	// pebble
	Cache        int `yaml:"cache"`
	MaxOpenFiles int `yaml:"max_open_files"`
	WriteBuffer  int `yaml:"write_buffer"`

	// redis
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	// postgres
	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns"`

	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ExtractorConfig holds collection settings
type ExtractorConfig struct {
	// Genesis is the first height collected into an empty store
	Genesis uint64 `yaml:"genesis"`
	// Follow keeps collecting new heads every PollInterval
	Follow       bool          `yaml:"follow"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// SkipChainValidation disables parent-hash checks before persisting
	SkipChainValidation bool `yaml:"skip_chain_validation"`
	// ResetOnMismatch clears the store when it belongs to another chain
	ResetOnMismatch bool `yaml:"reset_on_mismatch"`
	// GapRecovery fills missing heights below the stored head at startup
	GapRecovery bool `yaml:"gap_recovery"`
}

// APIConfig holds read API server configuration
type APIConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Host               string  `yaml:"host"`
	Port               int     `yaml:"port"`
	JSONRPCPath        string  `yaml:"jsonrpc_path"`
	EnableRateLimit    bool    `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with defaults
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.BatchSize == 0 {
		c.RPC.BatchSize = constants.DefaultRPCBatchSize
	}
	if c.RPC.MaxConcurrency == 0 {
		c.RPC.MaxConcurrency = constants.DefaultRPCMaxConcurrency
	}

	// Retry defaults
	if c.Retry.Delay == 0 {
		c.Retry.Delay = constants.DefaultRetryDelay
	}
	if c.Retry.MaxAttempts == nil {
		attempts := constants.DefaultMaxRetries
		c.Retry.MaxAttempts = &attempts
	}

	// Storage defaults
	if c.Storage.Type == "" {
		c.Storage.Type = "pebble"
	}
	if c.Storage.QueryTimeout == 0 {
		c.Storage.QueryTimeout = constants.DefaultQueryTimeout
	}

	// Extractor defaults
	if c.Extractor.PollInterval == 0 {
		c.Extractor.PollInterval = constants.DefaultPollInterval
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.JSONRPCPath == "" {
		c.API.JSONRPCPath = constants.DefaultJSONRPCPath
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "evm_extractor"
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// unknown keys are rejected; an empty file leaves c untouched
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overrides values from EXTRACTOR_* environment variables
func (c *Config) LoadFromEnv() error {
	return errors.Join(
		// RPC configuration
		envString("EXTRACTOR_RPC_ENDPOINT", &c.RPC.Endpoint),
		envString("EXTRACTOR_RPC_UPDATE_ENDPOINT", &c.RPC.UpdateEndpoint),
		envDuration("EXTRACTOR_RPC_TIMEOUT", &c.RPC.Timeout),
		envInt("EXTRACTOR_RPC_BATCH_SIZE", &c.RPC.BatchSize),
		envFloat("EXTRACTOR_RPC_RATE_LIMIT", &c.RPC.RateLimit),

		// Retry configuration
		envDuration("EXTRACTOR_RETRY_DELAY", &c.Retry.Delay),
		envIntPtr("EXTRACTOR_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts),

		// Storage configuration
		envString("EXTRACTOR_STORAGE_TYPE", &c.Storage.Type),
		envString("EXTRACTOR_STORAGE_PATH", &c.Storage.Path),
		envString("EXTRACTOR_REDIS_ADDR", &c.Storage.RedisAddr),
		envString("EXTRACTOR_REDIS_PASSWORD", &c.Storage.RedisPassword),
		envString("EXTRACTOR_POSTGRES_DSN", &c.Storage.PostgresDSN),

		// Extractor configuration
		envUint64("EXTRACTOR_GENESIS", &c.Extractor.Genesis),
		envBool("EXTRACTOR_FOLLOW", &c.Extractor.Follow),
		envDuration("EXTRACTOR_POLL_INTERVAL", &c.Extractor.PollInterval),

		// API configuration
		envBool("EXTRACTOR_API_ENABLED", &c.API.Enabled),
		envString("EXTRACTOR_API_HOST", &c.API.Host),
		envInt("EXTRACTOR_API_PORT", &c.API.Port),

		// Log configuration
		envString("EXTRACTOR_LOG_LEVEL", &c.Log.Level),
		envString("EXTRACTOR_LOG_FORMAT", &c.Log.Format),

		// Metrics configuration
		envBool("EXTRACTOR_METRICS_ENABLED", &c.Metrics.Enabled),
	)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.BatchSize <= 0 {
		return fmt.Errorf("RPC batch size must be positive")
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("RPC rate limit cannot be negative")
	}

	// Validate retry configuration
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.Retry.Attempts() < 0 {
		return fmt.Errorf("retry max attempts cannot be negative")
	}

	// Validate storage configuration
	switch c.Storage.Type {
	case "memory":
	case "pebble", "bbolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s", c.Storage.Type)
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address is required")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("invalid storage type %q, must be one of: memory, pebble, bbolt, redis, postgres", c.Storage.Type)
	}

	// Validate extractor configuration
	if c.Extractor.Follow && c.Extractor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	return nil
}

// Load builds the configuration in order: file (if provided), environment,
// overrides (typically command-line flags), defaults, validation.
func Load(configFile string, overrides func(*Config)) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if overrides != nil {
		overrides(cfg)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envString(key string, dst *string) error {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envIntPtr(key string, dst **int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = &n
	return nil
}

func envUint64(key string, dst *uint64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
