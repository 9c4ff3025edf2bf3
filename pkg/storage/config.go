package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
)

// Config holds storage configuration. Only the fields of the selected
// backend are consulted.
type Config struct {
	// Type selects the backend
	Type BackendType

	// Path is the database directory (pebble) or file (bbolt)
	Path string

	// Cache size in MB (pebble)
	Cache int

	// MaxOpenFiles is the maximum number of open files (pebble)
	MaxOpenFiles int

	// WriteBuffer size in MB (pebble)
	WriteBuffer int

	// DisableWAL disables the pebble write-ahead log (not recommended)
	DisableWAL bool

	// CompactionConcurrency for pebble background compaction
	CompactionConcurrency int

	// ReadOnly opens the store for reads only
	ReadOnly bool

	// RedisAddr is the host:port of the redis server
	RedisAddr string

	// RedisPassword is optional
	RedisPassword string

	// RedisDB selects the redis logical database
	RedisDB int

	// RedisKeyPrefix namespaces every key
	RedisKeyPrefix string

	// PostgresDSN is the pgx connection string
	PostgresDSN string

	// PostgresMaxConns bounds the pgx pool
	PostgresMaxConns int32

	// QueryTimeout bounds a single query for network backends
	QueryTimeout time.Duration
}

// DefaultConfig returns a default configuration for backendType
func DefaultConfig(backendType BackendType, path string) *Config {
	cfg := &Config{Type: backendType, Path: path}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero fields with defaults
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = BackendTypePebble
	}
	if c.Cache == 0 {
		c.Cache = constants.DefaultCacheSize
	}
	if c.MaxOpenFiles == 0 {
		c.MaxOpenFiles = constants.DefaultMaxOpenFiles
	}
	if c.WriteBuffer == 0 {
		c.WriteBuffer = constants.DefaultWriteBuffer
	}
	if c.CompactionConcurrency == 0 {
		c.CompactionConcurrency = constants.DefaultCompactionConcurrency
	}
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = constants.DefaultRedisKeyPrefix
	}
	if c.PostgresMaxConns == 0 {
		c.PostgresMaxConns = constants.DefaultPostgresMaxConns
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = constants.DefaultQueryTimeout
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Type {
	case BackendTypeMemory:
	case BackendTypeBolt:
		if c.Path == "" {
			return errors.New("path cannot be empty")
		}
	case BackendTypePebble:
		if c.Path == "" {
			return errors.New("path cannot be empty")
		}
		if c.Cache < 0 {
			return errors.New("cache size cannot be negative")
		}
		if c.MaxOpenFiles < 0 {
			return errors.New("max open files cannot be negative")
		}
		if c.WriteBuffer < 0 {
			return errors.New("write buffer size cannot be negative")
		}
		if c.CompactionConcurrency < 1 {
			return errors.New("compaction concurrency must be at least 1")
		}
	case BackendTypeRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address cannot be empty")
		}
		if c.RedisDB < 0 {
			return errors.New("redis db cannot be negative")
		}
	case BackendTypePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres dsn cannot be empty")
		}
		if c.PostgresMaxConns < 1 {
			return errors.New("postgres max conns must be at least 1")
		}
	default:
		return fmt.Errorf("unknown backend type: %q", c.Type)
	}

	if c.QueryTimeout < 0 {
		return errors.New("query timeout cannot be negative")
	}
	return nil
}
