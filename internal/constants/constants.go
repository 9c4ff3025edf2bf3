package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default API rate limit (requests per second)
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default API rate limit burst size
	DefaultRateLimitBurst = 2000

	// DefaultJSONRPCPath is the default JSON-RPC endpoint path
	DefaultJSONRPCPath = "/rpc"

	// MaxRequestBodyBytes caps a JSON-RPC request body (2 MB)
	MaxRequestBodyBytes = 2 << 20

	// MaxServerBatchSize caps a batch request served by the read API
	MaxServerBatchSize = 100

	// MaxBlocksRLP caps the blocks returned by one ext_getBlocksRLP call
	MaxBlocksRLP = 100
)

// RPC Client Constants
const (
	// DefaultRPCTimeout bounds a single JSON-RPC round trip
	DefaultRPCTimeout = 30 * time.Second

	// DefaultRPCBatchSize is the default number of requests per batch call
	DefaultRPCBatchSize = 100

	// DefaultRPCMaxConcurrency is the default number of batch chunks in flight
	DefaultRPCMaxConcurrency = 4

	// MaxRPCResponseBytes caps a JSON-RPC response body (128 MB)
	MaxRPCResponseBytes = 128 << 20
)

// Extractor Constants
const (
	// DefaultMaxRetries is the default number of attempts for a batch
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the default delay between attempts
	DefaultRetryDelay = 1 * time.Second

	// DefaultPollInterval is the default delay between runs in continuous mode
	DefaultPollInterval = 5 * time.Second
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 128

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 64

	// DefaultCompactionConcurrency is the default number of concurrent compactions
	DefaultCompactionConcurrency = 4

	// DefaultRedisKeyPrefix namespaces keys in a shared Redis
	DefaultRedisKeyPrefix = "extractor:"

	// DefaultPostgresMaxConns is the default pgx pool size
	DefaultPostgresMaxConns = 8

	// DefaultQueryTimeout bounds a single storage query
	DefaultQueryTimeout = 30 * time.Second
)
