package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// BackendType identifies the type of storage backend
type BackendType string

const (
	// BackendTypeMemory represents the in-memory reference backend
	BackendTypeMemory BackendType = "memory"

	// BackendTypePebble represents PebbleDB backend
	BackendTypePebble BackendType = "pebble"

	// BackendTypeBolt represents bbolt backend
	BackendTypeBolt BackendType = "bbolt"

	// BackendTypeRedis represents Redis backend
	BackendTypeRedis BackendType = "redis"

	// BackendTypePostgres represents PostgreSQL backend
	BackendTypePostgres BackendType = "postgres"
)

// BackendFactory creates a Storage instance
type BackendFactory func(ctx context.Context, config *Config, logger *zap.Logger) (Storage, error)

// BackendMetadata contains information about a registered backend
type BackendMetadata struct {
	// Name is the human-readable name
	Name string

	// Description describes the backend
	Description string

	// Atomic reports whether InsertBlocksAndReceipts is applied as one
	// isolated transaction
	Atomic bool
}

// BackendRegistry manages storage backend registrations
type BackendRegistry struct {
	mu        sync.RWMutex
	factories map[BackendType]BackendFactory
	metadata  map[BackendType]*BackendMetadata
}

// global backend registry instance
var (
	globalBackendRegistry     *BackendRegistry
	globalBackendRegistryOnce sync.Once
)

// GlobalBackendRegistry returns the global backend registry instance,
// pre-populated with the built-in backends
func GlobalBackendRegistry() *BackendRegistry {
	globalBackendRegistryOnce.Do(func() {
		globalBackendRegistry = NewBackendRegistry()
		registerBuiltins(globalBackendRegistry)
	})
	return globalBackendRegistry
}

func registerBuiltins(r *BackendRegistry) {
	r.MustRegister(BackendTypeMemory, newMemoryBackend, &BackendMetadata{
		Name:        "Memory",
		Description: "In-process maps, for tests and short-lived runs",
		Atomic:      true,
	})
	r.MustRegister(BackendTypePebble, newPebbleBackend, &BackendMetadata{
		Name:        "PebbleDB",
		Description: "Embedded LSM key-value store",
		Atomic:      true,
	})
	r.MustRegister(BackendTypeBolt, newBoltBackend, &BackendMetadata{
		Name:        "bbolt",
		Description: "Embedded B+tree key-value store",
		Atomic:      true,
	})
	r.MustRegister(BackendTypeRedis, newRedisBackend, &BackendMetadata{
		Name:        "Redis",
		Description: "Shared key-value server; batches are written with MULTI/EXEC",
		Atomic:      false,
	})
	r.MustRegister(BackendTypePostgres, newPostgresBackend, &BackendMetadata{
		Name:        "PostgreSQL",
		Description: "Relational store with JSONB records",
		Atomic:      true,
	})
}

// NewBackendRegistry creates a new, empty backend registry
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		factories: make(map[BackendType]BackendFactory),
		metadata:  make(map[BackendType]*BackendMetadata),
	}
}

// Register adds a backend factory to the registry
func (r *BackendRegistry) Register(backendType BackendType, factory BackendFactory, metadata *BackendMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory == nil {
		return fmt.Errorf("backend type %s: factory cannot be nil", backendType)
	}
	if _, exists := r.factories[backendType]; exists {
		return fmt.Errorf("backend type %s is already registered", backendType)
	}

	r.factories[backendType] = factory
	if metadata != nil {
		r.metadata[backendType] = metadata
	}

	return nil
}

// MustRegister registers a backend factory and panics on error
func (r *BackendRegistry) MustRegister(backendType BackendType, factory BackendFactory, metadata *BackendMetadata) {
	if err := r.Register(backendType, factory, metadata); err != nil {
		panic(fmt.Sprintf("failed to register storage backend: %v", err))
	}
}

// Create validates config and opens the backend it selects
func (r *BackendRegistry) Create(ctx context.Context, config *Config, logger *zap.Logger) (Storage, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown backend type: %s (available: %v)", config.Type, r.SupportedTypes())
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return factory(ctx, config, logger.With(zap.String("backend", string(config.Type))))
}

// Has checks if a backend type is registered
func (r *BackendRegistry) Has(backendType BackendType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[backendType]
	return exists
}

// SupportedTypes returns all registered backend types, sorted
func (r *BackendRegistry) SupportedTypes() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]BackendType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// GetMetadata returns metadata for a registered backend type
func (r *BackendRegistry) GetMetadata(backendType BackendType) (*BackendMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, exists := r.metadata[backendType]
	return meta, exists
}

// Open creates a Storage from the global registry. This is the
// recommended way to create storage instances.
func Open(ctx context.Context, config *Config, logger *zap.Logger) (Storage, error) {
	return GlobalBackendRegistry().Create(ctx, config, logger)
}

// SupportedBackends returns all registered backend types
func SupportedBackends() []BackendType {
	return GlobalBackendRegistry().SupportedTypes()
}
