package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Ensure PebbleStorage implements Storage and IndexReader
var (
	_ Storage     = (*PebbleStorage)(nil)
	_ IndexReader = (*PebbleStorage)(nil)
)

// PebbleStorage implements Storage interface using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Configure PebbleDB options
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		DisableWAL:               cfg.DisableWAL,
		MaxConcurrentCompactions: func() int { return cfg.CompactionConcurrency },
		ReadOnly:                 cfg.ReadOnly,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, wrapErr(BackendTypePebble, "open", fmt.Errorf("failed to open database: %w", err))
	}

	return &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(), // Use nop logger by default
	}, nil
}

func newPebbleBackend(_ context.Context, cfg *Config, logger *zap.Logger) (Storage, error) {
	s, err := NewPebbleStorage(cfg)
	if err != nil {
		return nil, err
	}
	s.SetLogger(logger)
	return s, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// InsertBlocksAndReceipts implements Writer. Everything goes through one
// pebble batch, so the write is atomic. Receipts are staged before the
// blocks that reference them.
func (s *PebbleStorage) InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, receipt := range receipts {
		encoded, err := EncodeReceipt(receipt)
		if err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
		if err := batch.Set(ReceiptKey(receipt.TransactionHash), encoded, nil); err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
	}

	for _, block := range blocks {
		encoded, err := EncodeBlock(block)
		if err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
		entry, err := encodeIndexEntry(block)
		if err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
		height := uint64(block.Number)
		if err := batch.Set(BlockKey(height), encoded, nil); err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
		if err := batch.Set(BlockIndexKey(height), entry, nil); err != nil {
			return wrapErr(BackendTypePebble, "insert", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return wrapErr(BackendTypePebble, "commit", err)
	}

	s.logger.Debug("Batch committed",
		zap.Int("blocks", len(blocks)),
		zap.Int("receipts", len(receipts)),
	)
	return nil
}

// Clear implements Writer
func (s *PebbleStorage) Clear(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range []string{prefixBlocks, prefixReceipts, prefixBlockIndex} {
		start := []byte(prefix)
		if err := batch.DeleteRange(start, prefixUpperBound(start), nil); err != nil {
			return wrapErr(BackendTypePebble, "clear", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return wrapErr(BackendTypePebble, "clear", err)
	}
	s.logger.Warn("Storage cleared")
	return nil
}

// get returns a copy of the value stored at key
func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// Copy the value as it's only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// GetBlockByNumber implements Reader
func (s *PebbleStorage) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	data, err := s.get(BlockKey(number))
	if err != nil {
		return nil, wrapErr(BackendTypePebble, "get block", err)
	}
	return DecodeBlock(data)
}

// GetBlockIndexEntry implements IndexReader
func (s *PebbleStorage) GetBlockIndexEntry(ctx context.Context, number uint64) (*types.BlockIndexEntry, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	data, err := s.get(BlockIndexKey(number))
	if err != nil {
		return nil, wrapErr(BackendTypePebble, "get index", err)
	}
	return decodeIndexEntry(data)
}

// GetTransactionReceipt implements Reader
func (s *PebbleStorage) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	data, err := s.get(ReceiptKey(hash))
	if err != nil {
		return nil, wrapErr(BackendTypePebble, "get receipt", err)
	}
	return DecodeReceipt(data)
}

func (s *PebbleStorage) indexIter(lower, upper []byte) (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
}

// heightFromIndexKey extracts the height suffix of an index key
func heightFromIndexKey(key []byte) (uint64, error) {
	return DecodeUint64(bytes.TrimPrefix(key, []byte(prefixBlockIndex)))
}

// GetLatestBlockNumber implements Reader
func (s *PebbleStorage) GetLatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, false, err
	}

	prefix := []byte(prefixBlockIndex)
	iter, err := s.indexIter(prefix, prefixUpperBound(prefix))
	if err != nil {
		return 0, false, wrapErr(BackendTypePebble, "latest", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false, wrapErr(BackendTypePebble, "latest", iter.Error())
	}
	n, err := heightFromIndexKey(iter.Key())
	if err != nil {
		return 0, false, wrapErr(BackendTypePebble, "latest", err)
	}
	return n, true, nil
}

// GetEarliestBlockNumber implements Reader
func (s *PebbleStorage) GetEarliestBlockNumber(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	prefix := []byte(prefixBlockIndex)
	iter, err := s.indexIter(prefix, prefixUpperBound(prefix))
	if err != nil {
		return 0, wrapErr(BackendTypePebble, "earliest", err)
	}
	defer iter.Close()

	if !iter.First() {
		if err := iter.Error(); err != nil {
			return 0, wrapErr(BackendTypePebble, "earliest", err)
		}
		return 0, ErrNotFound
	}
	n, err := heightFromIndexKey(iter.Key())
	if err != nil {
		return 0, wrapErr(BackendTypePebble, "earliest", err)
	}
	return n, nil
}

// GetBlocksInRange implements Reader
func (s *PebbleStorage) GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	iter, err := s.indexIter(BlockIndexKey(start), blockIndexUpperBound(end))
	if err != nil {
		return nil, wrapErr(BackendTypePebble, "range", err)
	}
	defer iter.Close()

	var heights []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := heightFromIndexKey(iter.Key())
		if err != nil {
			return nil, wrapErr(BackendTypePebble, "range", err)
		}
		heights = append(heights, n)
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr(BackendTypePebble, "range", err)
	}
	return heights, nil
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
