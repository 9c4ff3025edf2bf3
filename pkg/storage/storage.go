// Package storage defines the block and receipt store used by the extractor
// and its backends (memory, pebble, bbolt, redis, postgres).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/bits-and-blooms/bitset"
)

// Common errors
var (
	// ErrNotFound is returned when a block or receipt is not stored
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")

	// ErrInvalidRange is returned when a range query has start > end or is too wide
	ErrInvalidRange = errors.New("invalid block range")
)

// MaxRangeSize caps the number of heights a single range query may span.
const MaxRangeSize = 10_000_000

// StorageError is a backend failure. The extractor retries the whole batch
// on it.
type StorageError struct {
	Backend BackendType
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// wrapErr turns a raw backend error into a StorageError. Sentinel errors
// callers branch on pass through unchanged.
func wrapErr(backend BackendType, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrClosed) || errors.Is(err, ErrReadOnly) || errors.Is(err, ErrInvalidRange) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}

// Reader provides read-only access to stored chain data
type Reader interface {
	// GetBlockByNumber returns the stored block, or ErrNotFound
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)

	// GetTransactionReceipt returns the stored receipt, or ErrNotFound
	GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error)

	// GetLatestBlockNumber returns the highest stored height; ok is false
	// when the store is empty
	GetLatestBlockNumber(ctx context.Context) (number uint64, ok bool, err error)

	// GetEarliestBlockNumber returns the lowest stored height, or ErrNotFound
	GetEarliestBlockNumber(ctx context.Context) (uint64, error)

	// GetBlocksInRange returns the stored heights within [start, end] in
	// ascending order
	GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error)
}

// Writer provides write access to stored chain data
type Writer interface {
	// InsertBlocksAndReceipts stores blocks and receipts as one unit.
	// Re-inserting a height overwrites it; receipts are keyed by
	// transaction hash.
	InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error

	// Clear removes every stored block and receipt
	Clear(ctx context.Context) error
}

// Storage is the full store contract every backend implements
type Storage interface {
	Reader
	Writer
	io.Closer
}

// MissingBlocksFinder is implemented by backends that can compute gaps
// more cheaply than listing present heights.
type MissingBlocksFinder interface {
	GetMissingBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error)
}

// IndexReader is implemented by backends that keep a compact per-block
// index next to the full records.
type IndexReader interface {
	GetBlockIndexEntry(ctx context.Context, number uint64) (*types.BlockIndexEntry, error)
}

// checkRange validates [start, end] and returns its width.
func checkRange(start, end uint64) (uint64, error) {
	if start > end {
		return 0, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	width := end - start
	if width >= MaxRangeSize {
		return 0, fmt.Errorf("%w: [%d, %d] spans more than %d blocks", ErrInvalidRange, start, end, MaxRangeSize)
	}
	return width + 1, nil
}

// GetMissingBlocksInRange returns the heights within [start, end] that are
// not stored, in ascending order. Backends implementing
// MissingBlocksFinder answer directly.
func GetMissingBlocksInRange(ctx context.Context, r Reader, start, end uint64) ([]uint64, error) {
	if finder, ok := r.(MissingBlocksFinder); ok {
		return finder.GetMissingBlocksInRange(ctx, start, end)
	}

	width, err := checkRange(start, end)
	if err != nil {
		return nil, err
	}

	present, err := r.GetBlocksInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	stored := bitset.New(uint(width))
	for _, n := range present {
		if n >= start && n <= end {
			stored.Set(uint(n - start))
		}
	}
	return missingFromBitSet(stored, start, width), nil
}

// missingFromBitSet lists the clear bits of stored as heights offset by start.
func missingFromBitSet(stored *bitset.BitSet, start, width uint64) []uint64 {
	missing := make([]uint64, 0, width-uint64(stored.Count()))
	for i, ok := stored.NextClear(0); ok && uint64(i) < width; i, ok = stored.NextClear(i + 1) {
		missing = append(missing, start+uint64(i))
	}
	return missing
}

// BlockReceipts returns the stored receipts for every transaction of block,
// in transaction order. A missing receipt fails with ErrNotFound.
func BlockReceipts(ctx context.Context, r Reader, block *types.Block) ([]*types.Receipt, error) {
	receipts := make([]*types.Receipt, 0, len(block.TransactionHashes))
	for _, h := range block.TransactionHashes {
		receipt, err := r.GetTransactionReceipt(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("receipt %s of block %d: %w", h, block.Number, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}
