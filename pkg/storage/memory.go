package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"go.uber.org/zap"
)

// Ensure MemoryStorage implements Storage and IndexReader
var (
	_ Storage     = (*MemoryStorage)(nil)
	_ IndexReader = (*MemoryStorage)(nil)
)

// MemoryStorage is the in-memory reference backend. Records are kept
// encoded so callers never share memory with the store.
type MemoryStorage struct {
	mu       sync.RWMutex
	blocks   map[uint64][]byte
	index    map[uint64]types.BlockIndexEntry
	receipts map[types.Hash256][]byte
	heights  []uint64 // sorted
	closed   bool
	logger   *zap.Logger
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blocks:   make(map[uint64][]byte),
		index:    make(map[uint64]types.BlockIndexEntry),
		receipts: make(map[types.Hash256][]byte),
		logger:   zap.NewNop(),
	}
}

func newMemoryBackend(_ context.Context, _ *Config, logger *zap.Logger) (Storage, error) {
	s := NewMemoryStorage()
	s.logger = logger
	return s, nil
}

// InsertBlocksAndReceipts implements Writer
func (s *MemoryStorage) InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error {
	encodedBlocks := make([][]byte, len(blocks))
	for i, block := range blocks {
		data, err := EncodeBlock(block)
		if err != nil {
			return wrapErr(BackendTypeMemory, "insert", err)
		}
		encodedBlocks[i] = data
	}
	encodedReceipts := make([][]byte, len(receipts))
	for i, receipt := range receipts {
		data, err := EncodeReceipt(receipt)
		if err != nil {
			return wrapErr(BackendTypeMemory, "insert", err)
		}
		encodedReceipts[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for i, receipt := range receipts {
		s.receipts[receipt.TransactionHash] = encodedReceipts[i]
	}
	for i, block := range blocks {
		n := uint64(block.Number)
		if _, exists := s.blocks[n]; !exists {
			s.insertHeight(n)
		}
		s.blocks[n] = encodedBlocks[i]
		s.index[n] = block.IndexEntry()
	}
	return nil
}

func (s *MemoryStorage) insertHeight(n uint64) {
	i := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] >= n })
	s.heights = append(s.heights, 0)
	copy(s.heights[i+1:], s.heights[i:])
	s.heights[i] = n
}

// Clear implements Writer
func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.blocks = make(map[uint64][]byte)
	s.index = make(map[uint64]types.BlockIndexEntry)
	s.receipts = make(map[types.Hash256][]byte)
	s.heights = nil
	s.logger.Warn("Storage cleared")
	return nil
}

// GetBlockByNumber implements Reader
func (s *MemoryStorage) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.blocks[number]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeBlock(data)
}

// GetBlockIndexEntry implements IndexReader
func (s *MemoryStorage) GetBlockIndexEntry(ctx context.Context, number uint64) (*types.BlockIndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	entry, ok := s.index[number]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// GetTransactionReceipt implements Reader
func (s *MemoryStorage) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.receipts[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeReceipt(data)
}

// GetLatestBlockNumber implements Reader
func (s *MemoryStorage) GetLatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, false, ErrClosed
	}
	if len(s.heights) == 0 {
		return 0, false, nil
	}
	return s.heights[len(s.heights)-1], true, nil
}

// GetEarliestBlockNumber implements Reader
func (s *MemoryStorage) GetEarliestBlockNumber(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(s.heights) == 0 {
		return 0, ErrNotFound
	}
	return s.heights[0], nil
}

// GetBlocksInRange implements Reader
func (s *MemoryStorage) GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	lo := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] >= start })
	hi := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] > end })
	out := make([]uint64, hi-lo)
	copy(out, s.heights[lo:hi])
	return out, nil
}

// Close implements io.Closer
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
