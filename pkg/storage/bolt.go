package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/bits-and-blooms/bitset"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// boltFileMode is the file mode for the database file (read-write for owner only)
	boltFileMode = 0600

	// boltOpenTimeout bounds waiting for the file lock
	boltOpenTimeout = 5 * time.Second
)

var (
	bucketBlocks   = []byte("blocks")
	bucketReceipts = []byte("receipts")
	bucketIndex    = []byte("index")
)

// Ensure BoltStorage implements Storage, IndexReader and MissingBlocksFinder
var (
	_ Storage             = (*BoltStorage)(nil)
	_ IndexReader         = (*BoltStorage)(nil)
	_ MissingBlocksFinder = (*BoltStorage)(nil)
)

// BoltStorage implements Storage using a single bbolt file. Each insert is
// one Update transaction.
type BoltStorage struct {
	db     *bolt.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewBoltStorage opens (or creates) the bbolt file at cfg.Path
func NewBoltStorage(cfg *Config) (*BoltStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, wrapErr(BackendTypeBolt, "open", err)
		}
	}

	db, err := bolt.Open(cfg.Path, boltFileMode, &bolt.Options{
		Timeout:  boltOpenTimeout,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, wrapErr(BackendTypeBolt, "open", fmt.Errorf("failed to open database: %w", err))
	}

	if !cfg.ReadOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketBlocks, bucketReceipts, bucketIndex} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("failed to create bucket %s: %w", name, err)
				}
			}
			return nil
		}); err != nil {
			db.Close()
			return nil, wrapErr(BackendTypeBolt, "open", err)
		}
	}

	return &BoltStorage{db: db, config: cfg, logger: zap.NewNop()}, nil
}

func newBoltBackend(_ context.Context, cfg *Config, logger *zap.Logger) (Storage, error) {
	s, err := NewBoltStorage(cfg)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	return s, nil
}

func (s *BoltStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// bucket returns the named bucket, or ErrNotFound when a read-only file
// was never initialized
func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s: %w", name, ErrNotFound)
	}
	return b, nil
}

// InsertBlocksAndReceipts implements Writer
func (s *BoltStorage) InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		rb, err := bucket(tx, bucketReceipts)
		if err != nil {
			return err
		}
		for _, receipt := range receipts {
			encoded, err := EncodeReceipt(receipt)
			if err != nil {
				return err
			}
			if err := rb.Put(receipt.TransactionHash[:], encoded); err != nil {
				return err
			}
		}

		bb, err := bucket(tx, bucketBlocks)
		if err != nil {
			return err
		}
		ib, err := bucket(tx, bucketIndex)
		if err != nil {
			return err
		}
		for _, block := range blocks {
			encoded, err := EncodeBlock(block)
			if err != nil {
				return err
			}
			entry, err := encodeIndexEntry(block)
			if err != nil {
				return err
			}
			key := EncodeUint64(uint64(block.Number))
			if err := bb.Put(key, encoded); err != nil {
				return err
			}
			if err := ib.Put(key, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr(BackendTypeBolt, "insert", err)
}

// Clear implements Writer
func (s *BoltStorage) Clear(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketReceipts, bucketIndex} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapErr(BackendTypeBolt, "clear", err)
	}
	s.logger.Warn("Storage cleared")
	return nil
}

// view runs fn against a copy of the value stored under key in bucket name
func (s *BoltStorage) view(name, key []byte, fn func([]byte) error) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction
		return fn(append([]byte(nil), v...))
	})
}

// GetBlockByNumber implements Reader
func (s *BoltStorage) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := s.view(bucketBlocks, EncodeUint64(number), func(v []byte) error {
		var err error
		block, err = DecodeBlock(v)
		return err
	})
	if err != nil {
		return nil, wrapErr(BackendTypeBolt, "get block", err)
	}
	return block, nil
}

// GetBlockIndexEntry implements IndexReader
func (s *BoltStorage) GetBlockIndexEntry(ctx context.Context, number uint64) (*types.BlockIndexEntry, error) {
	var entry *types.BlockIndexEntry
	err := s.view(bucketIndex, EncodeUint64(number), func(v []byte) error {
		var err error
		entry, err = decodeIndexEntry(v)
		return err
	})
	if err != nil {
		return nil, wrapErr(BackendTypeBolt, "get index", err)
	}
	return entry, nil
}

// GetTransactionReceipt implements Reader
func (s *BoltStorage) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := s.view(bucketReceipts, hash[:], func(v []byte) error {
		var err error
		receipt, err = DecodeReceipt(v)
		return err
	})
	if err != nil {
		return nil, wrapErr(BackendTypeBolt, "get receipt", err)
	}
	return receipt, nil
}

// edge returns the first or last index key
func (s *BoltStorage) edge(last bool) (uint64, bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, false, err
	}
	var (
		n     uint64
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketIndex)
		if err != nil {
			return err
		}
		c := b.Cursor()
		var k []byte
		if last {
			k, _ = c.Last()
		} else {
			k, _ = c.First()
		}
		if k == nil {
			return nil
		}
		n, err = DecodeUint64(k)
		found = err == nil
		return err
	})
	return n, found, err
}

// GetLatestBlockNumber implements Reader
func (s *BoltStorage) GetLatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	n, ok, err := s.edge(true)
	if err != nil {
		return 0, false, wrapErr(BackendTypeBolt, "latest", err)
	}
	return n, ok, nil
}

// GetEarliestBlockNumber implements Reader
func (s *BoltStorage) GetEarliestBlockNumber(ctx context.Context) (uint64, error) {
	n, ok, err := s.edge(false)
	if err != nil {
		return 0, wrapErr(BackendTypeBolt, "earliest", err)
	}
	if !ok {
		return 0, ErrNotFound
	}
	return n, nil
}

// scan calls fn for every stored height within [start, end]
func (s *BoltStorage) scan(start, end uint64, fn func(uint64)) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	lowerRaw := EncodeUint64(start)
	upperRaw := EncodeUint64(end)
	return s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketIndex)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, _ := c.Seek(lowerRaw); k != nil && bytes.Compare(k, upperRaw) <= 0; k, _ = c.Next() {
			n, err := DecodeUint64(k)
			if err != nil {
				return err
			}
			fn(n)
		}
		return nil
	})
}

// GetBlocksInRange implements Reader
func (s *BoltStorage) GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}
	var heights []uint64
	if err := s.scan(start, end, func(n uint64) { heights = append(heights, n) }); err != nil {
		return nil, wrapErr(BackendTypeBolt, "range", err)
	}
	return heights, nil
}

// GetMissingBlocksInRange implements MissingBlocksFinder by clearing a
// bitset of stored heights straight from the index cursor.
func (s *BoltStorage) GetMissingBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	width, err := checkRange(start, end)
	if err != nil {
		return nil, err
	}

	stored := bitset.New(uint(width))
	if err := s.scan(start, end, func(n uint64) { stored.Set(uint(n - start)) }); err != nil {
		return nil, wrapErr(BackendTypeBolt, "missing", err)
	}
	return missingFromBitSet(stored, start, width), nil
}

// Close closes the database file
func (s *BoltStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
