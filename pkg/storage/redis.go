package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisScanCount is the COUNT hint used when scanning keys to clear
const redisScanCount = 1000

// MaxRedisHeight is the highest block number the redis backend stores.
// Heights are sorted-set scores, which are float64 and exact only up to 2^53.
const MaxRedisHeight = 1 << 53

// Ensure RedisStorage implements Storage and IndexReader
var (
	_ Storage     = (*RedisStorage)(nil)
	_ IndexReader = (*RedisStorage)(nil)
)

// RedisStorage keeps records as plain keys and the stored heights in a
// sorted set. Inserts run inside MULTI/EXEC, so a batch is applied as a
// whole, but readers of other keys are not isolated from it. Receipts are
// queued before blocks and the height set is updated last, so a height is
// never visible before its block and receipts. Heights above
// MaxRedisHeight are rejected with ErrInvalidRange.
type RedisStorage struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	closed  atomic.Bool
}

// NewRedisStorage connects to cfg.RedisAddr and pings it
func NewRedisStorage(ctx context.Context, cfg *Config) (*RedisStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	s := &RedisStorage{
		rdb:     rdb,
		prefix:  cfg.RedisKeyPrefix,
		timeout: cfg.QueryTimeout,
		logger:  zap.NewNop(),
	}

	pingCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, wrapErr(BackendTypeRedis, "ping", err)
	}
	return s, nil
}

func newRedisBackend(ctx context.Context, cfg *Config, logger *zap.Logger) (Storage, error) {
	s, err := NewRedisStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	return s, nil
}

func (s *RedisStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *RedisStorage) heightsKey() string {
	return s.prefix + "heights"
}

func (s *RedisStorage) blockKey(n uint64) string {
	return s.prefix + "block:" + strconv.FormatUint(n, 10)
}

func (s *RedisStorage) indexKey(n uint64) string {
	return s.prefix + "index:" + strconv.FormatUint(n, 10)
}

func (s *RedisStorage) receiptKey(hash types.Hash256) string {
	return s.prefix + "receipt:" + hash.Hex()
}

// InsertBlocksAndReceipts implements Writer
func (s *RedisStorage) InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if len(blocks) == 0 && len(receipts) == 0 {
		return nil
	}
	for _, block := range blocks {
		if uint64(block.Number) > MaxRedisHeight {
			return fmt.Errorf("%w: height %d exceeds %d", ErrInvalidRange, block.Number, uint64(MaxRedisHeight))
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, receipt := range receipts {
			encoded, err := EncodeReceipt(receipt)
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.receiptKey(receipt.TransactionHash), encoded, 0)
		}

		members := make([]redis.Z, 0, len(blocks))
		for _, block := range blocks {
			encoded, err := EncodeBlock(block)
			if err != nil {
				return err
			}
			entry, err := encodeIndexEntry(block)
			if err != nil {
				return err
			}
			n := uint64(block.Number)
			pipe.Set(ctx, s.blockKey(n), encoded, 0)
			pipe.Set(ctx, s.indexKey(n), entry, 0)
			members = append(members, redis.Z{Score: float64(n), Member: strconv.FormatUint(n, 10)})
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, s.heightsKey(), members...)
		}
		return nil
	})
	return wrapErr(BackendTypeRedis, "insert", err)
}

// Clear implements Writer
func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return wrapErr(BackendTypeRedis, "clear", err)
	}

	for start := 0; start < len(keys); start += redisScanCount {
		end := start + redisScanCount
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return wrapErr(BackendTypeRedis, "clear", err)
		}
	}
	s.logger.Warn("Storage cleared", zap.Int("keys", len(keys)))
	return nil
}

func (s *RedisStorage) get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// GetBlockByNumber implements Reader
func (s *RedisStorage) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	data, err := s.get(ctx, s.blockKey(number))
	if err != nil {
		return nil, wrapErr(BackendTypeRedis, "get block", err)
	}
	return DecodeBlock(data)
}

// GetBlockIndexEntry implements IndexReader
func (s *RedisStorage) GetBlockIndexEntry(ctx context.Context, number uint64) (*types.BlockIndexEntry, error) {
	data, err := s.get(ctx, s.indexKey(number))
	if err != nil {
		return nil, wrapErr(BackendTypeRedis, "get index", err)
	}
	return decodeIndexEntry(data)
}

// GetTransactionReceipt implements Reader
func (s *RedisStorage) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	data, err := s.get(ctx, s.receiptKey(hash))
	if err != nil {
		return nil, wrapErr(BackendTypeRedis, "get receipt", err)
	}
	return DecodeReceipt(data)
}

// edge returns the lowest or highest member of the height set
func (s *RedisStorage) edge(ctx context.Context, last bool) (uint64, bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, false, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		members []string
		err     error
	)
	if last {
		members, err = s.rdb.ZRevRange(ctx, s.heightsKey(), 0, 0).Result()
	} else {
		members, err = s.rdb.ZRange(ctx, s.heightsKey(), 0, 0).Result()
	}
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid height member %q: %w", members[0], err)
	}
	return n, true, nil
}

// GetLatestBlockNumber implements Reader
func (s *RedisStorage) GetLatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	n, ok, err := s.edge(ctx, true)
	if err != nil {
		return 0, false, wrapErr(BackendTypeRedis, "latest", err)
	}
	return n, ok, nil
}

// GetEarliestBlockNumber implements Reader
func (s *RedisStorage) GetEarliestBlockNumber(ctx context.Context) (uint64, error) {
	n, ok, err := s.edge(ctx, false)
	if err != nil {
		return 0, wrapErr(BackendTypeRedis, "earliest", err)
	}
	if !ok {
		return 0, ErrNotFound
	}
	return n, nil
}

// GetBlocksInRange implements Reader
func (s *RedisStorage) GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if start > MaxRedisHeight {
		return []uint64{}, nil
	}
	if end > MaxRedisHeight {
		end = MaxRedisHeight
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.rdb.ZRangeByScore(ctx, s.heightsKey(), &redis.ZRangeBy{
		Min: strconv.FormatUint(start, 10),
		Max: strconv.FormatUint(end, 10),
	}).Result()
	if err != nil {
		return nil, wrapErr(BackendTypeRedis, "range", err)
	}

	heights := make([]uint64, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, wrapErr(BackendTypeRedis, "range", fmt.Errorf("invalid height member %q: %w", m, err))
		}
		heights = append(heights, n)
	}
	return heights, nil
}

// Close closes the client
func (s *RedisStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rdb.Close()
}
