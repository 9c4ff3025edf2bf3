package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS evm_block (
	id          BIGINT PRIMARY KEY,
	hash        TEXT NOT NULL,
	parent_hash TEXT NOT NULL,
	data        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS evm_receipt (
	id           TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	data         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS evm_receipt_block_number_idx ON evm_receipt (block_number);
`

// Ensure PostgresStorage implements Storage and MissingBlocksFinder
var (
	_ Storage             = (*PostgresStorage)(nil)
	_ MissingBlocksFinder = (*PostgresStorage)(nil)
)

// PostgresStorage stores blocks and receipts as JSONB rows. Each insert is
// one transaction with ON CONFLICT upserts.
type PostgresStorage struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *zap.Logger
	closed  atomic.Bool
}

// NewPostgresStorage connects to cfg.PostgresDSN and creates the schema
func NewPostgresStorage(ctx context.Context, cfg *Config) (*PostgresStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.PostgresMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, wrapErr(BackendTypePostgres, "connect", err)
	}

	s := &PostgresStorage{pool: pool, timeout: cfg.QueryTimeout, logger: zap.NewNop()}

	initCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, wrapErr(BackendTypePostgres, "ping", err)
	}
	if !cfg.ReadOnly {
		if _, err := pool.Exec(initCtx, postgresSchema); err != nil {
			pool.Close()
			return nil, wrapErr(BackendTypePostgres, "create schema", err)
		}
	}
	return s, nil
}

func newPostgresBackend(ctx context.Context, cfg *Config, logger *zap.Logger) (Storage, error) {
	s, err := NewPostgresStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	return s, nil
}

func (s *PostgresStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// toBigint converts a height to a BIGINT column value
func toBigint(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("height %d exceeds BIGINT", n)
	}
	return int64(n), nil
}

// InsertBlocksAndReceipts implements Writer
func (s *PostgresStorage) InsertBlocksAndReceipts(ctx context.Context, blocks []*types.Block, receipts []*types.Receipt) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if len(blocks) == 0 && len(receipts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, receipt := range receipts {
		encoded, err := encodeReceiptJSON(receipt)
		if err != nil {
			return wrapErr(BackendTypePostgres, "insert", err)
		}
		number, err := toBigint(uint64(receipt.BlockNumber))
		if err != nil {
			return wrapErr(BackendTypePostgres, "insert", err)
		}
		batch.Queue(
			`INSERT INTO evm_receipt (id, block_number, data) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET block_number = EXCLUDED.block_number, data = EXCLUDED.data`,
			receipt.TransactionHash.Hex(), number, json.RawMessage(encoded),
		)
	}
	for _, block := range blocks {
		encoded, err := encodeBlockJSON(block)
		if err != nil {
			return wrapErr(BackendTypePostgres, "insert", err)
		}
		number, err := toBigint(uint64(block.Number))
		if err != nil {
			return wrapErr(BackendTypePostgres, "insert", err)
		}
		batch.Queue(
			`INSERT INTO evm_block (id, hash, parent_hash, data) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET hash = EXCLUDED.hash, parent_hash = EXCLUDED.parent_hash, data = EXCLUDED.data`,
			number, block.Hash.Hex(), block.ParentHash.Hex(), json.RawMessage(encoded),
		)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr(BackendTypePostgres, "begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr(BackendTypePostgres, "insert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr(BackendTypePostgres, "commit", err)
	}
	return nil
}

// Clear implements Writer
func (s *PostgresStorage) Clear(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE evm_block, evm_receipt"); err != nil {
		return wrapErr(BackendTypePostgres, "clear", err)
	}
	s.logger.Warn("Postgres tables cleared")
	return nil
}

// getData selects the JSONB column of one row
func (s *PostgresStorage) getData(ctx context.Context, query string, arg interface{}) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data []byte
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// GetBlockByNumber implements Reader
func (s *PostgresStorage) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if number > math.MaxInt64 {
		return nil, ErrNotFound
	}
	data, err := s.getData(ctx, "SELECT data FROM evm_block WHERE id = $1", int64(number))
	if err != nil {
		return nil, wrapErr(BackendTypePostgres, "get block", err)
	}
	return decodeBlockJSON(data)
}

// GetTransactionReceipt implements Reader
func (s *PostgresStorage) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	data, err := s.getData(ctx, "SELECT data FROM evm_receipt WHERE id = $1", hash.Hex())
	if err != nil {
		return nil, wrapErr(BackendTypePostgres, "get receipt", err)
	}
	return decodeReceiptJSON(data)
}

// edge runs an aggregate over evm_block ids; ok is false on an empty table
func (s *PostgresStorage) edge(ctx context.Context, query string) (uint64, bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, false, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n *int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, false, err
	}
	if n == nil {
		return 0, false, nil
	}
	return uint64(*n), true, nil
}

// GetLatestBlockNumber implements Reader
func (s *PostgresStorage) GetLatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	n, ok, err := s.edge(ctx, "SELECT MAX(id) FROM evm_block")
	if err != nil {
		return 0, false, wrapErr(BackendTypePostgres, "latest", err)
	}
	return n, ok, nil
}

// GetEarliestBlockNumber implements Reader
func (s *PostgresStorage) GetEarliestBlockNumber(ctx context.Context) (uint64, error) {
	n, ok, err := s.edge(ctx, "SELECT MIN(id) FROM evm_block")
	if err != nil {
		return 0, wrapErr(BackendTypePostgres, "earliest", err)
	}
	if !ok {
		return 0, ErrNotFound
	}
	return n, nil
}

// clampRange maps [start, end] onto BIGINT; ok is false when nothing of
// the range is representable
func clampRange(start, end uint64) (int64, int64, bool) {
	if start > math.MaxInt64 {
		return 0, 0, false
	}
	if end > math.MaxInt64 {
		end = math.MaxInt64
	}
	return int64(start), int64(end), true
}

// queryHeights collects the single BIGINT column of query
func (s *PostgresStorage) queryHeights(ctx context.Context, query string, start, end int64) ([]uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	heights := make([]uint64, len(ids))
	for i, id := range ids {
		heights[i] = uint64(id)
	}
	return heights, nil
}

// GetBlocksInRange implements Reader
func (s *PostgresStorage) GetBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	lo, hi, ok := clampRange(start, end)
	if !ok {
		return nil, nil
	}
	heights, err := s.queryHeights(ctx, "SELECT id FROM evm_block WHERE id BETWEEN $1 AND $2 ORDER BY id", lo, hi)
	if err != nil {
		return nil, wrapErr(BackendTypePostgres, "range", err)
	}
	return heights, nil
}

// GetMissingBlocksInRange implements MissingBlocksFinder with an
// anti-join against generate_series.
func (s *PostgresStorage) GetMissingBlocksInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	if _, err := checkRange(start, end); err != nil {
		return nil, err
	}
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	lo, hi, ok := clampRange(start, end)
	if !ok || end > math.MaxInt64 {
		// heights beyond BIGINT can never be stored
		return GetMissingBlocksInRange(ctx, readerOnly{s}, start, end)
	}
	missing, err := s.queryHeights(ctx, `
		SELECT g.n FROM generate_series($1::BIGINT, $2::BIGINT) AS g(n)
		WHERE NOT EXISTS (SELECT 1 FROM evm_block b WHERE b.id = g.n)
		ORDER BY g.n`, lo, hi)
	if err != nil {
		return nil, wrapErr(BackendTypePostgres, "missing", err)
	}
	return missing, nil
}

// readerOnly hides optional interfaces so the generic path is used
type readerOnly struct {
	Reader
}

// Close closes the pool
func (s *PostgresStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}
