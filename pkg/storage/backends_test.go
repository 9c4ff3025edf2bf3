package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/0xmhha/evm-block-extractor/internal/testutil"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return storage.NewMemoryStorage()
	})
}

func TestPebbleConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := storage.NewPebbleStorage(storage.DefaultConfig(storage.BackendTypePebble, t.TempDir()))
		require.NoError(t, err)
		s.SetLogger(testutil.NewTestLogger(t))
		return s
	})
}

func TestBoltConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		path := filepath.Join(t.TempDir(), "data", "extractor.db")
		s, err := storage.NewBoltStorage(storage.DefaultConfig(storage.BackendTypeBolt, path))
		require.NoError(t, err)
		return s
	})
}

var redisPrefixSeq atomic.Uint64

func TestRedisConformance(t *testing.T) {
	addr := os.Getenv("EXTRACTOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXTRACTOR_TEST_REDIS_ADDR not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		cfg := storage.DefaultConfig(storage.BackendTypeRedis, "")
		cfg.RedisAddr = addr
		cfg.RedisKeyPrefix = fmt.Sprintf("extractor-test:%d:%s:", redisPrefixSeq.Add(1), strings.ReplaceAll(t.Name(), "/", "_"))

		s, err := storage.Open(context.Background(), cfg, testutil.NewTestLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() {
			cleanup, err := storage.NewRedisStorage(context.Background(), cfg)
			if err == nil {
				_ = cleanup.Clear(context.Background())
				_ = cleanup.Close()
			}
		})
		return s
	})
}

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("EXTRACTOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXTRACTOR_TEST_POSTGRES_DSN not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		cfg := storage.DefaultConfig(storage.BackendTypePostgres, "")
		cfg.PostgresDSN = dsn

		s, err := storage.Open(context.Background(), cfg, testutil.NewTestLogger(t))
		require.NoError(t, err)
		require.NoError(t, s.Clear(context.Background()))
		return s
	})
}

func TestPebbleReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := storage.NewPebbleStorage(storage.DefaultConfig(storage.BackendTypePebble, dir))
	require.NoError(t, err)
	blocks, receipts := testutil.NewTestChain(0, 3, 1)
	require.NoError(t, s.InsertBlocksAndReceipts(ctx, blocks, receipts))
	require.NoError(t, s.Close())

	cfg := storage.DefaultConfig(storage.BackendTypePebble, dir)
	cfg.ReadOnly = true
	ro, err := storage.NewPebbleStorage(cfg)
	require.NoError(t, err)
	defer ro.Close()

	latest, ok, err := ro.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), latest)

	err = ro.InsertBlocksAndReceipts(ctx, blocks, receipts)
	require.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extractor.db")
	ctx := context.Background()

	s, err := storage.NewBoltStorage(storage.DefaultConfig(storage.BackendTypeBolt, path))
	require.NoError(t, err)
	blocks, receipts := testutil.NewTestChain(5, 9, 2)
	require.NoError(t, s.InsertBlocksAndReceipts(ctx, blocks, receipts))
	require.NoError(t, s.Close())

	s, err = storage.NewBoltStorage(storage.DefaultConfig(storage.BackendTypeBolt, path))
	require.NoError(t, err)
	defer s.Close()

	earliest, err := s.GetEarliestBlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), earliest)

	receipt, err := s.GetTransactionReceipt(ctx, receipts[len(receipts)-1].TransactionHash)
	require.NoError(t, err)
	require.Equal(t, blocks[4].Hash, receipt.BlockHash)
}
