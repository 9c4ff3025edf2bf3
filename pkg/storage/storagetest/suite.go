// Package storagetest is the conformance suite every storage backend must
// pass.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/0xmhha/evm-block-extractor/internal/testutil"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the conformance suite against stores built by newStorage
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"EmptyStore", testEmptyStore},
		{"InsertAndRead", testInsertAndRead},
		{"Idempotent", testIdempotent},
		{"RangeAndGaps", testRangeAndGaps},
		{"EmptyBlocks", testEmptyBlocks},
		{"IndexEntries", testIndexEntries},
		{"Clear", testClear},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func insertChain(t *testing.T, s storage.Storage, from, to uint64, txPerBlock int) ([]*types.Block, []*types.Receipt) {
	t.Helper()
	blocks, receipts := testutil.NewTestChain(from, to, txPerBlock)
	require.NoError(t, s.InsertBlocksAndReceipts(context.Background(), blocks, receipts))
	return blocks, receipts
}

func insertHeights(t *testing.T, s storage.Storage, heights ...uint64) {
	t.Helper()
	var blocks []*types.Block
	var receipts []*types.Receipt
	for _, n := range heights {
		b, r := testutil.NewTestChain(n, n, 1)
		blocks = append(blocks, b...)
		receipts = append(receipts, r...)
	}
	require.NoError(t, s.InsertBlocksAndReceipts(context.Background(), blocks, receipts))
}

func assertSameJSON(t *testing.T, want, got interface{}) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func testEmptyStore(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, ok, err := s.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetEarliestBlockNumber(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetBlockByNumber(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetTransactionReceipt(ctx, testutil.TxHash(0, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	heights, err := s.GetBlocksInRange(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, heights)

	missing, err := storage.GetMissingBlocksInRange(ctx, s, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3}, missing)
}

func testInsertAndRead(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	blocks, receipts := insertChain(t, s, 0, 4, 2)

	for _, want := range blocks {
		got, err := s.GetBlockByNumber(ctx, uint64(want.Number))
		require.NoError(t, err)
		assert.Equal(t, want.Hash, got.Hash)
		assert.Equal(t, want.ParentHash, got.ParentHash)
		assert.Equal(t, want.TransactionHashes, got.TransactionHashes)
		require.Len(t, got.Transactions, len(want.Transactions))
		assertSameJSON(t, want, got)
	}

	for _, want := range receipts {
		got, err := s.GetTransactionReceipt(ctx, want.TransactionHash)
		require.NoError(t, err)
		assertSameJSON(t, want, got)
	}

	latest, ok, err := s.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), latest)

	earliest, err := s.GetEarliestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), earliest)

	got, err := storage.BlockReceipts(ctx, s, blocks[3])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, blocks[3].TransactionHashes[0], got[0].TransactionHash)
	assert.Equal(t, blocks[3].TransactionHashes[1], got[1].TransactionHash)
}

func testIdempotent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	blocks, receipts := insertChain(t, s, 5, 7, 1)
	require.NoError(t, s.InsertBlocksAndReceipts(ctx, blocks, receipts))

	heights, err := s.GetBlocksInRange(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7}, heights)

	// a re-fetched block replaces the stored one
	replacement := testutil.NewTestBlock(6, 0)
	replacement.GasUsed = 12345
	replacement.Hash = types.Keccak256Hash([]byte("replacement"))
	require.NoError(t, s.InsertBlocksAndReceipts(ctx, []*types.Block{replacement}, nil))

	got, err := s.GetBlockByNumber(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, replacement.Hash, got.Hash)
	assert.Equal(t, types.UInt64(12345), got.GasUsed)
	assert.Empty(t, got.TransactionHashes)

	heights, err = s.GetBlocksInRange(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7}, heights)

	latest, _, err := s.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), latest)
}

func testRangeAndGaps(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	insertHeights(t, s, 10, 12, 15)

	heights, err := s.GetBlocksInRange(ctx, 10, 15)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 12, 15}, heights)

	missing, err := storage.GetMissingBlocksInRange(ctx, s, 10, 15)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 13, 14}, missing)

	tests := []struct {
		name       string
		start, end uint64
		present    []uint64
		missing    []uint64
	}{
		{"single stored", 12, 12, []uint64{12}, []uint64{}},
		{"single missing", 13, 13, nil, []uint64{13}},
		{"below", 0, 9, nil, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"above", 16, 18, nil, []uint64{16, 17, 18}},
		{"overlap", 14, 17, []uint64{15}, []uint64{14, 16, 17}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			heights, err := s.GetBlocksInRange(ctx, tt.start, tt.end)
			require.NoError(t, err)
			if len(tt.present) == 0 {
				assert.Empty(t, heights)
			} else {
				assert.Equal(t, tt.present, heights)
			}

			missing, err := storage.GetMissingBlocksInRange(ctx, s, tt.start, tt.end)
			require.NoError(t, err)
			if len(tt.missing) == 0 {
				assert.Empty(t, missing)
			} else {
				assert.Equal(t, tt.missing, missing)
			}
		})
	}

	_, err = s.GetBlocksInRange(ctx, 15, 10)
	assert.ErrorIs(t, err, storage.ErrInvalidRange)
	_, err = storage.GetMissingBlocksInRange(ctx, s, 15, 10)
	assert.ErrorIs(t, err, storage.ErrInvalidRange)

	earliest, err := s.GetEarliestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), earliest)
}

func testEmptyBlocks(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	blocks, receipts := insertChain(t, s, 1, 3, 0)
	assert.Empty(t, receipts)

	got, err := s.GetBlockByNumber(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, blocks[1].Hash, got.Hash)
	assert.Empty(t, got.TransactionHashes)

	all, err := storage.BlockReceipts(ctx, s, got)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.InsertBlocksAndReceipts(ctx, nil, nil))
}

func testIndexEntries(t *testing.T, s storage.Storage) {
	ir, ok := s.(storage.IndexReader)
	if !ok {
		t.Skip("backend keeps no block index")
	}
	ctx := context.Background()
	blocks, _ := insertChain(t, s, 3, 4, 3)

	entry, err := ir.GetBlockIndexEntry(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, blocks[1].IndexEntry(), *entry)
	assert.Equal(t, blocks[0].Hash, entry.ParentHash)
	assert.Equal(t, types.UInt64(3), entry.TxCount)

	_, err = ir.GetBlockIndexEntry(ctx, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testClear(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, receipts := insertChain(t, s, 0, 2, 1)

	require.NoError(t, s.Clear(ctx))

	_, ok, err := s.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetTransactionReceipt(ctx, receipts[0].TransactionHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	insertChain(t, s, 7, 7, 0)
	latest, ok, err := s.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), latest)
}

func testClosed(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.GetBlockByNumber(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, _, err = s.GetLatestBlockNumber(ctx)
	assert.ErrorIs(t, err, storage.ErrClosed)

	err = s.InsertBlocksAndReceipts(ctx, []*types.Block{testutil.NewTestBlock(1, 0)}, nil)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
