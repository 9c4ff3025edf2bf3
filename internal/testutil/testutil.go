package testutil

import (
	"testing"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// BlockHash returns the deterministic hash used for test block n
func BlockHash(n uint64) types.Hash256 {
	return types.Keccak256Hash([]byte("block"), types.UInt64(n).BigEndian())
}

// TxHash returns the deterministic hash of transaction i in test block n
func TxHash(n uint64, i int) types.Hash256 {
	return types.Keccak256Hash([]byte("tx"), types.UInt64(n).BigEndian(), types.UInt64(i).BigEndian())
}

// NewTestBlock creates a full block n with txCount transactions whose parent
// is test block n-1
func NewTestBlock(n uint64, txCount int) *types.Block {
	base := types.NewUInt256(1_000_000_000)
	block := &types.Block{
		Number:            types.UInt64(n),
		Hash:              BlockHash(n),
		GasLimit:          30_000_000,
		GasUsed:           types.UInt64(21_000 * txCount),
		Timestamp:         types.UInt64(1_700_000_000 + 12*n),
		BaseFeePerGas:     &base,
		LogsBloom:         types.Bytes{},
		ExtraData:         types.Bytes{},
		Transactions:      []*types.Transaction{},
		TransactionHashes: []types.Hash256{},
	}
	if n > 0 {
		block.ParentHash = BlockHash(n - 1)
	}

	for i := 0; i < txCount; i++ {
		number := types.UInt64(n)
		index := types.UInt64(i)
		blockHash := block.Hash
		maxFee := types.NewUInt256(2_000_000_000)
		tip := types.NewUInt256(100_000_000)
		to := types.Hash160{0xaa, byte(i)}
		tx := &types.Transaction{
			Hash:                 TxHash(n, i),
			Type:                 types.DynamicFeeTxType,
			Nonce:                types.UInt64(i),
			BlockHash:            &blockHash,
			BlockNumber:          &number,
			TransactionIndex:     &index,
			From:                 types.Hash160{0x01},
			To:                   &to,
			Value:                types.NewUInt256(uint64(i) + 1),
			Gas:                  21_000,
			MaxFeePerGas:         &maxFee,
			MaxPriorityFeePerGas: &tip,
			Input:                types.Bytes{},
		}
		block.Transactions = append(block.Transactions, tx)
		block.TransactionHashes = append(block.TransactionHashes, tx.Hash)
	}
	return block
}

// NewTestReceipt creates a successful receipt for tx
func NewTestReceipt(block *types.Block, tx *types.Transaction) *types.Receipt {
	status := types.UInt64(1)
	index := types.UInt64(0)
	if tx.TransactionIndex != nil {
		index = *tx.TransactionIndex
	}
	return &types.Receipt{
		TransactionHash:   tx.Hash,
		TransactionIndex:  index,
		BlockHash:         block.Hash,
		BlockNumber:       block.Number,
		From:              tx.From,
		To:                tx.To,
		CumulativeGasUsed: types.UInt64(21_000 * (uint64(index) + 1)),
		GasUsed:           21_000,
		Logs:              []*types.Log{},
		LogsBloom:         types.Bytes{},
		Status:            &status,
		Type:              tx.Type,
	}
}

// NewTestChain builds blocks from..to (inclusive) with txPerBlock
// transactions each, plus their receipts
func NewTestChain(from, to uint64, txPerBlock int) ([]*types.Block, []*types.Receipt) {
	var blocks []*types.Block
	var receipts []*types.Receipt
	for n := from; n <= to; n++ {
		block := NewTestBlock(n, txPerBlock)
		blocks = append(blocks, block)
		for _, tx := range block.Transactions {
			receipts = append(receipts, NewTestReceipt(block, tx))
		}
	}
	return blocks, receipts
}
