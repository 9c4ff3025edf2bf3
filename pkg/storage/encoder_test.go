package storage

import (
	"encoding/json"
	"testing"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameJSON(t *testing.T, want, got interface{}) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func testBlock() *types.Block {
	zero := types.ZeroUInt256()
	base := types.NewUInt256(7)
	difficulty := types.NewUInt256(2)
	chainID := types.NewUInt256(1)
	number := types.UInt64(0)
	index := types.UInt64(0)
	blockHash := types.Hash256{0xb0}

	legacy := &types.Transaction{
		Hash:             types.Hash256{0x01},
		Type:             types.LegacyTxType,
		BlockHash:        &blockHash,
		BlockNumber:      &number,
		TransactionIndex: &index,
		From:             types.Hash160{0x0f},
		Value:            types.NewUInt256(1),
		Gas:              53_000,
		GasPrice:         &zero,
		Input:            types.Bytes{0x60, 0x80},
		V:                types.NewUInt256(27),
	}
	to := types.Hash160{0xaa}
	accessList := &types.Transaction{
		Hash:     types.Hash256{0x02},
		Type:     types.AccessListTxType,
		From:     types.Hash160{0x0f},
		To:       &to,
		GasPrice: &base,
		ChainID:  &chainID,
		AccessList: types.AccessList{
			{Address: to, StorageKeys: []types.Hash256{{0x11}, {0x12}}},
		},
		Input: types.Bytes{},
	}

	return &types.Block{
		Number:            0,
		Hash:              blockHash,
		Nonce:             types.Hash64{0x42},
		Miner:             types.Hash160{0x99},
		LogsBloom:         make(types.Bytes, 256),
		Difficulty:        &difficulty,
		ExtraData:         types.Bytes("extra"),
		GasLimit:          30_000_000,
		GasUsed:           74_000,
		Timestamp:         1_700_000_000,
		BaseFeePerGas:     &base,
		Transactions:      []*types.Transaction{legacy, accessList},
		TransactionHashes: []types.Hash256{legacy.Hash, accessList.Hash},
	}
}

func TestBlockEncoding(t *testing.T) {
	block := testBlock()

	data, err := EncodeBlock(block)
	require.NoError(t, err)

	got, err := DecodeBlock(data)
	require.NoError(t, err)
	sameJSON(t, block, got)

	require.Len(t, got.Transactions, 2)
	legacy := got.Transactions[0]
	require.NotNil(t, legacy.GasPrice, "zero gas price is kept")
	assert.True(t, legacy.GasPrice.IsZero())
	require.NotNil(t, legacy.BlockNumber, "zero block number is kept")
	assert.Equal(t, types.UInt64(0), *legacy.BlockNumber)
	assert.Nil(t, legacy.To)
	assert.Nil(t, legacy.ChainID)
	assert.Nil(t, legacy.AccessList)
	assert.Equal(t, block.Transactions[1].AccessList, got.Transactions[1].AccessList)
}

func TestBlockEncoding_Summary(t *testing.T) {
	block := testBlock().Summary()
	block.BaseFeePerGas = nil
	block.Difficulty = nil

	data, err := EncodeBlock(block)
	require.NoError(t, err)

	got, err := DecodeBlock(data)
	require.NoError(t, err)
	assert.Nil(t, got.Transactions)
	assert.Equal(t, block.TransactionHashes, got.TransactionHashes)
	assert.Nil(t, got.BaseFeePerGas)
	assert.Nil(t, got.Difficulty)
}

func TestBlockEncoding_EmptyFullBlock(t *testing.T) {
	block := &types.Block{Number: 3, Transactions: []*types.Transaction{}, TransactionHashes: []types.Hash256{}}

	data, err := EncodeBlock(block)
	require.NoError(t, err)

	got, err := DecodeBlock(data)
	require.NoError(t, err)
	assert.NotNil(t, got.Transactions)
	assert.Empty(t, got.Transactions)
	assert.True(t, got.IsFull())
}

func TestReceiptEncoding(t *testing.T) {
	failed := types.UInt64(0)
	price := types.NewUInt256(1_000_000_007)
	created := types.Hash160{0xcc}
	receipt := &types.Receipt{
		TransactionHash:   types.Hash256{0x01},
		TransactionIndex:  0,
		BlockHash:         types.Hash256{0xb0},
		BlockNumber:       12,
		From:              types.Hash160{0x0f},
		CumulativeGasUsed: 53_000,
		GasUsed:           53_000,
		EffectiveGasPrice: &price,
		ContractAddress:   &created,
		Logs: []*types.Log{{
			Address:         created,
			Topics:          []types.Hash256{{0xee}},
			Data:            types.Bytes{0x01},
			BlockNumber:     12,
			TransactionHash: types.Hash256{0x01},
			BlockHash:       types.Hash256{0xb0},
			LogIndex:        3,
			Removed:         true,
		}},
		LogsBloom: make(types.Bytes, 256),
		Status:    &failed,
		Type:      types.LegacyTxType,
	}

	data, err := EncodeReceipt(receipt)
	require.NoError(t, err)

	got, err := DecodeReceipt(data)
	require.NoError(t, err)
	sameJSON(t, receipt, got)
	require.NotNil(t, got.Status, "failed status is kept")
	assert.False(t, got.Succeeded())
	assert.Nil(t, got.To)
	assert.Nil(t, got.Root)
	require.Len(t, got.Logs, 1)
	assert.True(t, got.Logs[0].Removed)
}

func TestDecodeCorrupt(t *testing.T) {
	data, err := EncodeBlock(testBlock())
	require.NoError(t, err)

	_, err = DecodeBlock(data[:len(data)/2])
	require.Error(t, err)
	assert.True(t, types.IsCodecError(err))

	_, err = DecodeReceipt([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, types.IsCodecError(err))
}
