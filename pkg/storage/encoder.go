package storage

import (
	"encoding/json"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Blocks and receipts are stored by the key-value backends as RLP records.
// Optional integers are wrapped in optional[T] since RLP cannot tell a nil
// pointer from a zero value for them.

type optional[T any] struct {
	Set   bool
	Value T
}

func some[T any](p *T) optional[T] {
	if p == nil {
		return optional[T]{}
	}
	return optional[T]{Set: true, Value: *p}
}

func (o optional[T]) ptr() *T {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

type txRecord struct {
	Hash                 types.Hash256
	Type                 types.UInt64
	Nonce                types.UInt64
	BlockHash            *types.Hash256 `rlp:"nil"`
	BlockNumber          optional[types.UInt64]
	TransactionIndex     optional[types.UInt64]
	From                 types.Hash160
	To                   *types.Hash160 `rlp:"nil"`
	Value                types.UInt256
	Gas                  types.UInt64
	GasPrice             optional[types.UInt256]
	MaxFeePerGas         optional[types.UInt256]
	MaxPriorityFeePerGas optional[types.UInt256]
	Input                types.Bytes
	ChainID              optional[types.UInt256]
	AccessList           types.AccessList
	V                    types.UInt256
	R                    types.UInt256
	S                    types.UInt256
}

type blockRecord struct {
	Number            types.UInt64
	Hash              types.Hash256
	ParentHash        types.Hash256
	Nonce             types.Hash64
	Miner             types.Hash160
	StateRoot         types.Hash256
	TransactionsRoot  types.Hash256
	ReceiptsRoot      types.Hash256
	LogsBloom         types.Bytes
	Difficulty        optional[types.UInt256]
	ExtraData         types.Bytes
	GasLimit          types.UInt64
	GasUsed           types.UInt64
	Timestamp         types.UInt64
	BaseFeePerGas     optional[types.UInt256]
	Full              bool
	Transactions      []*txRecord
	TransactionHashes []types.Hash256
}

type logRecord struct {
	Address          types.Hash160
	Topics           []types.Hash256
	Data             types.Bytes
	BlockNumber      types.UInt64
	TransactionHash  types.Hash256
	TransactionIndex types.UInt64
	BlockHash        types.Hash256
	LogIndex         types.UInt64
	Removed          bool
}

type receiptRecord struct {
	TransactionHash   types.Hash256
	TransactionIndex  types.UInt64
	BlockHash         types.Hash256
	BlockNumber       types.UInt64
	From              types.Hash160
	To                *types.Hash160 `rlp:"nil"`
	CumulativeGasUsed types.UInt64
	GasUsed           types.UInt64
	EffectiveGasPrice optional[types.UInt256]
	ContractAddress   *types.Hash160 `rlp:"nil"`
	Logs              []*logRecord
	LogsBloom         types.Bytes
	Status            optional[types.UInt64]
	Root              *types.Hash256 `rlp:"nil"`
	Type              types.UInt64
}

func newTxRecord(tx *types.Transaction) *txRecord {
	return &txRecord{
		Hash:                 tx.Hash,
		Type:                 tx.Type,
		Nonce:                tx.Nonce,
		BlockHash:            tx.BlockHash,
		BlockNumber:          some(tx.BlockNumber),
		TransactionIndex:     some(tx.TransactionIndex),
		From:                 tx.From,
		To:                   tx.To,
		Value:                tx.Value,
		Gas:                  tx.Gas,
		GasPrice:             some(tx.GasPrice),
		MaxFeePerGas:         some(tx.MaxFeePerGas),
		MaxPriorityFeePerGas: some(tx.MaxPriorityFeePerGas),
		Input:                tx.Input,
		ChainID:              some(tx.ChainID),
		AccessList:           tx.AccessList,
		V:                    tx.V,
		R:                    tx.R,
		S:                    tx.S,
	}
}

func (r *txRecord) transaction() *types.Transaction {
	tx := &types.Transaction{
		Hash:                 r.Hash,
		Type:                 r.Type,
		Nonce:                r.Nonce,
		BlockHash:            r.BlockHash,
		BlockNumber:          r.BlockNumber.ptr(),
		TransactionIndex:     r.TransactionIndex.ptr(),
		From:                 r.From,
		To:                   r.To,
		Value:                r.Value,
		Gas:                  r.Gas,
		GasPrice:             r.GasPrice.ptr(),
		MaxFeePerGas:         r.MaxFeePerGas.ptr(),
		MaxPriorityFeePerGas: r.MaxPriorityFeePerGas.ptr(),
		Input:                r.Input,
		ChainID:              r.ChainID.ptr(),
		V:                    r.V,
		R:                    r.R,
		S:                    r.S,
	}
	if len(r.AccessList) > 0 {
		tx.AccessList = r.AccessList
	}
	return tx
}

// EncodeBlock serializes a block with its full transactions attached
func EncodeBlock(block *types.Block) ([]byte, error) {
	rec := &blockRecord{
		Number:            block.Number,
		Hash:              block.Hash,
		ParentHash:        block.ParentHash,
		Nonce:             block.Nonce,
		Miner:             block.Miner,
		StateRoot:         block.StateRoot,
		TransactionsRoot:  block.TransactionsRoot,
		ReceiptsRoot:      block.ReceiptsRoot,
		LogsBloom:         block.LogsBloom,
		Difficulty:        some(block.Difficulty),
		ExtraData:         block.ExtraData,
		GasLimit:          block.GasLimit,
		GasUsed:           block.GasUsed,
		Timestamp:         block.Timestamp,
		BaseFeePerGas:     some(block.BaseFeePerGas),
		Full:              block.Transactions != nil,
		Transactions:      make([]*txRecord, 0, len(block.Transactions)),
		TransactionHashes: block.TransactionHashes,
	}
	for _, tx := range block.Transactions {
		rec.Transactions = append(rec.Transactions, newTxRecord(tx))
	}

	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block %d: %w", block.Number, err)
	}
	return data, nil
}

// DecodeBlock reverses EncodeBlock
func DecodeBlock(data []byte) (*types.Block, error) {
	var rec blockRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, types.NewCodecError("decode stored block", err)
	}

	block := &types.Block{
		Number:            rec.Number,
		Hash:              rec.Hash,
		ParentHash:        rec.ParentHash,
		Nonce:             rec.Nonce,
		Miner:             rec.Miner,
		StateRoot:         rec.StateRoot,
		TransactionsRoot:  rec.TransactionsRoot,
		ReceiptsRoot:      rec.ReceiptsRoot,
		LogsBloom:         rec.LogsBloom,
		Difficulty:        rec.Difficulty.ptr(),
		ExtraData:         rec.ExtraData,
		GasLimit:          rec.GasLimit,
		GasUsed:           rec.GasUsed,
		Timestamp:         rec.Timestamp,
		BaseFeePerGas:     rec.BaseFeePerGas.ptr(),
		TransactionHashes: rec.TransactionHashes,
	}
	if rec.Full {
		block.Transactions = make([]*types.Transaction, 0, len(rec.Transactions))
		for _, tx := range rec.Transactions {
			block.Transactions = append(block.Transactions, tx.transaction())
		}
	}
	return block, nil
}

// EncodeReceipt serializes a receipt with its logs
func EncodeReceipt(receipt *types.Receipt) ([]byte, error) {
	rec := &receiptRecord{
		TransactionHash:   receipt.TransactionHash,
		TransactionIndex:  receipt.TransactionIndex,
		BlockHash:         receipt.BlockHash,
		BlockNumber:       receipt.BlockNumber,
		From:              receipt.From,
		To:                receipt.To,
		CumulativeGasUsed: receipt.CumulativeGasUsed,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: some(receipt.EffectiveGasPrice),
		ContractAddress:   receipt.ContractAddress,
		Logs:              make([]*logRecord, 0, len(receipt.Logs)),
		LogsBloom:         receipt.LogsBloom,
		Status:            some(receipt.Status),
		Root:              receipt.Root,
		Type:              receipt.Type,
	}
	for _, l := range receipt.Logs {
		rec.Logs = append(rec.Logs, &logRecord{
			Address:          l.Address,
			Topics:           l.Topics,
			Data:             l.Data,
			BlockNumber:      l.BlockNumber,
			TransactionHash:  l.TransactionHash,
			TransactionIndex: l.TransactionIndex,
			BlockHash:        l.BlockHash,
			LogIndex:         l.LogIndex,
			Removed:          l.Removed,
		})
	}

	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt %s: %w", receipt.TransactionHash, err)
	}
	return data, nil
}

// DecodeReceipt reverses EncodeReceipt
func DecodeReceipt(data []byte) (*types.Receipt, error) {
	var rec receiptRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, types.NewCodecError("decode stored receipt", err)
	}

	receipt := &types.Receipt{
		TransactionHash:   rec.TransactionHash,
		TransactionIndex:  rec.TransactionIndex,
		BlockHash:         rec.BlockHash,
		BlockNumber:       rec.BlockNumber,
		From:              rec.From,
		To:                rec.To,
		CumulativeGasUsed: rec.CumulativeGasUsed,
		GasUsed:           rec.GasUsed,
		EffectiveGasPrice: rec.EffectiveGasPrice.ptr(),
		ContractAddress:   rec.ContractAddress,
		Logs:              make([]*types.Log, 0, len(rec.Logs)),
		LogsBloom:         rec.LogsBloom,
		Status:            rec.Status.ptr(),
		Root:              rec.Root,
		Type:              rec.Type,
	}
	for _, l := range rec.Logs {
		receipt.Logs = append(receipt.Logs, &types.Log{
			Address:          l.Address,
			Topics:           l.Topics,
			Data:             l.Data,
			BlockNumber:      l.BlockNumber,
			TransactionHash:  l.TransactionHash,
			TransactionIndex: l.TransactionIndex,
			BlockHash:        l.BlockHash,
			LogIndex:         l.LogIndex,
			Removed:          l.Removed,
		})
	}
	return receipt, nil
}

// The postgres backend keeps JSONB documents so rows stay queryable with
// SQL JSON operators.

func encodeBlockJSON(block *types.Block) ([]byte, error) {
	data, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block %d: %w", block.Number, err)
	}
	return data, nil
}

func decodeBlockJSON(data []byte) (*types.Block, error) {
	block := new(types.Block)
	if err := json.Unmarshal(data, block); err != nil {
		return nil, types.NewCodecError("decode stored block", err)
	}
	return block, nil
}

func encodeReceiptJSON(receipt *types.Receipt) ([]byte, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt %s: %w", receipt.TransactionHash, err)
	}
	return data, nil
}

func decodeReceiptJSON(data []byte) (*types.Receipt, error) {
	receipt := new(types.Receipt)
	if err := json.Unmarshal(data, receipt); err != nil {
		return nil, types.NewCodecError("decode stored receipt", err)
	}
	return receipt, nil
}
