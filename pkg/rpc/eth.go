package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// BlockNumber is a block height or one of the "latest"/"earliest"/"pending"
// tags; it encodes as a hex quantity or the tag string.
type BlockNumber = gethrpc.BlockNumber

// Block tags
const (
	LatestBlockNumber   = gethrpc.LatestBlockNumber
	EarliestBlockNumber = gethrpc.EarliestBlockNumber
	PendingBlockNumber  = gethrpc.PendingBlockNumber
)

// Method names consumed by the extractor
const (
	MethodBlockNumber           = "eth_blockNumber"
	MethodGetBlockByNumber      = "eth_getBlockByNumber"
	MethodGetTransactionReceipt = "eth_getTransactionReceipt"
	MethodSendRawTransaction    = "eth_sendRawTransaction"
)

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// BlockNumber returns the current chain height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n types.UInt64
	if err := c.Call(ctx, MethodBlockNumber, nil, c.NextID(), &n); err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return uint64(n), nil
}

// GetBlockByNumber returns a block, or nil when the endpoint has no such block yet
func (c *Client) GetBlockByNumber(ctx context.Context, number BlockNumber, fullTx bool) (*types.Block, error) {
	var block *types.Block
	if err := c.Call(ctx, MethodGetBlockByNumber, []interface{}{number, fullTx}, c.NextID(), &block); err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", number, err)
	}
	return block, nil
}

// GetBlocksByNumber fetches many blocks in batches. The result is aligned
// with numbers; an entry is nil when the endpoint returned null for it or
// its payload could not be decoded.
func (c *Client) GetBlocksByNumber(ctx context.Context, numbers []uint64, fullTx bool, batchSize int) ([]*types.Block, error) {
	elems := make([]BatchElem, len(numbers))
	for i, n := range numbers {
		elems[i] = BatchElem{
			Params: []interface{}{BlockNumber(n), fullTx},
			ID:     NumberID(uint64(i)),
		}
	}

	if err := c.BatchCall(ctx, MethodGetBlockByNumber, elems, batchSize); err != nil {
		return nil, fmt.Errorf("failed to batch get blocks: %w", err)
	}

	blocks := make([]*types.Block, len(numbers))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("failed to get block %d: %w", numbers[i], elem.Error)
		}
		if isNull(elem.Result) {
			continue
		}
		block := new(types.Block)
		if err := json.Unmarshal(elem.Result, block); err != nil {
			c.logger.Warn("Discarding undecodable block",
				zap.Uint64("block", numbers[i]),
				zap.Error(err),
			)
			continue
		}
		blocks[i] = block
	}
	return blocks, nil
}

// GetTransactionReceipt returns a receipt, or nil when the transaction is unknown
func (c *Client) GetTransactionReceipt(ctx context.Context, hash types.Hash256) (*types.Receipt, error) {
	var receipt *types.Receipt
	if err := c.Call(ctx, MethodGetTransactionReceipt, []interface{}{hash}, StringID(hash.Hex()), &receipt); err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", hash, err)
	}
	return receipt, nil
}

// GetTransactionReceipts fetches receipts in batches, using each hash as its
// request id. The result is aligned with hashes; missing receipts are nil.
func (c *Client) GetTransactionReceipts(ctx context.Context, hashes []types.Hash256, batchSize int) ([]*types.Receipt, error) {
	elems := make([]BatchElem, len(hashes))
	for i, h := range hashes {
		elems[i] = BatchElem{
			Params: []interface{}{h},
			ID:     StringID(h.Hex()),
		}
	}

	if err := c.BatchCall(ctx, MethodGetTransactionReceipt, elems, batchSize); err != nil {
		return nil, fmt.Errorf("failed to batch get receipts: %w", err)
	}

	receipts := make([]*types.Receipt, len(hashes))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("failed to get receipt %s: %w", hashes[i], elem.Error)
		}
		if isNull(elem.Result) {
			continue
		}
		receipt := new(types.Receipt)
		if err := json.Unmarshal(elem.Result, receipt); err != nil {
			return nil, types.NewCodecError(fmt.Sprintf("decode receipt %s", hashes[i]), err)
		}
		receipts[i] = receipt
	}
	return receipts, nil
}

// SendRawTransaction submits a signed transaction through the update path
func (c *Client) SendRawTransaction(ctx context.Context, raw types.Bytes) (types.Hash256, error) {
	payload, err := types.RawTransaction(raw)
	if err != nil {
		return types.Hash256{}, err
	}
	var hash types.Hash256
	if err := c.Call(ctx, MethodSendRawTransaction, []interface{}{payload}, c.NextID(), &hash); err != nil {
		return types.Hash256{}, fmt.Errorf("failed to send raw transaction: %w", err)
	}
	return hash, nil
}
