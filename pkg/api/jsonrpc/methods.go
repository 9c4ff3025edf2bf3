package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"go.uber.org/zap"
)

// Method names served by the read API
const (
	MethodBlockNumber           = "eth_blockNumber"
	MethodGetBlockByNumber      = "eth_getBlockByNumber"
	MethodGetTransactionReceipt = "eth_getTransactionReceipt"
	MethodGetBlocksRLP          = "ext_getBlocksRLP"
)

// emptyRLPList is the encoding of an empty RLP list
var emptyRLPList = types.Bytes{0xc0}

// Handler dispatches JSON-RPC methods against a store
type Handler struct {
	storage storage.Reader
	logger  *zap.Logger
}

// NewHandler creates a new method handler
func NewHandler(store storage.Reader, logger *zap.Logger) *Handler {
	return &Handler{
		storage: store,
		logger:  logger,
	}
}

// HandleMethod executes method with its raw params
func (h *Handler) HandleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case MethodBlockNumber:
		return h.blockNumber(ctx)
	case MethodGetBlockByNumber:
		return h.getBlockByNumber(ctx, params)
	case MethodGetTransactionReceipt:
		return h.getTransactionReceipt(ctx, params)
	case MethodGetBlocksRLP:
		return h.getBlocksRLP(ctx, params)
	default:
		return nil, NewError(MethodNotFound, "method not found", method)
	}
}

// blockTag is a block parameter: a hex quantity or one of the named tags
type blockTag struct {
	number uint64
	name   string
}

const (
	tagLatest   = "latest"
	tagEarliest = "earliest"
	tagPending  = "pending"
)

func parseBlockTag(raw json.RawMessage) (blockTag, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return blockTag{}, fmt.Errorf("block parameter must be a string: %w", err)
	}
	switch strings.ToLower(s) {
	case tagLatest, "safe", "finalized":
		return blockTag{name: tagLatest}, nil
	case tagEarliest:
		return blockTag{name: tagEarliest}, nil
	case tagPending:
		return blockTag{name: tagPending}, nil
	}
	n, err := types.ParseUInt64(s)
	if err != nil {
		return blockTag{}, err
	}
	return blockTag{number: uint64(n)}, nil
}

// resolve maps a tag onto a stored height; ok is false when the tag names
// nothing stored. Pending never resolves since the store holds only sealed blocks.
func (h *Handler) resolve(ctx context.Context, tag blockTag) (number uint64, ok bool, err error) {
	switch tag.name {
	case tagLatest:
		return h.storage.GetLatestBlockNumber(ctx)
	case tagEarliest:
		n, err := h.storage.GetEarliestBlockNumber(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		return n, err == nil, err
	case tagPending:
		return 0, false, nil
	default:
		return tag.number, true, nil
	}
}

// decodeParams splits the positional params array, requiring at least n
// entries.
func decodeParams(params json.RawMessage, n int) ([]json.RawMessage, *Error) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, NewError(InvalidParams, "params must be an array", err.Error())
		}
	}
	if len(args) < n {
		return nil, NewError(InvalidParams, fmt.Sprintf("expected at least %d params, got %d", n, len(args)), nil)
	}
	return args, nil
}

func (h *Handler) internalError(method string, err error) *Error {
	h.logger.Error("method failed", zap.String("method", method), zap.Error(err))
	return NewError(InternalError, "internal error", err.Error())
}

// blockNumber returns the highest stored height, 0x0 for an empty store
func (h *Handler) blockNumber(ctx context.Context) (interface{}, *Error) {
	latest, _, err := h.storage.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, h.internalError(MethodBlockNumber, err)
	}
	return types.UInt64(latest), nil
}

// getBlockByNumber returns the stored block or null. Without fullTx the
// transactions are reported as hashes.
func (h *Handler) getBlockByNumber(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	args, rpcErr := decodeParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tag, err := parseBlockTag(args[0])
	if err != nil {
		return nil, NewError(InvalidParams, "invalid block number", err.Error())
	}
	fullTx := false
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &fullTx); err != nil {
			return nil, NewError(InvalidParams, "invalid fullTx flag", err.Error())
		}
	}

	number, ok, err := h.resolve(ctx, tag)
	if err != nil {
		return nil, h.internalError(MethodGetBlockByNumber, err)
	}
	if !ok {
		return nil, nil
	}

	block, err := h.storage.GetBlockByNumber(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, h.internalError(MethodGetBlockByNumber, err)
	}
	if !fullTx {
		return block.Summary(), nil
	}
	return block, nil
}

// getTransactionReceipt returns the stored receipt or null
func (h *Handler) getTransactionReceipt(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	args, rpcErr := decodeParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var hash types.Hash256
	if err := json.Unmarshal(args[0], &hash); err != nil {
		return nil, NewError(InvalidParams, "invalid transaction hash", err.Error())
	}

	receipt, err := h.storage.GetTransactionReceipt(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, h.internalError(MethodGetTransactionReceipt, err)
	}
	return receipt, nil
}

// getBlocksRLP returns up to max consecutive stored blocks starting at
// from, RLP-encoded as one list. The count is capped by MaxBlocksRLP and
// by the stored head; a missing height inside the range is an error.
func (h *Handler) getBlocksRLP(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	args, rpcErr := decodeParams(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tag, err := parseBlockTag(args[0])
	if err != nil {
		return nil, NewError(InvalidParams, "invalid block number", err.Error())
	}
	// accept a hex quantity or a plain JSON number
	var limit types.UInt64
	if err := json.Unmarshal(args[1], &limit); err != nil {
		var n uint64
		if json.Unmarshal(args[1], &n) != nil {
			return nil, NewError(InvalidParams, "invalid max blocks", err.Error())
		}
		limit = types.UInt64(n)
	}

	from, ok, err := h.resolve(ctx, tag)
	if err != nil {
		return nil, h.internalError(MethodGetBlocksRLP, err)
	}
	latest, stored, err := h.storage.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, h.internalError(MethodGetBlocksRLP, err)
	}
	if !ok || !stored || from > latest || limit == 0 {
		return emptyRLPList, nil
	}

	count := uint64(limit)
	if count > constants.MaxBlocksRLP {
		count = constants.MaxBlocksRLP
	}
	if avail := latest - from + 1; count > avail {
		count = avail
	}

	blocks := make([]*types.Block, 0, count)
	for i := uint64(0); i < count; i++ {
		n := from + i
		block, err := h.storage.GetBlockByNumber(ctx, n)
		if err != nil {
			return nil, h.internalError(MethodGetBlocksRLP, fmt.Errorf("block %d: %w", n, err))
		}
		blocks = append(blocks, block)
	}

	encoded, err := types.EncodeRLPBytes(blocks)
	if err != nil {
		return nil, h.internalError(MethodGetBlocksRLP, err)
	}
	return types.Bytes(encoded), nil
}
