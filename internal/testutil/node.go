package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type nodeRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type nodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type nodeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *nodeError      `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// FakeNode is an in-process Ethereum JSON-RPC endpoint backed by fixed
// blocks and receipts. Knobs let tests reorder, drop, or fail responses.
type FakeNode struct {
	mu       sync.Mutex
	head     uint64
	blocks   map[uint64]*types.Block
	receipts map[types.Hash256]*types.Receipt
	calls    map[string]int
	rng      *rand.Rand
	server   *httptest.Server

	// Shuffle reverses-and-shuffles batch responses
	Shuffle bool

	// NullBlocks answers null for a block this many times before serving it
	NullBlocks map[uint64]int

	// FailRequests answers HTTP 503 to this many requests
	FailRequests int

	// DropLastResponse omits the last response of every batch
	DropLastResponse bool

	// SingleAsBatch wraps single responses in an array
	SingleAsBatch bool
}

// NewFakeNode starts a node serving blocks and receipts; head is the highest block
func NewFakeNode(t *testing.T, blocks []*types.Block, receipts []*types.Receipt) *FakeNode {
	t.Helper()
	n := &FakeNode{
		blocks:     make(map[uint64]*types.Block, len(blocks)),
		receipts:   make(map[types.Hash256]*types.Receipt, len(receipts)),
		calls:      make(map[string]int),
		rng:        rand.New(rand.NewSource(42)),
		NullBlocks: make(map[uint64]int),
	}
	for _, b := range blocks {
		n.blocks[uint64(b.Number)] = b
		if uint64(b.Number) > n.head {
			n.head = uint64(b.Number)
		}
	}
	for _, r := range receipts {
		n.receipts[r.TransactionHash] = r
	}
	n.server = httptest.NewServer(n)
	t.Cleanup(n.server.Close)
	return n
}

// URL returns the endpoint URL
func (n *FakeNode) URL() string {
	return n.server.URL
}

// SetHead moves the advertised chain height
func (n *FakeNode) SetHead(head uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.head = head
}

// Calls returns how many times method was invoked
func (n *FakeNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// SetBlock replaces or adds a served block
func (n *FakeNode) SetBlock(block *types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[uint64(block.Number)] = block
}

func (n *FakeNode) earliest() uint64 {
	first := true
	var lowest uint64
	for h := range n.blocks {
		if first || h < lowest {
			lowest, first = h, false
		}
	}
	return lowest
}

// ServeHTTP implements http.Handler
func (n *FakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailRequests > 0 {
		n.FailRequests--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []nodeRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]nodeResponse, 0, len(reqs))
		for _, req := range reqs {
			resps = append(resps, n.handle(req))
		}
		if n.Shuffle {
			n.rng.Shuffle(len(resps), func(i, j int) { resps[i], resps[j] = resps[j], resps[i] })
		}
		if n.DropLastResponse && len(resps) > 0 {
			resps = resps[:len(resps)-1]
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}

	var req nodeRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := n.handle(req)
	if n.SingleAsBatch {
		_ = json.NewEncoder(w).Encode([]nodeResponse{resp})
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *FakeNode) handle(req nodeRequest) nodeResponse {
	n.calls[req.Method]++
	resp := nodeResponse{JSONRPC: "2.0", ID: req.ID}

	var result interface{}
	switch req.Method {
	case "eth_blockNumber":
		result = types.UInt64(n.head)

	case "eth_getBlockByNumber":
		if len(req.Params) != 2 {
			resp.Error = &nodeError{Code: -32602, Message: "expected 2 params"}
			return resp
		}
		var number gethrpc.BlockNumber
		var full bool
		if err := json.Unmarshal(req.Params[0], &number); err != nil {
			resp.Error = &nodeError{Code: -32602, Message: err.Error()}
			return resp
		}
		_ = json.Unmarshal(req.Params[1], &full)

		height := uint64(number)
		switch number {
		case gethrpc.LatestBlockNumber:
			height = n.head
		case gethrpc.EarliestBlockNumber:
			height = n.earliest()
		}
		block, ok := n.blocks[height]
		switch {
		case !ok || height > n.head:
			result = nil
		case n.NullBlocks[height] > 0:
			n.NullBlocks[height]--
			result = nil
		case full:
			result = block
		default:
			result = block.Summary()
		}

	case "eth_getTransactionReceipt":
		var hash types.Hash256
		if len(req.Params) != 1 || json.Unmarshal(req.Params[0], &hash) != nil {
			resp.Error = &nodeError{Code: -32602, Message: "invalid hash"}
			return resp
		}
		if r, ok := n.receipts[hash]; ok {
			result = r
		}

	case "eth_sendRawTransaction":
		var raw types.Bytes
		if len(req.Params) != 1 || json.Unmarshal(req.Params[0], &raw) != nil {
			resp.Error = &nodeError{Code: -32602, Message: "invalid payload"}
			return resp
		}
		result = types.Keccak256Hash(raw)

	default:
		resp.Error = &nodeError{Code: -32601, Message: "method not found"}
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &nodeError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = raw
	return resp
}
