package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/0xmhha/evm-block-extractor/internal/testutil"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// newTestServer serves blocks from..to with two transactions each
func newTestServer(t *testing.T, from, to uint64) *Server {
	t.Helper()
	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	if from <= to {
		blocks, receipts := testutil.NewTestChain(from, to, 2)
		require.NoError(t, store.InsertBlocksAndReceipts(context.Background(), blocks, receipts))
	}
	return NewServer(store, testutil.NewTestLogger(t))
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func call(t *testing.T, s *Server, method string, params ...interface{}) testResponse {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	var resp testResponse
	require.NoError(t, json.Unmarshal(post(t, s, string(body)).Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.JSONEq(t, "1", string(resp.ID))
	return resp
}

func TestBlockNumber(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		resp := call(t, newTestServer(t, 1, 0), MethodBlockNumber)
		require.Nil(t, resp.Error)
		assert.JSONEq(t, `"0x0"`, string(resp.Result))
	})

	t.Run("latest stored", func(t *testing.T) {
		resp := call(t, newTestServer(t, 0, 10), MethodBlockNumber)
		require.Nil(t, resp.Error)
		assert.JSONEq(t, `"0xa"`, string(resp.Result))
	})
}

func TestGetBlockByNumber(t *testing.T) {
	s := newTestServer(t, 3, 7)

	t.Run("hashes only", func(t *testing.T) {
		resp := call(t, s, MethodGetBlockByNumber, "0x5", false)
		require.Nil(t, resp.Error)

		var block types.Block
		require.NoError(t, json.Unmarshal(resp.Result, &block))
		assert.Equal(t, types.UInt64(5), block.Number)
		assert.Equal(t, testutil.BlockHash(5), block.Hash)
		assert.Nil(t, block.Transactions)
		assert.Equal(t, []types.Hash256{testutil.TxHash(5, 0), testutil.TxHash(5, 1)}, block.TransactionHashes)
	})

	t.Run("full transactions", func(t *testing.T) {
		resp := call(t, s, MethodGetBlockByNumber, "0x5", true)
		require.Nil(t, resp.Error)

		var block types.Block
		require.NoError(t, json.Unmarshal(resp.Result, &block))
		require.Len(t, block.Transactions, 2)
		assert.Equal(t, testutil.TxHash(5, 1), block.Transactions[1].Hash)
	})

	t.Run("fullTx defaults to false", func(t *testing.T) {
		resp := call(t, s, MethodGetBlockByNumber, "0x5")
		require.Nil(t, resp.Error)

		var block types.Block
		require.NoError(t, json.Unmarshal(resp.Result, &block))
		assert.Nil(t, block.Transactions)
	})

	tags := []struct {
		tag  string
		want types.UInt64
	}{
		{"latest", 7},
		{"earliest", 3},
		{"finalized", 7},
		{"0x3", 3},
	}
	for _, tt := range tags {
		t.Run("tag "+tt.tag, func(t *testing.T) {
			resp := call(t, s, MethodGetBlockByNumber, tt.tag, false)
			require.Nil(t, resp.Error)

			var block types.Block
			require.NoError(t, json.Unmarshal(resp.Result, &block))
			assert.Equal(t, tt.want, block.Number)
		})
	}

	for _, tag := range []string{"0x2", "0x64", "pending"} {
		t.Run("null for "+tag, func(t *testing.T) {
			resp := call(t, s, MethodGetBlockByNumber, tag, false)
			require.Nil(t, resp.Error)
			assert.Equal(t, "null", string(resp.Result))
		})
	}

	t.Run("latest on empty store", func(t *testing.T) {
		resp := call(t, newTestServer(t, 1, 0), MethodGetBlockByNumber, "latest", false)
		require.Nil(t, resp.Error)
		assert.Equal(t, "null", string(resp.Result))
	})
}

func TestGetBlockByNumber_InvalidParams(t *testing.T) {
	s := newTestServer(t, 0, 1)

	tests := []struct {
		name   string
		params []interface{}
	}{
		{"missing block", nil},
		{"bad quantity", []interface{}{"0xzz", false}},
		{"number not string", []interface{}{5, false}},
		{"bad flag", []interface{}{"0x1", "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, MethodGetBlockByNumber, tt.params...)
			require.NotNil(t, resp.Error)
			assert.Equal(t, InvalidParams, resp.Error.Code)
		})
	}
}

func TestGetTransactionReceipt(t *testing.T) {
	s := newTestServer(t, 0, 3)

	resp := call(t, s, MethodGetTransactionReceipt, testutil.TxHash(2, 1).Hex())
	require.Nil(t, resp.Error)
	var receipt types.Receipt
	require.NoError(t, json.Unmarshal(resp.Result, &receipt))
	assert.Equal(t, testutil.TxHash(2, 1), receipt.TransactionHash)
	assert.Equal(t, types.UInt64(2), receipt.BlockNumber)
	assert.True(t, receipt.Succeeded())

	resp = call(t, s, MethodGetTransactionReceipt, testutil.TxHash(9, 0).Hex())
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))

	resp = call(t, s, MethodGetTransactionReceipt, "0x1234")
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func decodeBlocksRLP(t *testing.T, resp testResponse) []*types.Block {
	t.Helper()
	require.Nil(t, resp.Error)
	var raw types.Bytes
	require.NoError(t, json.Unmarshal(resp.Result, &raw))
	var blocks []*types.Block
	require.NoError(t, types.DecodeRLPBytes(raw, &blocks))
	return blocks
}

func TestGetBlocksRLP(t *testing.T) {
	s := newTestServer(t, 0, 9)

	t.Run("bounded by max", func(t *testing.T) {
		blocks := decodeBlocksRLP(t, call(t, s, MethodGetBlocksRLP, "0x2", "0x3"))
		require.Len(t, blocks, 3)
		for i, b := range blocks {
			assert.Equal(t, types.UInt64(2+i), b.Number)
			assert.Equal(t, testutil.BlockHash(uint64(2+i)), b.Hash)
			assert.Len(t, b.TransactionHashes, 2)
		}
	})

	t.Run("bounded by head", func(t *testing.T) {
		blocks := decodeBlocksRLP(t, call(t, s, MethodGetBlocksRLP, "0x8", 50))
		require.Len(t, blocks, 2)
		assert.Equal(t, types.UInt64(9), blocks[1].Number)
	})

	t.Run("earliest", func(t *testing.T) {
		blocks := decodeBlocksRLP(t, call(t, s, MethodGetBlocksRLP, "earliest", 1))
		require.Len(t, blocks, 1)
		assert.Equal(t, types.UInt64(0), blocks[0].Number)
	})

	for _, tt := range []struct {
		name   string
		params []interface{}
	}{
		{"pending", []interface{}{"pending", 5}},
		{"beyond head", []interface{}{"0xa", 5}},
		{"zero max", []interface{}{"0x1", 0}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, MethodGetBlocksRLP, tt.params...)
			require.Nil(t, resp.Error)
			assert.JSONEq(t, `"0xc0"`, string(resp.Result))
		})
	}

	t.Run("missing max", func(t *testing.T) {
		resp := call(t, s, MethodGetBlocksRLP, "0x1")
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})
}

func TestGetBlocksRLP_Cap(t *testing.T) {
	s := newTestServer(t, 0, constants.MaxBlocksRLP+10)
	blocks := decodeBlocksRLP(t, call(t, s, MethodGetBlocksRLP, "0x0", constants.MaxBlocksRLP*2))
	assert.Len(t, blocks, constants.MaxBlocksRLP)
}

func TestGetBlocksRLP_HoleIsInternalError(t *testing.T) {
	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	for _, n := range []uint64{0, 1, 3} {
		blocks, receipts := testutil.NewTestChain(n, n, 0)
		require.NoError(t, store.InsertBlocksAndReceipts(context.Background(), blocks, receipts))
	}
	s := NewServer(store, testutil.NewTestLogger(t))

	resp := call(t, s, MethodGetBlocksRLP, "0x0", 4)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	resp := call(t, newTestServer(t, 0, 0), "eth_sendRawTransaction", "0x00")
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestServeHTTP_Envelope(t *testing.T) {
	s := newTestServer(t, 0, 2)

	t.Run("null result is kept", func(t *testing.T) {
		rec := post(t, s, `{"jsonrpc":"2.0","id":"abc","method":"eth_getBlockByNumber","params":["0x64",false]}`)
		assert.JSONEq(t, `{"jsonrpc":"2.0","result":null,"id":"abc"}`, rec.Body.String())
	})

	t.Run("missing id answers null", func(t *testing.T) {
		rec := post(t, s, `{"jsonrpc":"2.0","method":"eth_blockNumber"}`)
		assert.JSONEq(t, `{"jsonrpc":"2.0","result":"0x2","id":null}`, rec.Body.String())
	})

	t.Run("parse error", func(t *testing.T) {
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, `{not json`).Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ParseError, resp.Error.Code)
		assert.Equal(t, "null", string(resp.ID))
	})

	t.Run("wrong version", func(t *testing.T) {
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, `{"jsonrpc":"1.0","id":7,"method":"eth_blockNumber"}`).Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
		assert.Equal(t, "7", string(resp.ID))
	})

	t.Run("missing method", func(t *testing.T) {
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, `{"jsonrpc":"2.0","id":7}`).Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})

	t.Run("GET is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		body := bytes.Repeat([]byte(" "), constants.MaxRequestBodyBytes+1)
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, string(body)).Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ParseError, resp.Error.Code)
	})
}

func TestServeHTTP_Batch(t *testing.T) {
	s := newTestServer(t, 0, 2)

	t.Run("mixed results", func(t *testing.T) {
		rec := post(t, s, `[
			{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"},
			{"jsonrpc":"2.0","id":2,"method":"eth_unknown"},
			{"jsonrpc":"2.0","id":3,"method":"eth_getBlockByNumber","params":["0x9",false]},
			42
		]`)

		var resps []testResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resps))
		require.Len(t, resps, 4)

		assert.JSONEq(t, `"0x2"`, string(resps[0].Result))
		require.NotNil(t, resps[1].Error)
		assert.Equal(t, MethodNotFound, resps[1].Error.Code)
		assert.Equal(t, "null", string(resps[2].Result))
		assert.Equal(t, "3", string(resps[2].ID))
		require.NotNil(t, resps[3].Error)
		assert.Equal(t, InvalidRequest, resps[3].Error.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, ` []`).Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})

	t.Run("too large", func(t *testing.T) {
		reqs := make([]string, constants.MaxServerBatchSize+1)
		for i := range reqs {
			reqs[i] = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"eth_blockNumber"}`, i)
		}
		var resp testResponse
		require.NoError(t, json.Unmarshal(post(t, s, "["+strings.Join(reqs, ",")+"]").Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})
}
