package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/testutil"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
		Logger:   testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{})
	assert.Error(t, err, "no endpoint and no transport")

	_, err = NewClient(&Config{Endpoint: "ftp://localhost"})
	assert.Error(t, err)

	c, err := NewClient(&Config{Endpoint: "http://localhost:8545"})
	require.NoError(t, err)
	assert.Same(t, c.read, c.update)
}

func TestBlockNumber(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 5, 1)
	node := testutil.NewFakeNode(t, blocks, receipts)
	c := newTestClient(t, node.URL())

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestGetBlockByNumber(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 3, 2)
	node := testutil.NewFakeNode(t, blocks, receipts)
	c := newTestClient(t, node.URL())
	ctx := context.Background()

	block, err := c.GetBlockByNumber(ctx, BlockNumber(2), true)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, types.UInt64(2), block.Number)
	assert.Equal(t, testutil.BlockHash(1), block.ParentHash)
	assert.Len(t, block.Transactions, 2)
	assert.Equal(t, testutil.TxHash(2, 1), block.TransactionHashes[1])

	summary, err := c.GetBlockByNumber(ctx, BlockNumber(2), false)
	require.NoError(t, err)
	assert.Nil(t, summary.Transactions)
	assert.Len(t, summary.TransactionHashes, 2)

	latest, err := c.GetBlockByNumber(ctx, LatestBlockNumber, false)
	require.NoError(t, err)
	assert.Equal(t, types.UInt64(3), latest.Number)

	missing, err := c.GetBlockByNumber(ctx, BlockNumber(100), true)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetBlocksByNumber_CorrelatesShuffledResponses(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 19, 1)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.Shuffle = true
	c := newTestClient(t, node.URL())

	numbers := make([]uint64, 20)
	for i := range numbers {
		numbers[i] = uint64(19 - i)
	}

	got, err := c.GetBlocksByNumber(context.Background(), numbers, true, 7)
	require.NoError(t, err)
	require.Len(t, got, len(numbers))
	for i, block := range got {
		require.NotNil(t, block, "block %d", numbers[i])
		assert.Equal(t, types.UInt64(numbers[i]), block.Number)
	}
	assert.Equal(t, 20, node.Calls(MethodGetBlockByNumber))
}

func TestGetBlocksByNumber_NullEntries(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 4, 0)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.NullBlocks[2] = 1
	c := newTestClient(t, node.URL())

	got, err := c.GetBlocksByNumber(context.Background(), []uint64{1, 2, 3, 9}, true, 0)
	require.NoError(t, err)
	assert.NotNil(t, got[0])
	assert.Nil(t, got[1])
	assert.NotNil(t, got[2])
	assert.Nil(t, got[3])
}

func TestGetBlocksByNumber_UnexpectedResultsAmount(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 4, 0)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.DropLastResponse = true
	c := newTestClient(t, node.URL())

	_, err := c.GetBlocksByNumber(context.Background(), []uint64{0, 1, 2}, false, 10)
	require.Error(t, err)

	var amountErr *UnexpectedResultsAmountError
	require.ErrorAs(t, err, &amountErr)
	assert.Equal(t, 3, amountErr.Expected)
	assert.Equal(t, 2, amountErr.Actual)
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsTransportError(err))
}

func TestCall_UnexpectedBatch(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 1, 0)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.SingleAsBatch = true
	c := newTestClient(t, node.URL())

	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedBatch)
	assert.True(t, IsProtocolError(err))
}

func TestCall_ProtocolError(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 1, 0)
	node := testutil.NewFakeNode(t, blocks, receipts)
	c := newTestClient(t, node.URL())

	err := c.Call(context.Background(), "eth_unknown", nil, c.NextID(), nil)
	require.Error(t, err)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, MethodNotFound, pe.Code)
	assert.False(t, IsTransportError(err))
}

func TestCall_TransportErrorOnHTTPStatus(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 1, 0)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.FailRequests = 1
	c := newTestClient(t, node.URL())

	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.False(t, IsProtocolError(err))

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestCall_TransportTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClient(&Config{Endpoint: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.BlockNumber(context.Background())
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
}

func TestCall_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCall_ResultDecodeIsCodecError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0xzz"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCodecError(err))
}

func TestBatchCall_DuplicateID(t *testing.T) {
	c := newTestClient(t, "http://localhost:1")
	elems := []BatchElem{
		{Params: []interface{}{"0x1"}, ID: NumberID(1)},
		{Params: []interface{}{"0x2"}, ID: NumberID(1)},
	}
	err := c.BatchCall(context.Background(), MethodGetBlockByNumber, elems, 10)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestBatchCall_NumberAndStringIDsDiffer(t *testing.T) {
	assert.NotEqual(t, NumberID(1).key(), StringID("1").key())
}

func TestBatchCall_Chunking(t *testing.T) {
	rt := &recordingTransport{}
	c, err := NewClient(&Config{MaxConcurrency: 1}, WithTransport(rt))
	require.NoError(t, err)

	elems := make([]BatchElem, 10)
	for i := range elems {
		elems[i] = BatchElem{ID: NumberID(uint64(i))}
	}
	require.NoError(t, c.BatchCall(context.Background(), MethodBlockNumber, elems, 4))

	assert.Equal(t, []int{4, 4, 2}, rt.batchSizes())
	for _, elem := range elems {
		assert.JSONEq(t, `"0x1"`, string(elem.Result))
	}
}

func TestGetTransactionReceipts(t *testing.T) {
	blocks, receipts := testutil.NewTestChain(0, 2, 3)
	node := testutil.NewFakeNode(t, blocks, receipts)
	node.Shuffle = true
	c := newTestClient(t, node.URL())

	hashes := append([]types.Hash256{}, blocks[1].TransactionHashes...)
	hashes = append(hashes, blocks[2].TransactionHashes...)
	hashes = append(hashes, types.Hash256{0xde, 0xad})

	got, err := c.GetTransactionReceipts(context.Background(), hashes, 4)
	require.NoError(t, err)
	require.Len(t, got, len(hashes))
	for i := 0; i < 6; i++ {
		require.NotNil(t, got[i])
		assert.Equal(t, hashes[i], got[i].TransactionHash)
	}
	assert.Nil(t, got[6])

	single, err := c.GetTransactionReceipt(context.Background(), hashes[0])
	require.NoError(t, err)
	assert.Equal(t, blocks[1].Hash, single.BlockHash)
}

func TestSendRawTransaction_UsesUpdateTransport(t *testing.T) {
	read := &recordingTransport{}
	update := &recordingTransport{}
	c, err := NewClient(&Config{}, WithTransport(read), WithUpdateTransport(update))
	require.NoError(t, err)

	_, err = c.SendRawTransaction(context.Background(), types.Bytes{0x02, 0xc0})
	require.NoError(t, err)
	_, err = c.BlockNumber(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{MethodSendRawTransaction}, update.methods())
	assert.Equal(t, []string{MethodBlockNumber}, read.methods())

	_, err = c.SendRawTransaction(context.Background(), nil)
	assert.True(t, types.IsCodecError(err))
}

func TestMethodAllowList(t *testing.T) {
	l := NewMethodAllowList("a", "b")
	assert.True(t, l.IsUpdateCall("a"))
	assert.False(t, l.IsUpdateCall("c"))
	assert.True(t, DefaultMethodPolicy().IsUpdateCall(MethodSendRawTransaction))
	assert.False(t, DefaultMethodPolicy().IsUpdateCall(MethodGetBlockByNumber))
}

func TestIDJSON(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`1`, NumberID(1)},
		{`"0xabc"`, StringID("0xabc")},
		{`null`, ID{}},
	}
	for _, tt := range tests {
		var id ID
		require.NoError(t, json.Unmarshal([]byte(tt.in), &id))
		assert.Equal(t, tt.want, id)

		out, err := json.Marshal(id)
		require.NoError(t, err)
		assert.JSONEq(t, tt.in, string(out))
	}
	assert.True(t, ID{}.IsNull())
}

// recordingTransport answers every request with a canned result and
// records what it was sent.
type recordingTransport struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingTransport) RoundTrip(_ context.Context, payload []byte) ([]byte, error) {
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()

	if isBatch(payload) {
		var reqs []Request
		if err := json.Unmarshal(payload, &reqs); err != nil {
			return nil, err
		}
		resps := make([]Response, len(reqs))
		for i, req := range reqs {
			resps[i] = Response{JSONRPC: Version, Result: cannedResult(req.Method), ID: req.ID}
		}
		return json.Marshal(resps)
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return json.Marshal(Response{JSONRPC: Version, Result: cannedResult(req.Method), ID: req.ID})
}

func cannedResult(method string) json.RawMessage {
	if method == MethodSendRawTransaction {
		raw, _ := json.Marshal(types.Hash256{0x01})
		return raw
	}
	return json.RawMessage(`"0x1"`)
}

func (r *recordingTransport) methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payloads {
		var req Request
		if json.Unmarshal(p, &req) == nil {
			out = append(out, req.Method)
		}
	}
	return out
}

func (r *recordingTransport) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, p := range r.payloads {
		var reqs []Request
		if json.Unmarshal(p, &reqs) == nil {
			out = append(out, len(reqs))
		}
	}
	return out
}
