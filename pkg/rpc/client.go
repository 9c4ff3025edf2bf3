// Package rpc is a JSON-RPC 2.0 client for Ethereum-compatible endpoints
// with id-correlated batch calls.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/0xmhha/evm-block-extractor/internal/logger"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds client configuration
type Config struct {
	// Endpoint is the JSON-RPC URL; may be empty when a transport is supplied
	Endpoint string

	// Timeout bounds each round trip
	Timeout time.Duration

	// RateLimit caps round trips per second (0 = unlimited)
	RateLimit float64

	// RateBurst is the limiter burst size
	RateBurst int

	// MaxConcurrency bounds batch chunks in flight
	MaxConcurrency int

	// UpdateMethods overrides the methods routed through the update path
	UpdateMethods []string

	// Logger is optional
	Logger *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithTransport replaces the read-path transport
func WithTransport(t Transport) Option {
	return func(c *Client) { c.read = t }
}

// WithUpdateTransport sets a separate transport for update calls
func WithUpdateTransport(t Transport) Option {
	return func(c *Client) { c.update = t }
}

// WithMethodPolicy replaces the update-call policy
func WithMethodPolicy(p MethodPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// Client issues single and batched JSON-RPC calls.
type Client struct {
	read           Transport
	update         Transport
	policy         MethodPolicy
	maxConcurrency int
	logger         *zap.Logger
	nextID         atomic.Uint64
}

// BatchElem is one call in a batch. Result and Error are filled in by
// BatchCall; Result is the raw JSON (possibly "null").
type BatchElem struct {
	Params []interface{}
	ID     ID
	Result json.RawMessage
	Error  *ProtocolError
}

// NewClient creates a client from cfg and options
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Client{
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger.WithComponent(cfg.Logger, logger.ComponentRPC),
		policy:         DefaultMethodPolicy(),
	}
	if c.maxConcurrency <= 0 {
		c.maxConcurrency = constants.DefaultRPCMaxConcurrency
	}
	if cfg.UpdateMethods != nil {
		c.policy = NewMethodAllowList(cfg.UpdateMethods...)
	}

	if cfg.Endpoint != "" {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = constants.DefaultRPCTimeout
		}
		t, err := NewHTTPTransport(HTTPConfig{
			Endpoint:  cfg.Endpoint,
			Timeout:   timeout,
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
		})
		if err != nil {
			return nil, err
		}
		c.read = t
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.read == nil {
		return nil, fmt.Errorf("endpoint or transport is required")
	}
	if c.update == nil {
		c.update = c.read
	}
	return c, nil
}

// NextID returns a fresh numeric request id
func (c *Client) NextID() ID {
	return NumberID(c.nextID.Add(1))
}

func (c *Client) transportFor(method string) Transport {
	if c.policy != nil && c.policy.IsUpdateCall(method) {
		return c.update
	}
	return c.read
}

func encodeParams(params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, types.NewCodecError("encode params", err)
	}
	return raw, nil
}

// Call sends a single request and decodes its result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params []interface{}, id ID, out interface{}) error {
	rawParams, err := encodeParams(params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Request{JSONRPC: Version, Method: method, Params: rawParams, ID: id})
	if err != nil {
		return types.NewCodecError("encode request", err)
	}

	body, err := c.transportFor(method).RoundTrip(ctx, payload)
	if err != nil {
		return err
	}
	if isBatch(body) {
		return fmt.Errorf("%s: %w", method, ErrUnexpectedBatch)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrMalformedResponse, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("%s: %w: missing result", method, ErrMalformedResponse)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return types.NewCodecError("decode "+method+" result", err)
	}
	return nil
}

// BatchCall sends elems as batches of at most maxBatchSize requests each.
// Chunks run concurrently; responses are matched to requests by id, so the
// server may answer in any order. Per-call errors land in BatchElem.Error;
// the returned error covers transport failures and shape mismatches.
func (c *Client) BatchCall(ctx context.Context, method string, elems []BatchElem, maxBatchSize int) error {
	if len(elems) == 0 {
		return nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = len(elems)
	}

	seen := make(map[string]struct{}, len(elems))
	for i := range elems {
		key := elems[i].ID.key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, elems[i].ID)
		}
		seen[key] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for start := 0; start < len(elems); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(elems) {
			end = len(elems)
		}
		chunk := elems[start:end]
		g.Go(func() error {
			return c.sendChunk(gctx, method, chunk)
		})
	}
	return g.Wait()
}

func (c *Client) sendChunk(ctx context.Context, method string, chunk []BatchElem) error {
	reqs := make([]Request, len(chunk))
	index := make(map[string]int, len(chunk))
	for i := range chunk {
		rawParams, err := encodeParams(chunk[i].Params)
		if err != nil {
			return err
		}
		reqs[i] = Request{JSONRPC: Version, Method: method, Params: rawParams, ID: chunk[i].ID}
		index[chunk[i].ID.key()] = i
	}

	payload, err := json.Marshal(reqs)
	if err != nil {
		return types.NewCodecError("encode batch", err)
	}

	c.logger.Debug("Sending batch chunk", zap.String("method", method), zap.Int("size", len(chunk)))
	body, err := c.transportFor(method).RoundTrip(ctx, payload)
	if err != nil {
		return err
	}

	if !isBatch(body) {
		// some servers reject a whole batch with one error object
		var single Response
		if err := json.Unmarshal(body, &single); err == nil && single.Error != nil {
			return single.Error
		}
		return fmt.Errorf("%s: %w: expected array for batch", method, ErrMalformedResponse)
	}

	var resps []Response
	if err := json.Unmarshal(body, &resps); err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrMalformedResponse, err)
	}
	if len(resps) != len(chunk) {
		return &UnexpectedResultsAmountError{Expected: len(chunk), Actual: len(resps)}
	}

	answered := make([]bool, len(chunk))
	for _, resp := range resps {
		i, ok := index[resp.ID.key()]
		if !ok || answered[i] {
			return fmt.Errorf("%s: %w: %s", method, ErrUnknownResponseID, resp.ID)
		}
		answered[i] = true
		chunk[i].Result = resp.Result
		chunk[i].Error = resp.Error
	}
	return nil
}
