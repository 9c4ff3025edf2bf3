// Package extract replicates a contiguous block range from a JSON-RPC
// endpoint into a storage backend.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/0xmhha/evm-block-extractor/internal/logger"
	"github.com/0xmhha/evm-block-extractor/pkg/retry"
	"github.com/0xmhha/evm-block-extractor/pkg/rpc"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
	"go.uber.org/zap"
)

// Client is the subset of the RPC client the extractor needs
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (*types.Block, error)
	GetBlocksByNumber(ctx context.Context, numbers []uint64, fullTx bool, batchSize int) ([]*types.Block, error)
	GetTransactionReceipts(ctx context.Context, hashes []types.Hash256, batchSize int) ([]*types.Receipt, error)
}

var _ Client = (*rpc.Client)(nil)

// Config holds extractor configuration
type Config struct {
	// BatchSize is the number of blocks fetched and persisted together
	BatchSize int

	// MaxRetries is the number of attempts per batch
	MaxRetries int

	// RetryDelay is the delay between attempts
	RetryDelay time.Duration

	// Genesis is the first height collected into an empty store
	Genesis uint64

	// ValidateChain checks parent hash links before persisting
	ValidateChain bool

	// ResetOnMismatch clears the store in Init when its earliest block is
	// not on the endpoint's chain
	ResetOnMismatch bool
}

// DefaultConfig returns the default extractor configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     constants.DefaultRPCBatchSize,
		MaxRetries:    constants.DefaultMaxRetries,
		RetryDelay:    constants.DefaultRetryDelay,
		ValidateChain: true,
	}
}

// Validate validates the extractor configuration
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	return nil
}

// State is the phase an extraction run is in
type State int32

const (
	StateIdle State = iota
	StateDetermineTargetHeight
	StateDetermineResumePoint
	StateFetchBatch
	StatePersistBatch
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetermineTargetHeight:
		return "determine_target_height"
	case StateDetermineResumePoint:
		return "determine_resume_point"
	case StateFetchBatch:
		return "fetch_batch"
	case StatePersistBatch:
		return "persist_batch"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Range is an inclusive block range. OK is false when nothing was collected.
type Range struct {
	Start uint64
	End   uint64
	OK    bool
}

// Size returns the number of blocks in the range
func (r Range) Size() uint64 {
	if !r.OK || r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if !r.OK {
		return "[]"
	}
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Option configures an Extractor
type Option func(*Extractor)

// WithMetrics sets the metrics the extractor reports to
func WithMetrics(m *Metrics) Option {
	return func(e *Extractor) {
		e.metrics = m
	}
}

// Extractor collects blocks and their receipts batch by batch. The resume
// point is always read back from storage, so an Extractor holds no
// progress of its own and can be restarted at any time.
type Extractor struct {
	client  Client
	storage storage.Storage
	config  *Config
	logger  *zap.Logger
	metrics *Metrics

	state   atomic.Int32
	running sync.Mutex
}

// New creates an Extractor. logger may be nil.
func New(client Client, store storage.Storage, config *Config, log *zap.Logger, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Extractor{
		client:  client,
		storage: store,
		config:  config,
		logger:  logger.WithComponent(logger.OrNop(log), logger.ComponentExtractor),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil, "")
	}
	return e, nil
}

// State returns the current phase
func (e *Extractor) State() State {
	return State(e.state.Load())
}

func (e *Extractor) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Extractor) policy() retry.Policy {
	return retry.Policy{
		Delay:       e.config.RetryDelay,
		MaxAttempts: e.config.MaxRetries,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, err error) {
			e.metrics.Retries.WithLabelValues(errorClass(err)).Inc()
		},
		Logger: e.logger,
	}
}

// lock claims the single extraction slot
func (e *Extractor) lock() error {
	if !e.running.TryLock() {
		return ErrAlreadyRunning
	}
	return nil
}

func (e *Extractor) unlock() {
	e.setState(StateIdle)
	e.running.Unlock()
}

// Init checks that the stored chain belongs to the endpoint by comparing
// the earliest stored block with the endpoint's block at that height. On a
// mismatch the store is cleared when ResetOnMismatch is set; otherwise
// ErrGenesisMismatch is returned. An empty store always passes.
func (e *Extractor) Init(ctx context.Context) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()

	earliest, err := e.storage.GetEarliestBlockNumber(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get earliest stored block: %w", err)
	}

	stored, err := e.storedHash(ctx, earliest)
	if err != nil {
		return fmt.Errorf("failed to read stored block %d: %w", earliest, err)
	}

	remote, err := retry.Do(ctx, e.policy(), "get earliest block", func(ctx context.Context) (*types.Block, error) {
		return e.client.GetBlockByNumber(ctx, rpc.BlockNumber(earliest), false)
	})
	if err != nil {
		return err
	}
	if remote != nil && remote.Hash == stored {
		return nil
	}

	fields := []zap.Field{zap.Uint64("block", earliest), zap.Stringer("stored_hash", stored)}
	if remote != nil {
		fields = append(fields, zap.Stringer("remote_hash", remote.Hash))
	}
	if !e.config.ResetOnMismatch {
		e.logger.Error("Stored chain does not match endpoint", fields...)
		return fmt.Errorf("%w at block %d", ErrGenesisMismatch, earliest)
	}

	e.logger.Warn("Stored chain does not match endpoint, clearing storage", fields...)
	if err := e.storage.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	e.metrics.LatestBlock.Set(0)
	return nil
}

// Run collects from the resume point up to the current chain height.
func (e *Extractor) Run(ctx context.Context) (Range, error) {
	if err := e.lock(); err != nil {
		return Range{}, err
	}
	defer e.unlock()

	e.setState(StateDetermineTargetHeight)
	target, err := retry.Do[uint64](ctx, e.policy(), "get chain height", e.client.BlockNumber)
	if err != nil {
		return Range{}, err
	}
	e.metrics.TargetBlock.Set(float64(target))

	return e.collect(ctx, e.config.Genesis, target)
}

// Collect collects up to to. An empty store starts at from; a non-empty
// one resumes right after its latest block whatever from is, so no hole is
// left below the new blocks. Collecting an already stored range is a no-op.
func (e *Extractor) Collect(ctx context.Context, from, to uint64) (Range, error) {
	if err := e.lock(); err != nil {
		return Range{}, err
	}
	defer e.unlock()

	e.metrics.TargetBlock.Set(float64(to))
	return e.collect(ctx, from, to)
}

// Loop calls Run every pollInterval until ctx is done. Failed runs are
// logged and retried on the next tick, except chain inconsistencies which
// need an operator.
func (e *Extractor) Loop(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = constants.DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	e.logger.Info("Starting extractor loop", zap.Duration("poll_interval", pollInterval))
	for {
		collected, err := e.Run(ctx)
		switch {
		case ctx.Err() != nil:
			e.logger.Info("Extractor loop stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case errors.Is(err, ErrInconsistentChain):
			return err
		case err != nil:
			e.logger.Error("Extraction run failed", zap.Error(err))
		case collected.OK:
			e.logger.Debug("Extraction run completed", zap.Stringer("range", collected))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("Extractor loop stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type storedHeight struct {
	number uint64
	ok     bool
}

// resumePoint returns the first height to collect. An empty store starts
// at from; otherwise collection always continues right after the latest
// stored block so the stored range stays contiguous.
func (e *Extractor) resumePoint(ctx context.Context, from uint64) (uint64, bool, error) {
	latest, err := retry.Do(ctx, e.policy(), "get latest stored block", func(ctx context.Context) (storedHeight, error) {
		n, ok, err := e.storage.GetLatestBlockNumber(ctx)
		return storedHeight{n, ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	if !latest.ok {
		return from, true, nil
	}
	if latest.number == ^uint64(0) {
		return 0, false, nil
	}
	return latest.number + 1, true, nil
}

func (e *Extractor) collect(ctx context.Context, from, to uint64) (Range, error) {
	e.setState(StateDetermineResumePoint)
	start, ok, err := e.resumePoint(ctx, from)
	if err != nil {
		return Range{}, err
	}
	if !ok || start > to {
		e.logger.Debug("Nothing to collect",
			zap.Uint64("resume", start),
			zap.Uint64("target", to),
		)
		return Range{}, nil
	}

	e.logger.Info("Collecting blocks",
		zap.Uint64("start", start),
		zap.Uint64("end", to),
		zap.Int("batch_size", e.config.BatchSize),
	)

	done := Range{Start: start}
	for batchStart := start; ; {
		select {
		case <-ctx.Done():
			return done, ctx.Err()
		default:
		}

		batchEnd := batchEndFor(batchStart, to, e.config.BatchSize)
		if err := e.collectBatch(ctx, batchStart, batchEnd); err != nil {
			return done, err
		}
		done.End, done.OK = batchEnd, true
		e.metrics.LatestBlock.Set(float64(batchEnd))

		if batchEnd == to {
			break
		}
		batchStart = batchEnd + 1
	}

	e.logger.Info("Blocks collected",
		zap.Uint64("start", done.Start),
		zap.Uint64("end", done.End),
		zap.Uint64("count", done.Size()),
	)
	return done, nil
}

// batchEndFor returns the last height of the batch starting at start
func batchEndFor(start, to uint64, size int) uint64 {
	if to-start < uint64(size) {
		return to
	}
	return start + uint64(size) - 1
}

// collectBatch fetches, validates and persists [start, end] as one unit,
// retrying the whole batch on retryable failures. An attempt in flight
// runs to completion even if ctx is cancelled.
func (e *Extractor) collectBatch(ctx context.Context, start, end uint64) error {
	began := time.Now()
	description := fmt.Sprintf("collect blocks %d-%d", start, end)

	persisted, err := retry.Do(ctx, e.policy(), description, func(ctx context.Context) (int, error) {
		return e.fetchAndPersist(context.WithoutCancel(ctx), start, end)
	})
	e.metrics.BatchDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		e.metrics.Batches.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to collect blocks [%d, %d]: %w", start, end, err)
	}

	e.metrics.Batches.WithLabelValues("ok").Inc()
	e.metrics.BlocksCollected.Add(float64(end - start + 1))
	e.metrics.ReceiptsCollected.Add(float64(persisted))

	e.logger.Debug("Batch persisted",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Int("receipts", persisted),
	)
	return nil
}

// fetchAndPersist is one attempt at a batch. It returns the number of
// receipts persisted.
func (e *Extractor) fetchAndPersist(ctx context.Context, start, end uint64) (int, error) {
	e.setState(StateFetchBatch)
	blocks, receipts, err := e.fetchBatch(ctx, start, end)
	if err != nil {
		return 0, err
	}

	if e.config.ValidateChain {
		if err := e.validateChain(ctx, blocks); err != nil {
			return 0, err
		}
	}

	e.setState(StatePersistBatch)
	if err := e.storage.InsertBlocksAndReceipts(ctx, blocks, receipts); err != nil {
		return 0, err
	}
	return len(receipts), nil
}

// fetchBatch fetches the full blocks of [start, end] and the receipt of
// every transaction in them. Any block that is not yet available, or whose
// receipts are incomplete, fails the attempt with a GapError.
func (e *Extractor) fetchBatch(ctx context.Context, start, end uint64) ([]*types.Block, []*types.Receipt, error) {
	numbers := make([]uint64, 0, end-start+1)
	for n := start; ; n++ {
		numbers = append(numbers, n)
		if n == end {
			break
		}
	}

	blocks, err := e.client.GetBlocksByNumber(ctx, numbers, true, e.config.BatchSize)
	if err != nil {
		return nil, nil, err
	}

	var hashes []types.Hash256
	var owners []*types.Block
	for i, block := range blocks {
		switch {
		case block == nil:
			return nil, nil, &GapError{Number: numbers[i], Reason: "block not available"}
		case uint64(block.Number) != numbers[i]:
			return nil, nil, &GapError{Number: numbers[i], Reason: fmt.Sprintf("endpoint returned block %d", block.Number)}
		case !block.IsFull():
			return nil, nil, &GapError{Number: numbers[i], Reason: "transactions not included"}
		}
		for _, h := range block.TransactionHashes {
			hashes = append(hashes, h)
			owners = append(owners, block)
		}
	}

	if len(hashes) == 0 {
		return blocks, nil, nil
	}

	receipts, err := e.client.GetTransactionReceipts(ctx, hashes, e.config.BatchSize)
	if err != nil {
		if types.IsCodecError(err) {
			return nil, nil, &GapError{Number: start, Reason: "undecodable receipt", Err: err}
		}
		return nil, nil, err
	}

	for i, receipt := range receipts {
		owner := owners[i]
		switch {
		case receipt == nil:
			return nil, nil, &GapError{
				Number: uint64(owner.Number),
				Reason: fmt.Sprintf("receipt %s not available", hashes[i]),
			}
		case receipt.TransactionHash != hashes[i], receipt.BlockHash != owner.Hash:
			return nil, nil, &GapError{
				Number: uint64(owner.Number),
				Reason: fmt.Sprintf("receipt %s belongs to block %s", hashes[i], receipt.BlockHash),
			}
		}
	}
	return blocks, receipts, nil
}

// validateChain checks that blocks link to each other and to the stored
// block preceding them, when there is one.
func (e *Extractor) validateChain(ctx context.Context, blocks []*types.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].ParentHash != blocks[i-1].Hash {
			return fmt.Errorf("%w: parent of block %d is %s, block %d is %s", ErrInconsistentChain,
				blocks[i].Number, blocks[i].ParentHash, blocks[i-1].Number, blocks[i-1].Hash)
		}
	}

	first := blocks[0]
	if first.Number == 0 {
		return nil
	}
	previous := uint64(first.Number) - 1
	stored, err := e.storedHash(ctx, previous)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored != first.ParentHash {
		e.logger.Error("Fetched block does not extend stored chain",
			zap.Uint64("block", uint64(first.Number)),
			zap.Stringer("parent_hash", first.ParentHash),
			zap.Stringer("stored_hash", stored),
		)
		return fmt.Errorf("%w: parent of block %d is %s, stored block %d is %s", ErrInconsistentChain,
			first.Number, first.ParentHash, previous, stored)
	}
	return nil
}

// storedHash returns the hash of a stored block, from the index when the
// backend keeps one
func (e *Extractor) storedHash(ctx context.Context, number uint64) (types.Hash256, error) {
	if ir, ok := e.storage.(storage.IndexReader); ok {
		entry, err := ir.GetBlockIndexEntry(ctx, number)
		if err != nil {
			return types.Hash256{}, err
		}
		return entry.Hash, nil
	}
	block, err := e.storage.GetBlockByNumber(ctx, number)
	if err != nil {
		return types.Hash256{}, err
	}
	return block.Hash, nil
}
