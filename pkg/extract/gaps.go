package extract

import (
	"context"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"go.uber.org/zap"
)

// gapScanWindow bounds the heights inspected by one missing-blocks query
const gapScanWindow = 100_000

// GapRange represents a range of missing blocks
type GapRange struct {
	Start uint64
	End   uint64
}

// Size returns the number of blocks in the gap
func (g GapRange) Size() uint64 {
	if g.End < g.Start {
		return 0
	}
	return g.End - g.Start + 1
}

// groupGaps turns ascending missing heights into contiguous ranges
func groupGaps(missing []uint64) []GapRange {
	var gaps []GapRange
	for _, n := range missing {
		if len(gaps) > 0 && gaps[len(gaps)-1].End+1 == n {
			gaps[len(gaps)-1].End = n
			continue
		}
		gaps = append(gaps, GapRange{Start: n, End: n})
	}
	return gaps
}

// DetectGaps returns the missing ranges within [start, end], scanning the
// store window by window.
func (e *Extractor) DetectGaps(ctx context.Context, start, end uint64) ([]GapRange, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d > end %d", storage.ErrInvalidRange, start, end)
	}

	e.logger.Info("Scanning for gaps",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
	)

	var gaps []GapRange
	for windowStart := start; ; {
		select {
		case <-ctx.Done():
			return gaps, ctx.Err()
		default:
		}

		windowEnd := batchEndFor(windowStart, end, gapScanWindow)
		missing, err := storage.GetMissingBlocksInRange(ctx, e.storage, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocks [%d, %d]: %w", windowStart, windowEnd, err)
		}

		for _, gap := range groupGaps(missing) {
			// merge a gap that continues across the window edge
			if n := len(gaps); n > 0 && gaps[n-1].End+1 == gap.Start {
				gaps[n-1].End = gap.End
				continue
			}
			gaps = append(gaps, gap)
		}

		if windowEnd == end {
			break
		}
		windowStart = windowEnd + 1
	}

	e.logger.Info("Gap detection completed",
		zap.Int("total_gaps", len(gaps)),
		zap.Uint64("start", start),
		zap.Uint64("end", end),
	)
	return gaps, nil
}

// FillGaps re-collects every block missing from [start, end] and returns
// the number of blocks filled. Gaps are filled in ascending order, batch
// by batch, with the same validation as Collect.
func (e *Extractor) FillGaps(ctx context.Context, start, end uint64) (uint64, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.unlock()

	e.setState(StateDetermineResumePoint)
	gaps, err := e.DetectGaps(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(gaps) == 0 {
		e.logger.Info("No gaps to fill")
		return 0, nil
	}

	var filled uint64
	for i, gap := range gaps {
		e.logger.Info("Filling gap",
			zap.Int("gap_num", i+1),
			zap.Int("total_gaps", len(gaps)),
			zap.Uint64("start", gap.Start),
			zap.Uint64("end", gap.End),
			zap.Uint64("size", gap.Size()),
		)

		for batchStart := gap.Start; ; {
			select {
			case <-ctx.Done():
				return filled, ctx.Err()
			default:
			}

			batchEnd := batchEndFor(batchStart, gap.End, e.config.BatchSize)
			if err := e.collectBatch(ctx, batchStart, batchEnd); err != nil {
				return filled, fmt.Errorf("failed to fill gap [%d-%d]: %w", gap.Start, gap.End, err)
			}
			filled += batchEnd - batchStart + 1

			if batchEnd == gap.End {
				break
			}
			batchStart = batchEnd + 1
		}
	}

	e.logger.Info("Gap filling completed",
		zap.Int("total_gaps", len(gaps)),
		zap.Uint64("blocks_filled", filled),
	)
	return filled, nil
}
