// Package retry runs fallible operations with a fixed delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/logger"
	"go.uber.org/zap"
)

// Operation is a fallible unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy controls how Do retries an operation.
type Policy struct {
	// Delay is the pause between a failed attempt and the next one
	Delay time.Duration

	// MaxAttempts bounds the number of calls. Values below 2 still make one call.
	MaxAttempts int

	// Retryable decides whether an error is worth another attempt.
	// Nil treats every error as retryable.
	Retryable func(error) bool

	// OnRetry is called after each failed, retryable attempt (optional)
	OnRetry func(attempt int, err error)

	// Logger receives a warning per failed attempt; falls back to the context logger
	Logger *zap.Logger
}

// Do calls op until it succeeds or the policy gives up, returning the first
// success or the last error.
//
// The first MaxAttempts-1 calls happen inside the delay-and-retry loop and
// one final call always follows it, so MaxAttempts == 0 makes exactly one call.
func Do[T any](ctx context.Context, p Policy, description string, op Operation[T]) (T, error) {
	log := p.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}

	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return result, err
		}

		log.Warn("Operation failed, retrying",
			zap.String("operation", description),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", p.Delay),
			zap.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if waitErr := sleep(ctx, p.Delay); waitErr != nil {
			var zero T
			return zero, errors.Join(waitErr, err)
		}
	}

	return op(ctx)
}

// WithRetry is Do with a plain delay/attempts policy.
func WithRetry[T any](ctx context.Context, description string, delay time.Duration, maxAttempts int, op Operation[T]) (T, error) {
	return Do(ctx, Policy{Delay: delay, MaxAttempts: maxAttempts}, description, op)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Join(ErrAborted, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// ErrAborted is returned when the context ends while waiting between attempts.
var ErrAborted = errors.New("retry aborted")
