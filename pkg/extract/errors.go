package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/rpc"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/0xmhha/evm-block-extractor/pkg/types"
)

var (
	// ErrAlreadyRunning is returned when a run is started while another is in progress
	ErrAlreadyRunning = errors.New("extraction already running")

	// ErrInconsistentChain is returned when fetched blocks do not link to
	// each other or to the stored predecessor
	ErrInconsistentChain = errors.New("inconsistent chain")

	// ErrGenesisMismatch is returned by Init when the stored earliest block
	// differs from the endpoint's and resetting is disabled
	ErrGenesisMismatch = errors.New("stored chain does not match endpoint")
)

// GapError reports a block that could not be collected completely in this
// attempt. The batch is fetched again.
type GapError struct {
	Number uint64
	Reason string
	Err    error
}

func (e *GapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gap at block %d: %s: %v", e.Number, e.Reason, e.Err)
	}
	return fmt.Sprintf("gap at block %d: %s", e.Number, e.Reason)
}

func (e *GapError) Unwrap() error {
	return e.Err
}

// IsGapError reports whether err is a GapError
func IsGapError(err error) bool {
	var ge *GapError
	return errors.As(err, &ge)
}

// IsRetryable reports whether a failed batch is worth another attempt.
// Transport, storage and gap failures are; protocol violations, chain
// inconsistencies and cancellation are not.
func IsRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrInconsistentChain):
		return false
	case IsGapError(err), types.IsCodecError(err):
		return true
	default:
		return rpc.IsTransportError(err) || storage.IsStorageError(err)
	}
}
