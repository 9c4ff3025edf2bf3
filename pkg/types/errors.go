// Package types holds the canonical Ethereum wire values (fixed-width
// integers, hashes, byte strings), their hex and RLP codecs, and the
// block/transaction/receipt records built from them.
package types

import (
	"errors"
	"fmt"
)

// Codec errors
var (
	// ErrInvalidLength is returned when a byte slice does not match a fixed width
	ErrInvalidLength = errors.New("invalid length")

	// ErrInvalidHex is returned for malformed hex strings
	ErrInvalidHex = errors.New("invalid hex string")

	// ErrEmptyHex is returned when a hex string carries no digits
	ErrEmptyHex = errors.New("empty hex string")

	// ErrOverflow is returned when a value does not fit the target width
	ErrOverflow = errors.New("value overflows target width")
)

// CodecError reports a failed hex, RLP, or binary conversion.
type CodecError struct {
	Op  string
	Err error
}

// NewCodecError wraps err as a CodecError for op.
func NewCodecError(op string, err error) *CodecError {
	return &CodecError{Op: op, Err: err}
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// IsCodecError reports whether err (or anything it wraps) is a CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
