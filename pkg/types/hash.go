package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fixed hash widths in bytes
const (
	Hash64Length  = 8
	Hash160Length = 20
	Hash256Length = 32
)

// Hash64 is an 8-byte hash (block nonce).
type Hash64 [Hash64Length]byte

// Hash160 is a 20-byte hash, used for account addresses.
type Hash160 [Hash160Length]byte

// Hash256 is a 32-byte hash, used for block/transaction hashes and roots.
type Hash256 [Hash256Length]byte

func copyFixed(dst, src []byte, op string) error {
	if len(src) != len(dst) {
		return NewCodecError(op, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidLength, len(dst), len(src)))
	}
	copy(dst, src)
	return nil
}

// Hash64FromSlice copies b into a Hash64; b must be exactly 8 bytes.
func Hash64FromSlice(b []byte) (Hash64, error) {
	var h Hash64
	err := copyFixed(h[:], b, "hash64 from slice")
	return h, err
}

// Hash160FromSlice copies b into a Hash160; b must be exactly 20 bytes.
func Hash160FromSlice(b []byte) (Hash160, error) {
	var h Hash160
	err := copyFixed(h[:], b, "hash160 from slice")
	return h, err
}

// Hash256FromSlice copies b into a Hash256; b must be exactly 32 bytes.
func Hash256FromSlice(b []byte) (Hash256, error) {
	var h Hash256
	err := copyFixed(h[:], b, "hash256 from slice")
	return h, err
}

// Keccak256Hash hashes the concatenation of data.
func Keccak256Hash(data ...[]byte) Hash256 {
	return Hash256(crypto.Keccak256Hash(data...))
}

func (h Hash64) Bytes() []byte  { return h[:] }
func (h Hash160) Bytes() []byte { return h[:] }
func (h Hash256) Bytes() []byte { return h[:] }

func (h Hash64) IsZero() bool  { return h == Hash64{} }
func (h Hash160) IsZero() bool { return h == Hash160{} }
func (h Hash256) IsZero() bool { return h == Hash256{} }

// Address converts h to a go-ethereum address.
func (h Hash160) Address() common.Address {
	return common.Address(h)
}

// Common converts h to a go-ethereum hash.
func (h Hash256) Common() common.Hash {
	return common.Hash(h)
}

// HashFromCommon converts a go-ethereum hash.
func HashFromCommon(h common.Hash) Hash256 {
	return Hash256(h)
}

// AddressFromCommon converts a go-ethereum address.
func AddressFromCommon(a common.Address) Hash160 {
	return Hash160(a)
}
