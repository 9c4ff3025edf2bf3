package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
)

// Key prefixes shared by the key-value backends
const (
	prefixBlocks     = "/data/blocks/"
	prefixReceipts   = "/data/receipts/"
	prefixBlockIndex = "/index/blocks/"
)

// EncodeUint64 encodes a height so that byte order matches numeric order
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeUint64 reverses EncodeUint64
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid height length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// BlockKey returns the key of the full block record at height n
func BlockKey(n uint64) []byte {
	return append([]byte(prefixBlocks), EncodeUint64(n)...)
}

// BlockIndexKey returns the key of the index entry at height n
func BlockIndexKey(n uint64) []byte {
	return append([]byte(prefixBlockIndex), EncodeUint64(n)...)
}

// ReceiptKey returns the key of the receipt of transaction hash
func ReceiptKey(hash types.Hash256) []byte {
	return append([]byte(prefixReceipts), hash[:]...)
}

func encodeIndexEntry(block *types.Block) ([]byte, error) {
	entry := block.IndexEntry()
	return entry.MarshalBinary()
}

func decodeIndexEntry(data []byte) (*types.BlockIndexEntry, error) {
	entry := new(types.BlockIndexEntry)
	if err := entry.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return entry, nil
}

// prefixUpperBound returns the upper bound for prefix iteration
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // All 0xff, no upper bound
}

// blockIndexUpperBound returns the exclusive upper key for heights <= end
func blockIndexUpperBound(end uint64) []byte {
	if end == ^uint64(0) {
		return prefixUpperBound([]byte(prefixBlockIndex))
	}
	return BlockIndexKey(end + 1)
}
