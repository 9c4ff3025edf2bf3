package types

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUInt256RLPRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	values := []UInt256{ZeroUInt256(), OneUInt256(), NewUInt256(0x7f), NewUInt256(0x80), MaxUInt256()}
	for i := 0; i < 200; i++ {
		values = append(values, randomUInt256(r))
	}

	for _, u := range values {
		enc, err := EncodeRLPBytes(u)
		require.NoError(t, err)

		var dec UInt256
		require.NoError(t, DecodeRLPBytes(enc, &dec))
		assert.True(t, u.Eq(dec), "rlp round trip of %s", u)

		// matches go-ethereum's big.Int encoding
		ref, err := rlp.EncodeToBytes(u.Big())
		require.NoError(t, err)
		assert.Equal(t, ref, enc)
	}
}

func TestRLPZeroIsEmptyString(t *testing.T) {
	enc, err := EncodeRLPBytes(ZeroUInt256())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, enc)

	enc, err = EncodeRLPBytes(UInt64(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, enc)
}

func TestRLPCanonicalInteger(t *testing.T) {
	enc, err := EncodeRLPBytes(NewUInt256(0x0100))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x01, 0x00}, enc)

	// leading zero byte is not canonical
	var u UInt256
	err = DecodeRLPBytes([]byte{0x82, 0x00, 0x01}, &u)
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
}

func TestRLPRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		into interface{}
	}{
		{name: "oversized uint256", data: append([]byte{0xa1, 0x01}, make([]byte, 32)...), into: new(UInt256)},
		{name: "oversized uint64", data: []byte{0x89, 1, 2, 3, 4, 5, 6, 7, 8, 9}, into: new(UInt64)},
		{name: "truncated string", data: []byte{0x85, 0x01}, into: new(Bytes)},
		{name: "short hash", data: []byte{0x82, 0x01, 0x02}, into: new(Hash256)},
		{name: "list as integer", data: []byte{0xc0}, into: new(UInt256)},
		{name: "empty input", data: nil, into: new(UInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				err := DecodeRLPBytes(tt.data, tt.into)
				require.Error(t, err)
				assert.True(t, IsCodecError(err))
			})
		})
	}
}

func TestUInt64RLPRoundTrip(t *testing.T) {
	for _, u := range []UInt64{0, 1, 127, 128, 1 << 20, MaxUInt64} {
		enc, err := EncodeRLPBytes(u)
		require.NoError(t, err)

		var dec UInt64
		require.NoError(t, DecodeRLPBytes(enc, &dec))
		assert.Equal(t, u, dec)
	}
}

func TestBytesAndHashRLP(t *testing.T) {
	b := Bytes{0x01, 0x02, 0x03}
	enc, err := EncodeRLPBytes(b)
	require.NoError(t, err)

	raw, err := rlp.EncodeToBytes([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, raw, enc, "bytes encode like a raw byte string")

	var dec Bytes
	require.NoError(t, DecodeRLPBytes(enc, &dec))
	assert.True(t, b.Equal(dec))

	var h Hash256
	h[0], h[31] = 0xaa, 0xbb
	enc, err = EncodeRLPBytes(h)
	require.NoError(t, err)
	assert.Len(t, enc, 33)

	var hd Hash256
	require.NoError(t, DecodeRLPBytes(enc, &hd))
	assert.Equal(t, h, hd)
}

func TestBlockRLPRoundTrip(t *testing.T) {
	base := NewUInt256(7)
	block := &Block{
		Number:            12,
		Timestamp:         1_700_000_000,
		GasLimit:          30_000_000,
		GasUsed:           21_000,
		BaseFeePerGas:     &base,
		TransactionHashes: []Hash256{{0x01}, {0x02}},
	}
	block.Hash[0] = 0x12
	block.ParentHash[0] = 0x11

	enc, err := EncodeRLPBytes(block)
	require.NoError(t, err)

	var dec Block
	require.NoError(t, DecodeRLPBytes(enc, &dec))
	assert.Equal(t, block.Number, dec.Number)
	assert.Equal(t, block.Hash, dec.Hash)
	assert.Equal(t, block.ParentHash, dec.ParentHash)
	assert.Equal(t, block.TransactionHashes, dec.TransactionHashes)
	require.NotNil(t, dec.BaseFeePerGas)
	assert.True(t, base.Eq(*dec.BaseFeePerGas))

	block.BaseFeePerGas = nil
	enc, err = EncodeRLPBytes(block)
	require.NoError(t, err)
	require.NoError(t, DecodeRLPBytes(enc, &dec))
	assert.Nil(t, dec.BaseFeePerGas)
}

func TestBigIntCompat(t *testing.T) {
	var dec UInt256
	enc, err := rlp.EncodeToBytes(big.NewInt(1_000_000_000))
	require.NoError(t, err)
	require.NoError(t, DecodeRLPBytes(enc, &dec))
	assert.Equal(t, "1000000000", dec.String())
}

func TestRLPListRoundTrip(t *testing.T) {
	ints := []UInt64{1, 2, 0, MaxUInt64}
	enc, err := EncodeRLPBytes(ints)
	require.NoError(t, err)
	var gotInts []UInt64
	require.NoError(t, DecodeRLPBytes(enc, &gotInts))
	assert.Equal(t, ints, gotInts)

	bigs := []UInt256{ZeroUInt256(), NewUInt256(300), MaxUInt256()}
	enc, err = EncodeRLPBytes(bigs)
	require.NoError(t, err)
	var gotBigs []UInt256
	require.NoError(t, DecodeRLPBytes(enc, &gotBigs))
	require.Len(t, gotBigs, len(bigs))
	for i := range bigs {
		assert.True(t, bigs[i].Eq(gotBigs[i]))
	}

	hashes := []Hash256{{0x01}, {0x02}, {0x03}}
	enc, err = EncodeRLPBytes(hashes)
	require.NoError(t, err)
	var gotHashes []Hash256
	require.NoError(t, DecodeRLPBytes(enc, &gotHashes))
	assert.Equal(t, hashes, gotHashes)

	addrs := []Hash160{{0xaa}, {0xbb}}
	enc, err = EncodeRLPBytes(addrs)
	require.NoError(t, err)
	var gotAddrs []Hash160
	require.NoError(t, DecodeRLPBytes(enc, &gotAddrs))
	assert.Equal(t, addrs, gotAddrs)

	blobs := []Bytes{{0x01}, {}, {0x02, 0x03}}
	enc, err = EncodeRLPBytes(blobs)
	require.NoError(t, err)
	var gotBlobs []Bytes
	require.NoError(t, DecodeRLPBytes(enc, &gotBlobs))
	require.Len(t, gotBlobs, len(blobs))
	for i := range blobs {
		assert.True(t, blobs[i].Equal(gotBlobs[i]))
	}
}

func TestBlockListRLPRoundTrip(t *testing.T) {
	blocks := []*Block{
		{Number: 1, TransactionHashes: []Hash256{{0x01}}},
		{Number: 2, TransactionHashes: []Hash256{{0x02}, {0x03}}},
	}
	blocks[0].Hash[0] = 0x01
	blocks[1].Hash[0] = 0x02
	blocks[1].ParentHash = blocks[0].Hash

	enc, err := EncodeRLPBytes(blocks)
	require.NoError(t, err)

	var got []*Block
	require.NoError(t, DecodeRLPBytes(enc, &got))
	require.Len(t, got, 2)
	for i := range blocks {
		assert.Equal(t, blocks[i].Number, got[i].Number)
		assert.Equal(t, blocks[i].Hash, got[i].Hash)
		assert.Equal(t, blocks[i].TransactionHashes, got[i].TransactionHashes)
		assert.Nil(t, got[i].BaseFeePerGas)
	}
}

func TestRLPListWithBadElement(t *testing.T) {
	// list holding a 2-byte string where a hash is expected
	var hashes []Hash256
	err := DecodeRLPBytes([]byte{0xc3, 0x82, 0x01, 0x02}, &hashes)
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
}
