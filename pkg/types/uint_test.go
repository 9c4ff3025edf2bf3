package types

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUInt256(r *rand.Rand) UInt256 {
	buf := make([]byte, 1+r.Intn(32))
	r.Read(buf)
	u, _ := UInt256FromBigEndian(buf)
	return u
}

func TestUInt256EndianRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	values := []UInt256{ZeroUInt256(), OneUInt256(), MaxUInt256(), NewUInt256(1 << 40)}
	for i := 0; i < 200; i++ {
		values = append(values, randomUInt256(r))
	}

	for _, u := range values {
		be := u.BigEndian()
		require.Len(t, be, 32)
		fromBE, err := UInt256FromBigEndian(be)
		require.NoError(t, err)
		assert.True(t, u.Eq(fromBE), "big endian round trip of %s", u)

		le := u.LittleEndian()
		fromLE, err := UInt256FromLittleEndian(le)
		require.NoError(t, err)
		assert.True(t, u.Eq(fromLE), "little endian round trip of %s", u)
	}
}

func TestUInt256EndianLayout(t *testing.T) {
	u := NewUInt256(0x0102)
	be := u.BigEndian()
	le := u.LittleEndian()
	assert.Equal(t, byte(0x01), be[30])
	assert.Equal(t, byte(0x02), be[31])
	assert.Equal(t, byte(0x02), le[0])
	assert.Equal(t, byte(0x01), le[1])

	_, err := UInt256FromBigEndian(make([]byte, 33))
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = UInt256FromLittleEndian(make([]byte, 33))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUInt256Checked(t *testing.T) {
	max := MaxUInt256()
	one := OneUInt256()

	_, ok := max.CheckedAdd(one)
	assert.False(t, ok, "max+1 overflows")

	_, ok = ZeroUInt256().CheckedSub(one)
	assert.False(t, ok, "0-1 underflows")

	_, ok = max.CheckedMul(NewUInt256(2))
	assert.False(t, ok, "max*2 overflows")

	_, ok = one.CheckedDiv(ZeroUInt256())
	assert.False(t, ok, "division by zero")

	sum, ok := NewUInt256(40).CheckedAdd(NewUInt256(2))
	require.True(t, ok)
	assert.Equal(t, "42", sum.String())

	diff, ok := NewUInt256(40).CheckedSub(NewUInt256(2))
	require.True(t, ok)
	assert.Equal(t, "38", diff.String())

	prod, ok := NewUInt256(6).CheckedMul(NewUInt256(7))
	require.True(t, ok)
	assert.Equal(t, "42", prod.String())

	quot, ok := NewUInt256(42).CheckedDiv(NewUInt256(5))
	require.True(t, ok)
	assert.Equal(t, "8", quot.String())
}

func TestUInt256FromBig(t *testing.T) {
	b := new(big.Int).Lsh(big.NewInt(1), 255)
	u, err := UInt256FromBig(b)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Big().Cmp(b))

	_, err = UInt256FromBig(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = UInt256FromBig(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUInt64EndianAndChecked(t *testing.T) {
	values := []UInt64{0, 1, 255, 256, 1 << 32, MaxUInt64}
	for _, u := range values {
		be, err := UInt64FromBigEndian(u.BigEndian())
		require.NoError(t, err)
		assert.Equal(t, u, be)

		le, err := UInt64FromLittleEndian(u.LittleEndian())
		require.NoError(t, err)
		assert.Equal(t, u, le)
	}

	short, err := UInt64FromBigEndian([]byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, UInt64(256), short)

	_, err = UInt64FromBigEndian(make([]byte, 9))
	assert.ErrorIs(t, err, ErrOverflow)

	_, ok := MaxUInt64.CheckedAdd(1)
	assert.False(t, ok)
	_, ok = UInt64(0).CheckedSub(1)
	assert.False(t, ok)
	_, ok = MaxUInt64.CheckedMul(2)
	assert.False(t, ok)
	_, ok = UInt64(1).CheckedDiv(0)
	assert.False(t, ok)

	v, ok := UInt64(10).CheckedDiv(3)
	require.True(t, ok)
	assert.Equal(t, UInt64(3), v)
}
