package types

import (
	"encoding/binary"
	"math"
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"
)

// UInt64 is an unsigned 64-bit quantity.
type UInt64 uint64

// MaxUInt64 is the largest UInt64.
const MaxUInt64 = UInt64(math.MaxUint64)

// Uint64 returns u as a plain uint64.
func (u UInt64) Uint64() uint64 {
	return uint64(u)
}

// BigEndian returns the 8-byte big-endian form of u.
func (u UInt64) BigEndian() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(u))
	return b
}

// LittleEndian returns the 8-byte little-endian form of u.
func (u UInt64) LittleEndian() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(u))
	return b
}

// UInt64FromBigEndian decodes up to 8 big-endian bytes.
func UInt64FromBigEndian(b []byte) (UInt64, error) {
	if len(b) > 8 {
		return 0, NewCodecError("uint64 from big endian", ErrOverflow)
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return UInt64(binary.BigEndian.Uint64(buf[:])), nil
}

// UInt64FromLittleEndian decodes up to 8 little-endian bytes.
func UInt64FromLittleEndian(b []byte) (UInt64, error) {
	if len(b) > 8 {
		return 0, NewCodecError("uint64 from little endian", ErrOverflow)
	}
	var buf [8]byte
	copy(buf[:], b)
	return UInt64(binary.LittleEndian.Uint64(buf[:])), nil
}

// CheckedAdd returns u+o, or false on overflow.
func (u UInt64) CheckedAdd(o UInt64) (UInt64, bool) {
	sum, carry := bits.Add64(uint64(u), uint64(o), 0)
	if carry != 0 {
		return 0, false
	}
	return UInt64(sum), true
}

// CheckedSub returns u-o, or false on underflow.
func (u UInt64) CheckedSub(o UInt64) (UInt64, bool) {
	diff, borrow := bits.Sub64(uint64(u), uint64(o), 0)
	if borrow != 0 {
		return 0, false
	}
	return UInt64(diff), true
}

// CheckedMul returns u*o, or false on overflow.
func (u UInt64) CheckedMul(o UInt64) (UInt64, bool) {
	hi, lo := bits.Mul64(uint64(u), uint64(o))
	if hi != 0 {
		return 0, false
	}
	return UInt64(lo), true
}

// CheckedDiv returns u/o, or false when o is zero.
func (u UInt64) CheckedDiv(o UInt64) (UInt64, bool) {
	if o == 0 {
		return 0, false
	}
	return u / o, true
}

// UInt256 is an unsigned 256-bit quantity backed by holiman/uint256.
// The zero value is 0.
type UInt256 struct {
	v uint256.Int
}

// NewUInt256 returns x as a UInt256.
func NewUInt256(x uint64) UInt256 {
	var u UInt256
	u.v.SetUint64(x)
	return u
}

// ZeroUInt256 returns 0.
func ZeroUInt256() UInt256 {
	return UInt256{}
}

// OneUInt256 returns 1.
func OneUInt256() UInt256 {
	return NewUInt256(1)
}

// MaxUInt256 returns 2^256-1.
func MaxUInt256() UInt256 {
	var u UInt256
	u.v.SetAllOne()
	return u
}

// UInt256FromBig converts a non-negative big.Int that fits in 256 bits.
func UInt256FromBig(b *big.Int) (UInt256, error) {
	if b == nil {
		return UInt256{}, nil
	}
	if b.Sign() < 0 {
		return UInt256{}, NewCodecError("uint256 from big", ErrOverflow)
	}
	var u UInt256
	if overflow := u.v.SetFromBig(b); overflow {
		return UInt256{}, NewCodecError("uint256 from big", ErrOverflow)
	}
	return u, nil
}

// Big returns u as a new big.Int.
func (u UInt256) Big() *big.Int {
	return u.v.ToBig()
}

// Int returns a copy of the underlying uint256.Int.
func (u UInt256) Int() *uint256.Int {
	return new(uint256.Int).Set(&u.v)
}

// Uint64 returns the low 64 bits and whether u fits in them.
func (u UInt256) Uint64() (uint64, bool) {
	return u.v.Uint64(), u.v.IsUint64()
}

// IsZero reports whether u == 0.
func (u UInt256) IsZero() bool {
	return u.v.IsZero()
}

// Cmp compares u and o and returns -1, 0 or +1.
func (u UInt256) Cmp(o UInt256) int {
	return u.v.Cmp(&o.v)
}

// Eq reports whether u == o.
func (u UInt256) Eq(o UInt256) bool {
	return u.v.Eq(&o.v)
}

// String returns the decimal form of u.
func (u UInt256) String() string {
	return u.v.Dec()
}

// BigEndian returns the 32-byte big-endian form of u.
func (u UInt256) BigEndian() []byte {
	b := u.v.Bytes32()
	return b[:]
}

// LittleEndian returns the 32-byte little-endian form of u.
func (u UInt256) LittleEndian() []byte {
	b := u.v.Bytes32()
	reverse(b[:])
	return b[:]
}

// UInt256FromBigEndian decodes up to 32 big-endian bytes.
func UInt256FromBigEndian(b []byte) (UInt256, error) {
	if len(b) > 32 {
		return UInt256{}, NewCodecError("uint256 from big endian", ErrOverflow)
	}
	var u UInt256
	u.v.SetBytes(b)
	return u, nil
}

// UInt256FromLittleEndian decodes up to 32 little-endian bytes.
func UInt256FromLittleEndian(b []byte) (UInt256, error) {
	if len(b) > 32 {
		return UInt256{}, NewCodecError("uint256 from little endian", ErrOverflow)
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	reverse(buf)
	var u UInt256
	u.v.SetBytes(buf)
	return u, nil
}

// CheckedAdd returns u+o, or false on overflow.
func (u UInt256) CheckedAdd(o UInt256) (UInt256, bool) {
	var r UInt256
	if _, overflow := r.v.AddOverflow(&u.v, &o.v); overflow {
		return UInt256{}, false
	}
	return r, true
}

// CheckedSub returns u-o, or false on underflow.
func (u UInt256) CheckedSub(o UInt256) (UInt256, bool) {
	var r UInt256
	if _, underflow := r.v.SubOverflow(&u.v, &o.v); underflow {
		return UInt256{}, false
	}
	return r, true
}

// CheckedMul returns u*o, or false on overflow.
func (u UInt256) CheckedMul(o UInt256) (UInt256, bool) {
	var r UInt256
	if _, overflow := r.v.MulOverflow(&u.v, &o.v); overflow {
		return UInt256{}, false
	}
	return r, true
}

// CheckedDiv returns u/o, or false when o is zero.
func (u UInt256) CheckedDiv(o UInt256) (UInt256, bool) {
	if o.v.IsZero() {
		return UInt256{}, false
	}
	var r UInt256
	r.v.Div(&u.v, &o.v)
	return r, true
}

// MinUInt256 returns the smaller of a and b.
func MinUInt256(a, b UInt256) UInt256 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
