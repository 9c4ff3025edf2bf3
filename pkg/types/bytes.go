package types

import "bytes"

// Bytes is a variable-length byte string.
type Bytes []byte

// Equal reports whether b and o hold the same bytes.
func (b Bytes) Equal(o Bytes) bool {
	return bytes.Equal(b, o)
}

// Clone returns a copy of b.
func (b Bytes) Clone() Bytes {
	if b == nil {
		return nil
	}
	out := make(Bytes, len(b))
	copy(out, b)
	return out
}
