package types

import (
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// RLP form: integers are minimal big-endian strings (zero is the empty
// string 0x80), hashes and byte strings are plain RLP strings. Decoding
// rejects non-canonical and oversized items with a CodecError.

// decodeErr wraps a stream error as a CodecError. rlp.EOL passes through
// unchanged since the list decoder uses it to find the end of a list.
func decodeErr(op string, err error) error {
	if err == rlp.EOL {
		return err
	}
	return NewCodecError(op, err)
}

func (u UInt64) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, uint64(u))
}

func (u *UInt64) DecodeRLP(s *rlp.Stream) error {
	v, err := s.Uint64()
	if err != nil {
		return decodeErr("decode rlp uint64", err)
	}
	*u = UInt64(v)
	return nil
}

func (u UInt256) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &u.v)
}

func (u *UInt256) DecodeRLP(s *rlp.Stream) error {
	var v UInt256
	if err := s.ReadUint256(&v.v); err != nil {
		return decodeErr("decode rlp uint256", err)
	}
	*u = v
	return nil
}

func (b Bytes) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []byte(b))
}

func (b *Bytes) DecodeRLP(s *rlp.Stream) error {
	v, err := s.Bytes()
	if err != nil {
		return decodeErr("decode rlp bytes", err)
	}
	*b = v
	return nil
}

func (h Hash64) EncodeRLP(w io.Writer) error  { return rlp.Encode(w, h[:]) }
func (h Hash160) EncodeRLP(w io.Writer) error { return rlp.Encode(w, h[:]) }
func (h Hash256) EncodeRLP(w io.Writer) error { return rlp.Encode(w, h[:]) }

func decodeRLPFixed(s *rlp.Stream, dst []byte, op string) error {
	b, err := s.Bytes()
	if err != nil {
		return decodeErr(op, err)
	}
	return copyFixed(dst, b, op)
}

func (h *Hash64) DecodeRLP(s *rlp.Stream) error {
	return decodeRLPFixed(s, h[:], "decode rlp hash64")
}

func (h *Hash160) DecodeRLP(s *rlp.Stream) error {
	return decodeRLPFixed(s, h[:], "decode rlp hash160")
}

func (h *Hash256) DecodeRLP(s *rlp.Stream) error {
	return decodeRLPFixed(s, h[:], "decode rlp hash256")
}

// EncodeRLPBytes returns the RLP encoding of v.
func EncodeRLPBytes(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, NewCodecError("encode rlp", err)
	}
	return b, nil
}

// DecodeRLPBytes decodes data into v, rejecting trailing bytes.
func DecodeRLPBytes(data []byte, v interface{}) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		if IsCodecError(err) {
			return err
		}
		return NewCodecError("decode rlp", err)
	}
	return nil
}
