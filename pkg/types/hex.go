package types

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hex text form: "0x"-prefixed lowercase. Quantities are minimal (no zero
// padding, zero is "0x0"); hashes always use their full width. Parsing
// accepts an optional "0x"/"0X" prefix and either letter case.

func stripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// decodeHexBytes decodes an even-length hex string with optional prefix.
func decodeHexBytes(s, op string) ([]byte, error) {
	digits := stripHexPrefix(s)
	if len(digits)%2 != 0 {
		return nil, NewCodecError(op, ErrInvalidHex)
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, NewCodecError(op, errors.Join(ErrInvalidHex, err))
	}
	return b, nil
}

// Hex returns the minimal "0x" form of u.
func (u UInt64) Hex() string {
	return hexutil.EncodeUint64(uint64(u))
}

// ParseUInt64 parses a hex quantity.
func ParseUInt64(s string) (UInt64, error) {
	digits := stripHexPrefix(s)
	if digits == "" {
		return 0, NewCodecError("parse uint64", ErrEmptyHex)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, NewCodecError("parse uint64", ErrOverflow)
		}
		return 0, NewCodecError("parse uint64", ErrInvalidHex)
	}
	return UInt64(v), nil
}

func (u UInt64) MarshalText() ([]byte, error) {
	return []byte(u.Hex()), nil
}

func (u *UInt64) UnmarshalText(text []byte) error {
	v, err := ParseUInt64(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Hex returns the minimal "0x" form of u.
func (u UInt256) Hex() string {
	return u.v.Hex()
}

// ParseUInt256 parses a hex quantity of at most 256 bits.
func ParseUInt256(s string) (UInt256, error) {
	digits := stripHexPrefix(s)
	if digits == "" {
		return UInt256{}, NewCodecError("parse uint256", ErrEmptyHex)
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) > 64 {
		return UInt256{}, NewCodecError("parse uint256", ErrOverflow)
	}
	if len(digits)%2 != 0 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return UInt256{}, NewCodecError("parse uint256", errors.Join(ErrInvalidHex, err))
	}
	var u UInt256
	u.v.SetBytes(b)
	return u, nil
}

func (u UInt256) MarshalText() ([]byte, error) {
	return []byte(u.Hex()), nil
}

func (u *UInt256) UnmarshalText(text []byte) error {
	v, err := ParseUInt256(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Hex returns the "0x" form of b; an empty string is "0x".
func (b Bytes) Hex() string {
	return hexutil.Encode(b)
}

func (b Bytes) String() string {
	return b.Hex()
}

// ParseBytes parses an even-length hex string.
func ParseBytes(s string) (Bytes, error) {
	b, err := decodeHexBytes(s, "parse bytes")
	if err != nil {
		return nil, err
	}
	return Bytes(b), nil
}

func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(b.Hex()), nil
}

func (b *Bytes) UnmarshalText(text []byte) error {
	v, err := ParseBytes(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (h Hash64) Hex() string  { return hexutil.Encode(h[:]) }
func (h Hash160) Hex() string { return hexutil.Encode(h[:]) }
func (h Hash256) Hex() string { return hexutil.Encode(h[:]) }

func (h Hash64) String() string  { return h.Hex() }
func (h Hash160) String() string { return h.Hex() }
func (h Hash256) String() string { return h.Hex() }

// ParseHash64 parses a full-width 8-byte hex hash.
func ParseHash64(s string) (Hash64, error) {
	b, err := decodeHexBytes(s, "parse hash64")
	if err != nil {
		return Hash64{}, err
	}
	return Hash64FromSlice(b)
}

// ParseHash160 parses a full-width 20-byte hex hash.
func ParseHash160(s string) (Hash160, error) {
	b, err := decodeHexBytes(s, "parse hash160")
	if err != nil {
		return Hash160{}, err
	}
	return Hash160FromSlice(b)
}

// ParseHash256 parses a full-width 32-byte hex hash.
func ParseHash256(s string) (Hash256, error) {
	b, err := decodeHexBytes(s, "parse hash256")
	if err != nil {
		return Hash256{}, err
	}
	return Hash256FromSlice(b)
}

func (h Hash64) MarshalText() ([]byte, error)  { return []byte(h.Hex()), nil }
func (h Hash160) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }
func (h Hash256) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash64) UnmarshalText(text []byte) error {
	v, err := ParseHash64(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h *Hash160) UnmarshalText(text []byte) error {
	v, err := ParseHash160(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h *Hash256) UnmarshalText(text []byte) error {
	v, err := ParseHash256(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
