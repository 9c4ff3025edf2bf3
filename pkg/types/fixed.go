package types

import (
	"errors"
	"fmt"
)

// FixedCodec is a value with a fixed-width binary form.
type FixedCodec interface {
	FixedSize() int
	PutFixed(dst []byte)
	SetFixed(src []byte) error
}

// FixedField names one slot of a FixedSchema.
type FixedField struct {
	Name string
	Size int
}

// FieldOf describes a field holding values like c.
func FieldOf(name string, c FixedCodec) FixedField {
	return FixedField{Name: name, Size: c.FixedSize()}
}

// FixedSchema is an ordered, fixed-width record layout. The encoded size
// is always the sum of the field sizes.
type FixedSchema struct {
	fields  []FixedField
	offsets []int
	size    int
}

// NewFixedSchema builds a schema from fields in layout order.
func NewFixedSchema(fields ...FixedField) (*FixedSchema, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema needs at least one field")
	}
	s := &FixedSchema{
		fields:  make([]FixedField, len(fields)),
		offsets: make([]int, len(fields)),
	}
	for i, f := range fields {
		if f.Size <= 0 {
			return nil, fmt.Errorf("field %q must have a positive size", f.Name)
		}
		s.fields[i] = f
		s.offsets[i] = s.size
		s.size += f.Size
	}
	return s, nil
}

// MustFixedSchema is NewFixedSchema that panics on error, for package-level layouts.
func MustFixedSchema(fields ...FixedField) *FixedSchema {
	s, err := NewFixedSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Size returns the encoded width in bytes.
func (s *FixedSchema) Size() int {
	return s.size
}

// Fields returns the layout.
func (s *FixedSchema) Fields() []FixedField {
	return append([]FixedField(nil), s.fields...)
}

func (s *FixedSchema) check(values []FixedCodec) error {
	if len(values) != len(s.fields) {
		return fmt.Errorf("schema has %d fields, got %d values", len(s.fields), len(values))
	}
	for i, v := range values {
		if v.FixedSize() != s.fields[i].Size {
			return fmt.Errorf("field %q: want %d bytes, value has %d", s.fields[i].Name, s.fields[i].Size, v.FixedSize())
		}
	}
	return nil
}

// Encode writes values in field order.
func (s *FixedSchema) Encode(values ...FixedCodec) ([]byte, error) {
	if err := s.check(values); err != nil {
		return nil, NewCodecError("fixed encode", err)
	}
	out := make([]byte, s.size)
	for i, v := range values {
		off := s.offsets[i]
		v.PutFixed(out[off : off+s.fields[i].Size])
	}
	return out, nil
}

// Decode fills values from data, which must be exactly Size bytes.
func (s *FixedSchema) Decode(data []byte, values ...FixedCodec) error {
	if len(data) != s.size {
		return NewCodecError("fixed decode", fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidLength, s.size, len(data)))
	}
	if err := s.check(values); err != nil {
		return NewCodecError("fixed decode", err)
	}
	for i, v := range values {
		off := s.offsets[i]
		if err := v.SetFixed(data[off : off+s.fields[i].Size]); err != nil {
			return NewCodecError("fixed decode "+s.fields[i].Name, err)
		}
	}
	return nil
}

func (u UInt64) FixedSize() int       { return 8 }
func (u UInt64) PutFixed(dst []byte)  { copy(dst, u.BigEndian()) }
func (u UInt256) FixedSize() int      { return 32 }
func (u UInt256) PutFixed(dst []byte) { copy(dst, u.BigEndian()) }
func (h Hash64) FixedSize() int       { return Hash64Length }
func (h Hash64) PutFixed(dst []byte)  { copy(dst, h[:]) }
func (h Hash160) FixedSize() int      { return Hash160Length }
func (h Hash160) PutFixed(dst []byte) { copy(dst, h[:]) }
func (h Hash256) FixedSize() int      { return Hash256Length }
func (h Hash256) PutFixed(dst []byte) { copy(dst, h[:]) }

func (u *UInt64) SetFixed(src []byte) error {
	v, err := UInt64FromBigEndian(src)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (u *UInt256) SetFixed(src []byte) error {
	v, err := UInt256FromBigEndian(src)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (h *Hash64) SetFixed(src []byte) error  { return copyFixed(h[:], src, "hash64 fixed") }
func (h *Hash160) SetFixed(src []byte) error { return copyFixed(h[:], src, "hash160 fixed") }
func (h *Hash256) SetFixed(src []byte) error { return copyFixed(h[:], src, "hash256 fixed") }
