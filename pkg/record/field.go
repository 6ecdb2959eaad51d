package record

import (
	"encoding/binary"
	"strconv"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

// Field is a single typed value of a record
type Field struct {
	typ Type
	i   int32
	s   string
}

// Int creates an integer field
func Int(v int32) Field {
	return Field{typ: Integer, i: v}
}

// Str creates a string field of type t. The value must fit in the type.
func Str(s string, t Type) (Field, error) {
	if t.kind != KindString {
		return Field{}, errs.Validation("record.field", "type %s is not a string type", t)
	}
	if len(s) > t.maxChars {
		return Field{}, errs.Validation("record.field",
			"string of %d bytes exceeds max length %d", len(s), t.maxChars)
	}
	return Field{typ: t, s: s}, nil
}

// blank returns the zero value of t
func blank(t Type) Field {
	return Field{typ: t}
}

// Type returns the field type
func (f Field) Type() Type { return f.typ }

// IntValue returns the value of an integer field
func (f Field) IntValue() int32 { return f.i }

// StrValue returns the value of a string field
func (f Field) StrValue() string { return f.s }

// Equal reports whether two fields have the same type and value
func (f Field) Equal(o Field) bool {
	return f.typ == o.typ && f.i == o.i && f.s == o.s
}

func (f Field) String() string {
	if f.typ.kind == KindString {
		return f.s
	}
	return strconv.FormatInt(int64(f.i), 10)
}

// encode writes the field into buf, which must be at least f.typ.Len() long
func (f Field) encode(buf []byte) error {
	if len(buf) < f.typ.Len() {
		return errs.Bounds("record.field", "buffer of %d bytes for %s", len(buf), f.typ)
	}
	if f.typ.kind == KindInteger {
		binary.BigEndian.PutUint32(buf, uint32(f.i))
		return nil
	}
	if len(f.s) > f.typ.maxChars {
		return errs.Validation("record.field",
			"string of %d bytes exceeds max length %d", len(f.s), f.typ.maxChars)
	}
	binary.BigEndian.PutUint32(buf, uint32(len(f.s)))
	copy(buf[lengthPrefix:], f.s)
	return nil
}

// decodeField reads a value of type t from buf
func decodeField(t Type, buf []byte) (Field, error) {
	if len(buf) < t.Len() {
		return Field{}, errs.Bounds("record.field", "buffer of %d bytes for %s", len(buf), t)
	}
	if t.kind == KindInteger {
		return Field{typ: t, i: int32(binary.BigEndian.Uint32(buf))}, nil
	}
	n := int32(binary.BigEndian.Uint32(buf))
	if n < 0 || int(n) > t.maxChars {
		return Field{}, errs.Validation("record.field", "corrupt string length %d for %s", n, t)
	}
	return Field{typ: t, s: string(buf[lengthPrefix : lengthPrefix+int(n)])}, nil
}

// ParseField converts the textual value s into a field of type t
func ParseField(t Type, s string) (Field, error) {
	if t.kind == KindString {
		return Str(s, t)
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return Field{}, errs.Validation("record.field", "%q is not an int32: %v", s, err)
	}
	return Int(int32(v)), nil
}
