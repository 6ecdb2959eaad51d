package record

import (
	"fmt"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

const (
	// IntLen is the encoded size of an integer value
	IntLen = 4
	// lengthPrefix is the size of the int32 length written before strings
	lengthPrefix = 4
	// MaxStringChars is the largest maxChars a string type may declare
	MaxStringChars = 64
)

// Kind distinguishes the field types a schema can hold
type Kind uint8

const (
	// KindInteger is a 32-bit signed integer
	KindInteger Kind = iota
	// KindString is a length-prefixed string with a fixed maximum size
	KindString
)

// Type is a field type. It is a small value type; two types are equal when
// their kind and maximum length match.
type Type struct {
	kind     Kind
	maxChars int
}

// Integer is the integer field type
var Integer = Type{kind: KindInteger}

// String returns a string type holding at most maxChars bytes
func String(maxChars int) (Type, error) {
	if maxChars <= 0 || maxChars > MaxStringChars {
		return Type{}, errs.Validation("record.type",
			"string length must be in [1, %d], got %d", MaxStringChars, maxChars)
	}
	return Type{kind: KindString, maxChars: maxChars}, nil
}

// MustString is like String but panics on an invalid length
func MustString(maxChars int) Type {
	t, err := String(maxChars)
	if err != nil {
		panic(err)
	}
	return t
}

// typeFromTag decodes a persisted type tag: 0 for integer, N>0 for a string
// of at most N bytes
func typeFromTag(tag int32) (Type, error) {
	switch {
	case tag == 0:
		return Integer, nil
	case tag > 0:
		return String(int(tag))
	default:
		return Type{}, errs.Validation("record.type", "unexpected type tag %d", tag)
	}
}

// Kind returns the kind of the type
func (t Type) Kind() Kind { return t.kind }

// MaxChars returns the maximum string length, or 0 for integers
func (t Type) MaxChars() int { return t.maxChars }

// IsInteger reports whether t is the integer type
func (t Type) IsInteger() bool { return t.kind == KindInteger }

// Len returns the number of bytes a value of this type occupies on disk
func (t Type) Len() int {
	if t.kind == KindString {
		return t.maxChars + lengthPrefix
	}
	return IntLen
}

// tag returns the persisted type tag
func (t Type) tag() int32 {
	if t.kind == KindString {
		return int32(t.maxChars)
	}
	return 0
}

func (t Type) String() string {
	if t.kind == KindString {
		return fmt.Sprintf("string(%d)", t.maxChars)
	}
	return "int"
}

// ParseType parses the textual form produced by Type.String, also accepting
// "integer" and "string:N"
func ParseType(s string) (Type, error) {
	switch s {
	case "int", "integer":
		return Integer, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "string(%d)", &n); err == nil {
		return String(n)
	}
	if _, err := fmt.Sscanf(s, "string:%d", &n); err == nil {
		return String(n)
	}
	return Type{}, errs.Validation("record.type", "unknown type %q", s)
}
