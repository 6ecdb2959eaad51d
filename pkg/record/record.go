// Package record implements the typed tuple model and its binary codec.
//
// A Schema describes an ordered list of integer and bounded-string fields.
// Records are encoded as the concatenation of their field encodings, in
// schema order, at fixed offsets: integers as big-endian int32 and strings
// as a big-endian int32 byte length followed by the raw bytes, padded to
// the type's declared width.
package record

import (
	"strings"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

// Record is one tuple of a schema
type Record struct {
	schema *Schema
	fields []Field
}

// New creates a record. The number and types of fields must match schema.
func New(schema *Schema, fields ...Field) (*Record, error) {
	if len(fields) != schema.NumFields() {
		return nil, errs.Validation("record.new",
			"%d fields for schema %s of %d fields", len(fields), schema, schema.NumFields())
	}
	for i, f := range fields {
		if f.typ != schema.columns[i].Type {
			return nil, errs.Validation("record.new",
				"field %q expects %s, got %s", schema.columns[i].Name, schema.columns[i].Type, f.typ)
		}
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return &Record{schema: schema, fields: out}, nil
}

// Ints creates a record of an all-integer schema from plain values
func Ints(schema *Schema, values ...int32) (*Record, error) {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = Int(v)
	}
	return New(schema, fields...)
}

// Schema returns the record's schema
func (r *Record) Schema() *Schema { return r.schema }

// Len returns the number of fields
func (r *Record) Len() int { return len(r.fields) }

// Get returns the ith field
func (r *Record) Get(i int) Field { return r.fields[i] }

// Set replaces the ith field. Its type must match the schema.
func (r *Record) Set(i int, f Field) error {
	if i < 0 || i >= len(r.fields) {
		return errs.Bounds("record.set", "field %d outside [0, %d)", i, len(r.fields))
	}
	if f.typ != r.schema.columns[i].Type {
		return errs.Validation("record.set",
			"field %q expects %s, got %s", r.schema.columns[i].Name, r.schema.columns[i].Type, f.typ)
	}
	r.fields[i] = f
	return nil
}

// Key returns the primary key value
func (r *Record) Key() int32 {
	return r.fields[KeyIndex].i
}

// Equal reports whether both records hold equal fields, element-wise
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if !r.fields[i].Equal(o.fields[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return &Record{schema: r.schema, fields: out}
}

func (r *Record) String() string {
	parts := make([]string, len(r.fields))
	for i, f := range r.fields {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Encode writes the record into buf at offset 0
func (r *Record) Encode(buf []byte) error {
	if len(buf) < r.schema.recordLen {
		return errs.Bounds("record.encode", "buffer of %d bytes, record needs %d", len(buf), r.schema.recordLen)
	}
	off := 0
	for _, f := range r.fields {
		if err := f.encode(buf[off:]); err != nil {
			return err
		}
		off += f.typ.Len()
	}
	return nil
}

// Decode reads a record of schema from buf at offset 0
func Decode(schema *Schema, buf []byte) (*Record, error) {
	r := &Record{schema: schema, fields: make([]Field, len(schema.columns))}
	if err := r.DecodeFrom(buf); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeFrom overwrites the record's fields with the values in buf
func (r *Record) DecodeFrom(buf []byte) error {
	if len(buf) < r.schema.recordLen {
		return errs.Bounds("record.decode", "buffer of %d bytes, record needs %d", len(buf), r.schema.recordLen)
	}
	off := 0
	for i, c := range r.schema.columns {
		f, err := decodeField(c.Type, buf[off:])
		if err != nil {
			return err
		}
		r.fields[i] = f
		off += c.Type.Len()
	}
	return nil
}
