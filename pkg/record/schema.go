package record

import (
	"encoding/binary"
	"strings"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

const (
	// MaxNameLen is the longest field name a schema may hold, in bytes
	MaxNameLen = 24
	// nameSlotLen is the fixed width of a persisted field name
	nameSlotLen = MaxNameLen + lengthPrefix
	// tagLen is the width of a persisted type tag
	tagLen = 4
	// countLen is the width of the persisted field count
	countLen = 4
	// KeyIndex is the position of the primary key field
	KeyIndex = 0
)

// Column names and types one schema position
type Column struct {
	Name string
	Type Type
}

// Schema is an ordered, immutable list of typed fields. Field 0 is the
// primary key and is always an integer.
type Schema struct {
	columns   []Column
	positions map[string]int
	recordLen int
}

// Builder accumulates columns for a new schema
type Builder struct {
	columns []Column
}

// NewBuilder starts a schema whose integer key field is named key
func NewBuilder(key string) *Builder {
	return &Builder{columns: []Column{{Name: key, Type: Integer}}}
}

// Add appends a field
func (b *Builder) Add(name string, t Type) *Builder {
	b.columns = append(b.columns, Column{Name: name, Type: t})
	return b
}

// Build validates the accumulated columns and returns the schema
func (b *Builder) Build() (*Schema, error) {
	return NewSchema(b.columns...)
}

// NewSchema creates a schema from columns. The first column is the key.
func NewSchema(columns ...Column) (*Schema, error) {
	if len(columns) == 0 {
		return nil, errs.Validation("record.schema", "schema must have at least one field")
	}
	if !columns[KeyIndex].Type.IsInteger() {
		return nil, errs.Validation("record.schema",
			"key field %q must be an integer, got %s", columns[KeyIndex].Name, columns[KeyIndex].Type)
	}

	s := &Schema{
		columns:   make([]Column, len(columns)),
		positions: make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.Name == "" || len(c.Name) > MaxNameLen {
			return nil, errs.Validation("record.schema",
				"field name %q must be 1 to %d bytes", c.Name, MaxNameLen)
		}
		if _, dup := s.positions[c.Name]; dup {
			return nil, errs.Validation("record.schema", "duplicate field name %q", c.Name)
		}
		if c.Type.kind == KindString && (c.Type.maxChars <= 0 || c.Type.maxChars > MaxStringChars) {
			return nil, errs.Validation("record.schema", "field %q has invalid type %s", c.Name, c.Type)
		}
		s.columns[i] = c
		s.positions[c.Name] = i
		s.recordLen += c.Type.Len()
	}
	return s, nil
}

// NumFields returns the number of fields
func (s *Schema) NumFields() int { return len(s.columns) }

// Column returns the ith column
func (s *Schema) Column(i int) Column { return s.columns[i] }

// Columns returns a copy of all columns
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// FieldIndex returns the position of the named field, or -1
func (s *Schema) FieldIndex(name string) int {
	if i, ok := s.positions[name]; ok {
		return i
	}
	return -1
}

// KeyName returns the name of the primary key field
func (s *Schema) KeyName() string { return s.columns[KeyIndex].Name }

// RecordLen returns the encoded size of one record
func (s *Schema) RecordLen() int { return s.recordLen }

// EncodedLen returns the encoded size of the schema itself
func (s *Schema) EncodedLen() int {
	return countLen + len(s.columns)*(nameSlotLen+tagLen)
}

// Equal reports whether two schemas have the same columns
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.columns) != len(o.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i] != o.columns[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Describe returns "name:type" pairs, key first
func (s *Schema) Describe() string {
	parts := make([]string, len(s.columns))
	for i, c := range s.columns {
		parts[i] = c.Name + ":" + c.Type.String()
	}
	return strings.Join(parts, " ")
}

// Encode writes the schema into buf:
//
//	[int32 fieldCount]{[int32 nameLen][name padded to 24 bytes][int32 typeTag]}...
func (s *Schema) Encode(buf []byte) error {
	if len(buf) < s.EncodedLen() {
		return errs.Bounds("record.schema", "buffer of %d bytes, schema needs %d", len(buf), s.EncodedLen())
	}

	binary.BigEndian.PutUint32(buf, uint32(len(s.columns)))
	off := countLen
	for _, c := range s.columns {
		slot := buf[off : off+nameSlotLen]
		for i := range slot {
			slot[i] = 0
		}
		binary.BigEndian.PutUint32(slot, uint32(len(c.Name)))
		copy(slot[lengthPrefix:], c.Name)
		off += nameSlotLen

		binary.BigEndian.PutUint32(buf[off:], uint32(c.Type.tag()))
		off += tagLen
	}
	return nil
}

// DecodeSchema reads a schema written by Encode
func DecodeSchema(buf []byte) (*Schema, error) {
	if len(buf) < countLen {
		return nil, errs.Validation("record.schema", "buffer too small for a schema")
	}

	n := int32(binary.BigEndian.Uint32(buf))
	if n <= 0 || int64(countLen)+int64(n)*(nameSlotLen+tagLen) > int64(len(buf)) {
		return nil, errs.Validation("record.schema", "corrupt field count %d", n)
	}

	columns := make([]Column, 0, n)
	off := countLen
	for i := int32(0); i < n; i++ {
		nameLen := int32(binary.BigEndian.Uint32(buf[off:]))
		if nameLen <= 0 || nameLen > MaxNameLen {
			return nil, errs.Validation("record.schema", "corrupt name length %d for field %d", nameLen, i)
		}
		name := string(buf[off+lengthPrefix : off+lengthPrefix+int(nameLen)])
		off += nameSlotLen

		t, err := typeFromTag(int32(binary.BigEndian.Uint32(buf[off:])))
		if err != nil {
			return nil, err
		}
		off += tagLen

		columns = append(columns, Column{Name: name, Type: t})
	}
	return NewSchema(columns...)
}

// Blank returns a record holding the zero value of every field
func (s *Schema) Blank() *Record {
	fields := make([]Field, len(s.columns))
	for i, c := range s.columns {
		fields[i] = blank(c.Type)
	}
	return &Record{schema: s, fields: fields}
}
