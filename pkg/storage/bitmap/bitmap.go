// Package bitmap implements a bit set over a caller-owned byte buffer.
//
// Bits are numbered big-endian within each byte: bit 0 is the most
// significant bit of byte 0. This ordering is part of the on-disk format of
// both the block-validity bitmap and every record-validity bitmap.
package bitmap

import (
	"strings"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

const (
	// NoZero is returned by FirstZero when every bit is set
	NoZero = -1

	// allOnes is a byte with every bit set
	allOnes = 0xFF

	// diagnosticBytes bounds how much of the bitmap String renders
	diagnosticBytes = 12
)

// Bitmap is a live view over a byte slice. Mutations write through to the
// slice, so a bitmap wrapping a block buffer changes the block in place.
type Bitmap struct {
	bytes   []byte
	numBits int
}

// New creates a bitmap over every bit of buf
func New(buf []byte) *Bitmap {
	return &Bitmap{bytes: buf, numBits: len(buf) * 8}
}

// NewWithSize creates a bitmap over the first numBits bits of buf.
// Bits past numBits are never read or written.
func NewWithSize(buf []byte, numBits int) (*Bitmap, error) {
	if numBits < 0 || numBits > len(buf)*8 {
		return nil, errs.Bounds("bitmap", "%d bits do not fit in %d bytes", numBits, len(buf))
	}
	return &Bitmap{bytes: buf, numBits: numBits}, nil
}

// Size returns the number of addressable bits
func (b *Bitmap) Size() int {
	return b.numBits
}

// Bytes returns the backing slice
func (b *Bitmap) Bytes() []byte {
	return b.bytes
}

// Get reports whether bit i is set
func (b *Bitmap) Get(i int) (bool, error) {
	if err := b.check(i); err != nil {
		return false, err
	}
	return b.get(i), nil
}

// Set sets bit i to v
func (b *Bitmap) Set(i int, v bool) error {
	if err := b.check(i); err != nil {
		return err
	}
	mask := byte(1) << (7 - uint(i%8))
	if v {
		b.bytes[i/8] |= mask
	} else {
		b.bytes[i/8] &^= mask
	}
	return nil
}

// Clear zeroes every addressable bit
func (b *Bitmap) Clear() {
	full := b.numBits / 8
	for i := 0; i < full; i++ {
		b.bytes[i] = 0
	}
	for i := full * 8; i < b.numBits; i++ {
		b.bytes[i/8] &^= byte(1) << (7 - uint(i%8))
	}
}

// FirstZero returns the lowest unset bit, or NoZero if all bits are set
func (b *Bitmap) FirstZero() int {
	return b.NextZero(0)
}

// NextZero returns the lowest unset bit at or after from, or NoZero
func (b *Bitmap) NextZero(from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < b.numBits; {
		// whole bytes of ones are skipped without probing bits
		if i%8 == 0 && b.bytes[i/8] == allOnes {
			i += 8
			continue
		}
		if !b.get(i) {
			return i
		}
		i++
	}
	return NoZero
}

// NextSet returns the lowest set bit at or after from, or NoZero
func (b *Bitmap) NextSet(from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < b.numBits; {
		if i%8 == 0 && b.bytes[i/8] == 0 {
			i += 8
			continue
		}
		if b.get(i) {
			return i
		}
		i++
	}
	return NoZero
}

// Count returns the number of set bits
func (b *Bitmap) Count() int {
	n := 0
	for i := b.NextSet(0); i != NoZero; i = b.NextSet(i + 1) {
		n++
	}
	return n
}

// String renders the leading bytes of the bitmap as groups of bits
func (b *Bitmap) String() string {
	numBytes := (b.numBits + 7) / 8
	shown := numBytes
	if shown > diagnosticBytes {
		shown = diagnosticBytes
	}

	var sb strings.Builder
	for i := 0; i < shown; i++ {
		for j := 0; j < 8; j++ {
			bit := i*8 + j
			switch {
			case bit >= b.numBits:
				sb.WriteByte('-')
			case b.get(bit):
				sb.WriteByte('1')
			default:
				sb.WriteByte('0')
			}
		}
		sb.WriteByte(' ')
	}
	if shown < numBytes {
		sb.WriteString(" ...")
	}
	return sb.String()
}

func (b *Bitmap) get(i int) bool {
	return (b.bytes[i/8]>>(7-uint(i%8)))&1 != 0
}

func (b *Bitmap) check(i int) error {
	if i < 0 || i >= b.numBits {
		return errs.Bounds("bitmap", "bit %d outside [0, %d)", i, b.numBits)
	}
	return nil
}
