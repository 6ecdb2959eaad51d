package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

func mustGet(t *testing.T, b *Bitmap, i int) bool {
	t.Helper()
	v, err := b.Get(i)
	require.NoError(t, err)
	return v
}

func TestOneByteMap(t *testing.T) {
	b := New(make([]byte, 1))
	assert.False(t, mustGet(t, b, 0))
	assert.False(t, mustGet(t, b, 7))

	require.NoError(t, b.Set(0, true))
	require.NoError(t, b.Set(1, true))
	require.NoError(t, b.Set(7, true))

	assert.True(t, mustGet(t, b, 0))
	assert.True(t, mustGet(t, b, 1))
	assert.False(t, mustGet(t, b, 2))
	assert.True(t, mustGet(t, b, 7))

	require.NoError(t, b.Set(1, false))
	assert.False(t, mustGet(t, b, 1))
}

func TestBitOrderIsMostSignificantFirst(t *testing.T) {
	buf := []byte{0x00, 0x05}
	b := New(buf)

	expected := map[int]bool{0: false, 7: false, 8: false, 13: true, 14: false, 15: true}
	for i, want := range expected {
		assert.Equal(t, want, mustGet(t, b, i), "bit %d", i)
	}

	require.NoError(t, b.Set(0, true))
	assert.Equal(t, byte(0x80), buf[0])
}

func TestSetOnlyTouchesOneBit(t *testing.T) {
	for i := 0; i < 24; i++ {
		b := New(make([]byte, 3))
		require.NoError(t, b.Set(i, true))
		for j := 0; j < 24; j++ {
			assert.Equal(t, i == j, mustGet(t, b, j), "set %d, probe %d", i, j)
		}
	}
}

func TestFirstZero(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{"empty", []byte{0x00, 0x00}, 0},
		{"sparse", []byte{0x84, 0x01}, 1},
		{"skip full byte", []byte{0xFF, 0x80}, 9},
		{"last bit", []byte{0xFF, 0xFE}, 15},
		{"all ones", []byte{0xFF, 0xFF}, NoZero},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, New(tc.buf).FirstZero())
		})
	}
}

func TestNewWithSizeLimitsBits(t *testing.T) {
	buf := []byte{0xFF, 0xFF}
	b, err := NewWithSize(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Size())
	assert.Equal(t, NoZero, b.FirstZero())

	_, err = b.Get(10)
	assert.True(t, errs.IsBounds(err))

	b.Clear()
	assert.Equal(t, byte(0), buf[0])
	// bits beyond the addressable prefix are left alone
	assert.Equal(t, byte(0x3F), buf[1])
	assert.Equal(t, 0, b.Count())

	_, err = NewWithSize(buf, 17)
	assert.True(t, errs.IsBounds(err))
}

func TestClearZeroesEverything(t *testing.T) {
	b := New([]byte{0x06, 0xFF})
	assert.True(t, mustGet(t, b, 5))
	b.Clear()
	for i := 0; i < b.Size(); i++ {
		assert.False(t, mustGet(t, b, i))
	}
}

func TestOutOfRange(t *testing.T) {
	b := New(make([]byte, 2))
	assert.Equal(t, 16, b.Size())

	_, err := b.Get(16)
	assert.ErrorIs(t, err, errs.ErrBounds)
	assert.ErrorIs(t, b.Set(16, true), errs.ErrBounds)
	assert.ErrorIs(t, b.Set(-1, true), errs.ErrBounds)
}

func TestNextSetAndCount(t *testing.T) {
	b := New([]byte{0x00, 0x41, 0x80})
	assert.Equal(t, 9, b.NextSet(0))
	assert.Equal(t, 15, b.NextSet(10))
	assert.Equal(t, 16, b.NextSet(16))
	assert.Equal(t, NoZero, b.NextSet(17))
	assert.Equal(t, 3, b.Count())
}

func TestString(t *testing.T) {
	b := New([]byte{0xA0})
	assert.Equal(t, "10100000 ", b.String())

	long := New(make([]byte, 20))
	assert.Contains(t, long.String(), "...")
}
