package heap

import (
	"time"

	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/stats"
	"github.com/KevoDB/heapdb/pkg/storage/bitmap"
)

// Cursor walks the live records of a store in (block, slot) order. It is
// forward-only and cannot be restarted. A cursor reads blocks into its own
// buffer, so store lookups may run while it is open; inserts and deletes
// made during iteration may or may not be observed.
type Cursor struct {
	s      *Store
	buf    []byte
	recMap *bitmap.Bitmap

	block  int
	loaded bool
	slot   int

	rec  *record.Record
	err  error
	done bool
}

// Cursor returns a cursor positioned before the first record
func (s *Store) Cursor() *Cursor {
	c := &Cursor{s: s, block: bitmapBlock, slot: -1}
	if err := s.checkOpen(); err != nil {
		c.err = err
		return c
	}
	c.buf = make([]byte, s.layout.BlockSize)
	// the record map always fits its buffer, layout guarantees it
	c.recMap, _ = bitmap.NewWithSize(c.buf[:s.layout.RecMapSize], s.layout.RecsPerBlock)
	return c
}

// Next advances to the next live record
func (c *Cursor) Next() bool {
	for !c.done && c.err == nil {
		if !c.loaded {
			next := c.s.nextDataBlock(c.block + 1)
			if next == bitmap.NoZero {
				c.done = true
				break
			}
			if err := c.s.checkOpen(); err != nil {
				c.err = err
				break
			}
			if _, err := c.s.file.Read(next, c.buf); err != nil {
				c.err = err
				break
			}
			c.s.stats.TrackBytes(false, uint64(len(c.buf)))
			c.block, c.loaded, c.slot = next, true, -1
		}

		c.slot = c.recMap.NextSet(c.slot + 1)
		if c.slot == bitmap.NoZero {
			c.loaded = false
			continue
		}

		off := c.s.layout.slotOffset(c.slot)
		rec, err := record.Decode(c.s.schema, c.buf[off:off+c.s.layout.RecordSize])
		if err != nil {
			c.err = err
			break
		}
		c.rec = rec
		return true
	}
	c.rec = nil
	return false
}

// Record returns the current record. Each call to Next produces a new
// record the caller may keep.
func (c *Cursor) Record() *record.Record {
	return c.rec
}

// Block returns the block number of the current record
func (c *Cursor) Block() int {
	return c.block
}

// Err returns the error that stopped iteration, if any
func (c *Cursor) Err() error {
	return c.err
}

// Scan calls fn for each live record until fn returns false
func (s *Store) Scan(fn func(*record.Record) bool) error {
	start := time.Now()
	c := s.Cursor()
	for c.Next() {
		if !fn(c.Record()) {
			break
		}
	}
	s.trackTime(stats.OpScan, start)
	return c.Err()
}

// Size counts the live records by walking the whole store
func (s *Store) Size() (int, error) {
	n := 0
	err := s.Scan(func(*record.Record) bool {
		n++
		return true
	})
	return n, err
}
