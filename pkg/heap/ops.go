package heap

import (
	"context"
	"time"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/stats"
	"github.com/KevoDB/heapdb/pkg/storage/bitmap"
	"github.com/KevoDB/heapdb/pkg/telemetry"
)

// location identifies a record slot
type location struct {
	block int
	slot  int
}

// Insert adds rec to the store. It returns false, and changes nothing, if a
// record with the same key already exists.
func (s *Store) Insert(rec *record.Record) (bool, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if rec == nil || !rec.Schema().Equal(s.schema) {
		s.stats.TrackError("validation")
		return false, errs.Validation("heap.insert", "record does not match schema %s", s.schema)
	}

	_, found, err := s.locate(record.KeyIndex, rec.Key())
	if err != nil {
		return false, err
	}
	if found {
		s.trackTime(stats.OpInsert, start)
		s.metrics.RecordInsert(context.Background(), time.Since(start), false)
		return false, nil
	}

	// probe existing blocks, else allocate one and place exactly once
	blockNum, slot, err := s.findFreeSlot()
	if err != nil {
		return false, err
	}
	if blockNum < 0 {
		if blockNum, err = s.allocateBlock(); err != nil {
			s.stats.TrackError("capacity")
			return false, err
		}
		slot = 0
	}

	if err := rec.Encode(s.slotBytes(slot)); err != nil {
		return false, err
	}
	if err := s.recMap.Set(slot, true); err != nil {
		return false, err
	}
	if err := s.writeLoaded(); err != nil {
		s.recMap.Set(slot, false)
		return false, err
	}

	for i, idx := range s.indexes {
		if idx != nil {
			idx.Insert(rec.Get(i).IntValue(), int32(blockNum))
		}
	}

	s.trackTime(stats.OpInsert, start)
	s.metrics.RecordInsert(context.Background(), time.Since(start), true)
	return true, nil
}

// Delete removes the record with the given key and reports whether one was
// found.
func (s *Store) Delete(key int32) (bool, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	loc, found, err := s.locate(record.KeyIndex, key)
	if err != nil || !found {
		s.trackTime(stats.OpDelete, start)
		return false, err
	}

	// locate leaves the block loaded
	deleted, err := record.Decode(s.schema, s.slotBytes(loc.slot))
	if err != nil {
		return false, err
	}
	if err := s.recMap.Set(loc.slot, false); err != nil {
		return false, err
	}
	if err := s.writeLoaded(); err != nil {
		s.recMap.Set(loc.slot, true)
		return false, err
	}

	for i, idx := range s.indexes {
		if idx == nil {
			continue
		}
		value := deleted.Get(i).IntValue()
		still, err := s.loadedBlockHolds(i, value)
		if err != nil {
			return true, err
		}
		if !still {
			idx.Delete(value, int32(loc.block))
		}
	}

	s.trackTime(stats.OpDelete, start)
	s.metrics.RecordDelete(context.Background(), time.Since(start))
	return true, nil
}

// Lookup returns the record with the given key
func (s *Store) Lookup(key int32) (*record.Record, bool, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	loc, found, err := s.locate(record.KeyIndex, key)
	if err != nil || !found {
		s.trackTime(stats.OpLookup, start)
		s.metrics.RecordLookup(context.Background(), time.Since(start), telemetry.OpTypeLookup, false)
		return nil, false, err
	}

	rec, err := record.Decode(s.schema, s.slotBytes(loc.slot))
	if err != nil {
		return nil, false, err
	}
	s.trackTime(stats.OpLookup, start)
	s.metrics.RecordLookup(context.Background(), time.Since(start), telemetry.OpTypeLookup, true)
	return rec, true, nil
}

// LookupField returns every record whose integer field name equals value,
// in block and slot order. An index on the field narrows the search to the
// blocks it lists.
func (s *Store) LookupField(name string, value int32) ([]*record.Record, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	pos, err := s.integerField("heap.lookup", name)
	if err != nil {
		return nil, err
	}

	var out []*record.Record
	match := func(v int32) bool { return v == value }

	if idx := s.indexes[pos]; idx != nil {
		out, err = s.collectFromBlocks(idx.Lookup(value), pos, match)
	} else {
		out, err = s.collectByScan(pos, match)
	}
	if err != nil {
		return nil, err
	}

	s.trackTime(stats.OpLookupField, start)
	s.metrics.RecordLookup(context.Background(), time.Since(start), telemetry.OpTypeLookupField, len(out) > 0)
	return out, nil
}

// RangeLookup returns every record whose integer field name lies in
// [lo, hi], in block and slot order. Only an ordered index can narrow a
// range search; otherwise the whole store is scanned.
func (s *Store) RangeLookup(name string, lo, hi int32) ([]*record.Record, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	pos, err := s.integerField("heap.range", name)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return []*record.Record{}, nil
	}

	var out []*record.Record
	match := func(v int32) bool { return lo <= v && v <= hi }

	if ord, ok := s.indexes[pos].(*index.Ordered); ok {
		out, err = s.collectFromBlocks(ord.Range(lo, hi), pos, match)
	} else {
		out, err = s.collectByScan(pos, match)
	}
	if err != nil {
		return nil, err
	}

	s.trackTime(stats.OpRange, start)
	s.metrics.RecordLookup(context.Background(), time.Since(start), telemetry.OpTypeRange, len(out) > 0)
	return out, nil
}

// integerField resolves name to a field position, requiring an integer type
func (s *Store) integerField(op, name string) (int, error) {
	pos := s.schema.FieldIndex(name)
	if pos < 0 {
		s.stats.TrackError("validation")
		return -1, errs.Validation(op, "no field named %q in schema %s", name, s.schema)
	}
	if !s.schema.Column(pos).Type.IsInteger() {
		s.stats.TrackError("validation")
		return -1, errs.Validation(op, "field %q has type %s, not int", name, s.schema.Column(pos).Type)
	}
	return pos, nil
}

// fieldValue decodes the integer field pos of slot in the loaded block
func (s *Store) fieldValue(slot, pos int) (int32, error) {
	if err := s.scratch.DecodeFrom(s.slotBytes(slot)); err != nil {
		return 0, err
	}
	return s.scratch.Get(pos).IntValue(), nil
}

// locate finds the first live slot whose field pos equals value. On success
// the record's block is left loaded.
func (s *Store) locate(pos int, value int32) (location, bool, error) {
	if idx := s.indexes[pos]; idx != nil {
		for _, b := range idx.Lookup(value) {
			slot, err := s.findInBlock(int(b), pos, value)
			if err != nil {
				return location{}, false, err
			}
			if slot >= 0 {
				return location{block: int(b), slot: slot}, true, nil
			}
		}
		return location{}, false, nil
	}

	for b := s.nextDataBlock(firstDataBlock); b != bitmap.NoZero; b = s.nextDataBlock(b + 1) {
		slot, err := s.findInBlock(b, pos, value)
		if err != nil {
			return location{}, false, err
		}
		if slot >= 0 {
			return location{block: b, slot: slot}, true, nil
		}
	}
	return location{}, false, nil
}

// findInBlock loads blockNum and returns the first live slot holding value
// in field pos, or -1
func (s *Store) findInBlock(blockNum, pos int, value int32) (int, error) {
	if err := s.loadBlock(blockNum); err != nil {
		return -1, err
	}
	for slot := s.recMap.NextSet(0); slot != bitmap.NoZero; slot = s.recMap.NextSet(slot + 1) {
		v, err := s.fieldValue(slot, pos)
		if err != nil {
			return -1, err
		}
		if v == value {
			return slot, nil
		}
	}
	return -1, nil
}

// loadedBlockHolds reports whether any live record in the loaded block has
// value in field pos
func (s *Store) loadedBlockHolds(pos int, value int32) (bool, error) {
	slot, err := s.findInBlock(s.loaded, pos, value)
	return slot >= 0, err
}

// collectFromBlocks gathers matching records from the listed blocks. Blocks
// that are no longer valid are skipped.
func (s *Store) collectFromBlocks(blocks []int32, pos int, match func(int32) bool) ([]*record.Record, error) {
	out := []*record.Record{}
	for _, b := range blocks {
		if valid, err := s.blockMap.Get(int(b)); err != nil || !valid {
			continue
		}
		if err := s.loadBlock(int(b)); err != nil {
			return nil, err
		}
		for slot := s.recMap.NextSet(0); slot != bitmap.NoZero; slot = s.recMap.NextSet(slot + 1) {
			v, err := s.fieldValue(slot, pos)
			if err != nil {
				return nil, err
			}
			if match(v) {
				out = append(out, s.scratch.Clone())
			}
		}
	}
	return out, nil
}

// collectByScan gathers matching records with a cursor over the whole store
func (s *Store) collectByScan(pos int, match func(int32) bool) ([]*record.Record, error) {
	out := []*record.Record{}
	c := s.Cursor()
	for c.Next() {
		rec := c.Record()
		if match(rec.Get(pos).IntValue()) {
			out = append(out, rec)
		}
	}
	return out, c.Err()
}
