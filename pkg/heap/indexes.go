package heap

import (
	"context"
	"time"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/stats"
)

// CreateOrderedIndex builds an ordered index on the integer field name
func (s *Store) CreateOrderedIndex(name string) error {
	return s.CreateIndex(name, index.KindOrdered)
}

// CreateHashIndex builds a hash index on the integer field name
func (s *Store) CreateHashIndex(name string) error {
	return s.CreateIndex(name, index.KindHash)
}

// CreateIndex builds an index of the given kind on the integer field name
// from a full scan, replacing any index already on that field. The field's
// previous index stays in place if the scan fails.
func (s *Store) CreateIndex(name string, kind index.Kind) error {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return err
	}
	pos, err := s.integerField("heap.index", name)
	if err != nil {
		return err
	}
	idx, err := index.New(kind)
	if err != nil {
		return errs.Wrap(errs.ErrValidation, "heap.index", err)
	}

	c := s.Cursor()
	for c.Next() {
		idx.Insert(c.Record().Get(pos).IntValue(), int32(c.Block()))
	}
	if err := c.Err(); err != nil {
		s.logger.Error("building %s index on %q failed: %v", kind, name, err)
		return err
	}

	s.indexes[pos] = idx
	s.trackTime(stats.OpIndexBuild, start)
	s.metrics.RecordIndexBuild(context.Background(), time.Since(start), kind.String(), idx.Size())
	s.logger.WithField("field", name).Info("built %s index with %d entries", kind, idx.Size())
	return nil
}

// DeleteIndex discards the index on field name, if any
func (s *Store) DeleteIndex(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	pos := s.schema.FieldIndex(name)
	if pos < 0 {
		return errs.Validation("heap.index", "no field named %q in schema %s", name, s.schema)
	}
	if s.indexes[pos] == nil {
		return nil
	}

	s.indexes[pos] = nil
	s.stats.TrackOperation(stats.OpIndexDrop)
	s.logger.WithField("field", name).Info("dropped index")
	return nil
}

// IndexKind reports the kind of index on field name
func (s *Store) IndexKind(name string) index.Kind {
	pos := s.schema.FieldIndex(name)
	if pos < 0 || s.indexes[pos] == nil {
		return index.KindNone
	}
	return s.indexes[pos].Kind()
}

// IndexSize returns the number of (value, block) pairs in the index on
// field name, or 0 if there is none
func (s *Store) IndexSize(name string) int {
	pos := s.schema.FieldIndex(name)
	if pos < 0 || s.indexes[pos] == nil {
		return 0
	}
	return s.indexes[pos].Size()
}
