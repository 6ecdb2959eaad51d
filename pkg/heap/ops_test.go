package heap

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/common/log"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/snapshot"
	"github.com/KevoDB/heapdb/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func keysOf(recs []*record.Record) []int32 {
	out := make([]int32, len(recs))
	for i, r := range recs {
		out[i] = r.Key()
	}
	return out
}

func TestLookupField(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)
	for i := int32(0); i < 10; i++ {
		mustInsert(t, s, ints(t, schema, i, i%3, -i))
	}

	got, err := s.LookupField("b", 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 4, 7}, keysOf(got))

	got, err = s.LookupField("a", 5)
	require.NoError(t, err)
	assert.Equal(t, []int32{5}, keysOf(got))

	got, err = s.LookupField("c", 42)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.NoError(t, s.CreateOrderedIndex("b"))
	got, err = s.LookupField("b", 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 4, 7}, keysOf(got))

	// results are copies
	require.NoError(t, got[0].Set(1, record.Int(99)))
	again, err := s.LookupField("b", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), again[0].Get(1).IntValue())
}

func TestFieldValidation(t *testing.T) {
	schema, err := record.NewBuilder("id").Add("name", record.MustString(8)).Build()
	require.NoError(t, err)
	s, _ := createStore(t, schema)

	_, err = s.LookupField("missing", 1)
	assert.True(t, errs.IsValidation(err))
	_, err = s.LookupField("name", 1)
	assert.True(t, errs.IsValidation(err))
	_, err = s.RangeLookup("name", 0, 1)
	assert.True(t, errs.IsValidation(err))

	assert.True(t, errs.IsValidation(s.CreateOrderedIndex("missing")))
	assert.True(t, errs.IsValidation(s.CreateHashIndex("name")))
	assert.True(t, errs.IsValidation(s.CreateIndex("id", index.KindNone)))
	assert.True(t, errs.IsValidation(s.DeleteIndex("missing")))

	errors := s.Stats().GetStats()["errors"].(map[string]uint64)
	assert.Equal(t, uint64(5), errors["validation"])
}

func TestIndexLifecycle(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	for i := int32(0); i < 100; i++ {
		mustInsert(t, s, ints(t, schema, i, i/10, i%2))
	}

	assert.Equal(t, index.KindNone, s.IndexKind("b"))
	assert.Equal(t, 0, s.IndexSize("b"))
	assert.Equal(t, index.KindNone, s.IndexKind("nope"))

	require.NoError(t, s.CreateOrderedIndex("b"))
	assert.Equal(t, index.KindOrdered, s.IndexKind("b"))
	assert.Greater(t, s.IndexSize("b"), 0)

	// replacing an index rebuilds it
	require.NoError(t, s.CreateHashIndex("b"))
	assert.Equal(t, index.KindHash, s.IndexKind("b"))

	require.NoError(t, s.DeleteIndex("b"))
	assert.Equal(t, index.KindNone, s.IndexKind("b"))
	require.NoError(t, s.DeleteIndex("b"), "dropping a missing index is a no-op")

	got, err := s.LookupField("b", 3)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestIndexFollowsInsertAndDelete(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	require.NoError(t, s.CreateHashIndex("b"))

	mustInsert(t, s, ints(t, schema, 1, 7, 0))
	mustInsert(t, s, ints(t, schema, 2, 7, 0))
	assert.Equal(t, 1, s.IndexSize("b"), "one (value, block) pair for two records")

	_, err := s.Delete(1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.IndexSize("b"), "block still holds value 7")

	got, err := s.LookupField("b", 7)
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, keysOf(got))

	_, err = s.Delete(2)
	require.NoError(t, err)
	assert.Equal(t, 0, s.IndexSize("b"))
}

// TestIndexedAndScannedLookupsAgree runs the same random workload against
// an indexed and an unindexed store and compares every answer
func TestIndexedAndScannedLookupsAgree(t *testing.T) {
	for _, kind := range []index.Kind{index.KindOrdered, index.KindHash} {
		t.Run(kind.String(), func(t *testing.T) {
			schema := abcSchema(t)
			plain, _ := createStore(t, schema, WithBlockSize(512))
			indexed, _ := createStore(t, schema, WithBlockSize(512))
			for _, name := range []string{"a", "b", "c"} {
				require.NoError(t, indexed.CreateIndex(name, kind))
			}

			rng := rand.New(rand.NewSource(int64(kind) + 1))
			check := func() {
				for v := int32(-1); v <= 10; v++ {
					for _, name := range []string{"a", "b", "c"} {
						want, err := plain.LookupField(name, v)
						require.NoError(t, err)
						got, err := indexed.LookupField(name, v)
						require.NoError(t, err)
						require.Equal(t, keysOf(want), keysOf(got), "%s=%d", name, v)
					}
				}
				lo := int32(rng.Intn(10))
				hi := lo + int32(rng.Intn(5))
				want, err := plain.RangeLookup("b", lo, hi)
				require.NoError(t, err)
				got, err := indexed.RangeLookup("b", lo, hi)
				require.NoError(t, err)
				require.Equal(t, keysOf(want), keysOf(got), "b in [%d, %d]", lo, hi)
			}

			for round := 0; round < 20; round++ {
				for i := 0; i < 30; i++ {
					rec := ints(t, schema, int32(rng.Intn(300)), int32(rng.Intn(10)), int32(rng.Intn(10)))
					ok1, err := plain.Insert(rec)
					require.NoError(t, err)
					ok2, err := indexed.Insert(rec)
					require.NoError(t, err)
					require.Equal(t, ok1, ok2)
				}
				for i := 0; i < 20; i++ {
					key := int32(rng.Intn(300))
					ok1, err := plain.Delete(key)
					require.NoError(t, err)
					ok2, err := indexed.Delete(key)
					require.NoError(t, err)
					require.Equal(t, ok1, ok2)
				}
				check()
			}

			n1, n2 := mustSize(t, plain), mustSize(t, indexed)
			assert.Equal(t, n1, n2)
			assert.Greater(t, plain.dataBlocks(), 1, "workload should span blocks")
		})
	}
}

func TestRangeLookup(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	for i := int32(0); i < 100; i++ {
		mustInsert(t, s, ints(t, schema, i, 100-i, 0))
	}

	scan, err := s.RangeLookup("b", 10, 14)
	require.NoError(t, err)
	assert.Equal(t, []int32{86, 87, 88, 89, 90}, keysOf(scan))

	require.NoError(t, s.CreateOrderedIndex("b"))
	ordered, err := s.RangeLookup("b", 10, 14)
	require.NoError(t, err)
	assert.Equal(t, keysOf(scan), keysOf(ordered))

	require.NoError(t, s.CreateHashIndex("b"))
	hashed, err := s.RangeLookup("b", 10, 14)
	require.NoError(t, err)
	assert.Equal(t, keysOf(scan), keysOf(hashed))

	empty, err := s.RangeLookup("b", 14, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCursor(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))

	c := s.Cursor()
	assert.False(t, c.Next(), "empty store")
	assert.NoError(t, c.Err())
	assert.False(t, c.Next(), "exhausted cursor stays exhausted")

	rpb := s.Layout().RecsPerBlock
	for i := 0; i < 2*rpb+5; i++ {
		mustInsert(t, s, ints(t, schema, int32(i), 0, 0))
	}
	for i := 0; i < rpb; i++ {
		_, err := s.Delete(int32(rpb + i))
		require.NoError(t, err)
	}

	c = s.Cursor()
	var keys []int32
	var blocks []int
	for c.Next() {
		keys = append(keys, c.Record().Key())
		blocks = append(blocks, c.Block())

		// lookups between steps do not disturb the cursor
		_, found, err := s.Lookup(c.Record().Key())
		require.NoError(t, err)
		require.True(t, found)
	}
	require.NoError(t, c.Err())
	assert.Nil(t, c.Record())

	require.Len(t, keys, rpb+5)
	for i := 0; i < rpb; i++ {
		assert.Equal(t, int32(i), keys[i])
		assert.Equal(t, 2, blocks[i])
	}
	assert.Equal(t, int32(2*rpb), keys[rpb])
	assert.Equal(t, 4, blocks[rpb], "empty block 3 is skipped")
}

func TestScanStopsEarly(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)
	for i := int32(0); i < 10; i++ {
		mustInsert(t, s, ints(t, schema, i, 0, 0))
	}

	seen := 0
	require.NoError(t, s.Scan(func(*record.Record) bool {
		seen++
		return seen < 3
	}))
	assert.Equal(t, 3, seen)
}

func TestDiagnostic(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	for i := int32(1); i <= 20; i++ {
		mustInsert(t, s, ints(t, schema, i, i+1, i+2))
	}
	_, err := s.Delete(3)
	require.NoError(t, err)

	out, err := s.Diagnostic()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "Block bitmap:  111"), lines[0])
	assert.Equal(t, "Block 2", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "Record bitmap: 11011111"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "(1, 2, 3) (2, 3, 4) (4, 5, 6)"), lines[3])
	assert.Len(t, strings.Split(lines[3], ") ("), recordsPerLine)
	assert.Equal(t, "(18, 19, 20) (19, 20, 21) (20, 21, 22)", lines[4])

	listing := s.String()
	assert.Equal(t, 19, strings.Count(listing, "\n"))
	assert.True(t, strings.HasPrefix(listing, "(1, 2, 3)\n(2, 3, 4)\n(4, 5, 6)\n"))
}

func TestBackupRestore(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	for i := int32(0); i < 200; i++ {
		mustInsert(t, s, ints(t, schema, i, i%5, i*2))
	}

	for _, codec := range []snapshot.Codec{snapshot.CodecNone, snapshot.CodecZstd, snapshot.CodecSnappy} {
		t.Run(codec.String(), func(t *testing.T) {
			var buf bytes.Buffer
			n, err := s.Backup(&buf, codec)
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), n)

			path := filepath.Join(t.TempDir(), "restored.db")
			restored, err := Restore(&buf, path, WithLogger(log.Discard()))
			require.NoError(t, err)
			defer restored.Close()

			assert.Equal(t, s.Layout(), restored.Layout())
			assert.Equal(t, 200, mustSize(t, restored))
			got, err := restored.LookupField("b", 2)
			require.NoError(t, err)
			want, err := s.LookupField("b", 2)
			require.NoError(t, err)
			assert.Equal(t, keysOf(want), keysOf(got))
		})
	}

	assert.Equal(t, uint64(3), s.Stats().GetStats()["backup_ops"])
}

// recordingTelemetry counts every counter increment by metric name
type recordingTelemetry struct {
	telemetry.NoopTelemetry
	mu       sync.Mutex
	counters map[string]int64
	observed map[string]int
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{counters: map[string]int64{}, observed: map[string]int{}}
}

func (r *recordingTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}

func (r *recordingTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[name]++
}

func TestStoreTelemetry(t *testing.T) {
	tel := newRecordingTelemetry()
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithTelemetry(tel))

	mustInsert(t, s, ints(t, schema, 1, 2, 3))
	_, err := s.Insert(ints(t, schema, 1, 2, 3))
	require.NoError(t, err)
	_, _, err = s.Lookup(1)
	require.NoError(t, err)
	_, err = s.Delete(1)
	require.NoError(t, err)
	require.NoError(t, s.CreateHashIndex("b"))

	assert.Equal(t, int64(4), tel.counters["heapdb.store.operations.total"])
	assert.Equal(t, int64(1), tel.counters["heapdb.store.block.allocations"])
	assert.Equal(t, 2, tel.observed["heapdb.store.insert.duration"])
	assert.Equal(t, 1, tel.observed["heapdb.store.lookup.duration"])
	assert.Equal(t, 1, tel.observed["heapdb.store.delete.duration"])
	assert.Equal(t, 1, tel.observed["heapdb.index.build.duration"])
}
