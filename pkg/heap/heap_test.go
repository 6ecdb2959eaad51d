package heap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/common/log"
	"github.com/KevoDB/heapdb/pkg/config"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abcSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewBuilder("a").Add("b", record.Integer).Add("c", record.Integer).Build()
	require.NoError(t, err)
	return s
}

func ints(t *testing.T, schema *record.Schema, values ...int32) *record.Record {
	t.Helper()
	r, err := record.Ints(schema, values...)
	require.NoError(t, err)
	return r
}

func createStore(t *testing.T, schema *record.Schema, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Create(path, schema, append([]Option{WithLogger(log.Discard())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func mustInsert(t *testing.T, s *Store, rec *record.Record) {
	t.Helper()
	ok, err := s.Insert(rec)
	require.NoError(t, err)
	require.True(t, ok, "insert %s", rec)
}

func mustSize(t *testing.T, s *Store) int {
	t.Helper()
	n, err := s.Size()
	require.NoError(t, err)
	return n
}

func TestComputeLayout(t *testing.T) {
	l, err := computeLayout(4096, 12)
	require.NoError(t, err)
	assert.Equal(t, 337, l.RecsPerBlock)
	assert.Equal(t, 43, l.RecMapSize)
	assert.Equal(t, 32768, l.MaxBlocks)
	assert.LessOrEqual(t, l.RecMapSize+l.RecsPerBlock*l.RecordSize, l.BlockSize)

	l, err = computeLayout(512, 12)
	require.NoError(t, err)
	assert.Equal(t, 42, l.RecsPerBlock)
	assert.Equal(t, 6, l.RecMapSize)
	assert.Equal(t, 6+42*12, l.slotOffset(42))

	_, err = computeLayout(64, 64)
	assert.True(t, errs.IsValidation(err))
}

func TestInsertLookupDelete(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)

	for i := int32(1); i <= 4; i++ {
		mustInsert(t, s, ints(t, schema, i, i+1, i+2))
	}
	assert.Equal(t, 4, mustSize(t, s))

	rec, found, err := s.Lookup(2)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.Equal(ints(t, schema, 2, 3, 4)))

	_, found, err = s.Lookup(0)
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err := s.Delete(2)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 3, mustSize(t, s))

	_, found, err = s.Lookup(2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertDuplicateKey(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)

	mustInsert(t, s, ints(t, schema, 1, 2, 3))
	ok, err := s.Insert(ints(t, schema, 1, 9, 9))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, _, err := s.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rec.Get(1).IntValue(), "duplicate must not overwrite")
	assert.Equal(t, 1, mustSize(t, s))
}

func TestDeleteAbsentKey(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)

	ok, err := s.Delete(7)
	require.NoError(t, err)
	assert.False(t, ok)

	mustInsert(t, s, ints(t, schema, 7, 0, 0))
	ok, err = s.Delete(7)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFreedSlotIsReused(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)

	for i := int32(0); i < 3; i++ {
		mustInsert(t, s, ints(t, schema, i, 0, 0))
	}
	_, err := s.Delete(1)
	require.NoError(t, err)
	mustInsert(t, s, ints(t, schema, 10, 0, 0))

	var keys []int32
	require.NoError(t, s.Scan(func(r *record.Record) bool {
		keys = append(keys, r.Key())
		return true
	}))
	assert.Equal(t, []int32{0, 10, 2}, keys)
}

func TestBlocksAllocatedOnDemand(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema, WithBlockSize(512))
	rpb := s.Layout().RecsPerBlock

	assert.Equal(t, 2, s.blockMap.Count(), "new store has only metadata and bitmap blocks")

	for i := 0; i < rpb; i++ {
		mustInsert(t, s, ints(t, schema, int32(i), 0, 0))
	}
	assert.Equal(t, 1, s.dataBlocks())

	mustInsert(t, s, ints(t, schema, int32(rpb), 0, 0))
	assert.Equal(t, 2, s.dataBlocks())
	for _, b := range []int{0, 1, 2, 3} {
		set, err := s.blockMap.Get(b)
		require.NoError(t, err)
		assert.True(t, set, "block %d", b)
	}
	assert.Equal(t, rpb+1, mustSize(t, s))
	assert.Equal(t, int64(3), s.file.LastBlockIndex())

	collected := s.Stats().GetStats()
	assert.Equal(t, uint64(2), collected["block_allocations"])
	assert.Equal(t, int64(3), collected["highest_block"])
}

func TestInsertFailsWhenBlocksExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("fills every block of a small store")
	}
	schema, err := record.NewBuilder("k").Build()
	require.NoError(t, err)
	s, _ := createStore(t, schema, WithBlockSize(48))
	require.NoError(t, s.CreateHashIndex("k"))

	l := s.Layout()
	capacity := (l.MaxBlocks - firstDataBlock) * l.RecsPerBlock
	for i := 0; i < capacity; i++ {
		mustInsert(t, s, ints(t, schema, int32(i)))
	}

	ok, err := s.Insert(ints(t, schema, int32(capacity)))
	assert.False(t, ok)
	assert.True(t, errs.IsCapacity(err), "got %v", err)
	assert.Equal(t, capacity, mustSize(t, s))

	// deleting frees a slot again
	_, err = s.Delete(0)
	require.NoError(t, err)
	mustInsert(t, s, ints(t, schema, int32(capacity)))
}

func TestAllocateBlockExhausted(t *testing.T) {
	s, _ := createStore(t, abcSchema(t), WithBlockSize(512))
	for i := 0; i < s.layout.MaxBlocks; i++ {
		require.NoError(t, s.blockMap.Set(i, true))
	}
	_, err := s.allocateBlock()
	assert.True(t, errs.IsCapacity(err))
}

func TestCreateRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := Create(filepath.Join(dir, "nil.db"), nil)
	assert.True(t, errs.IsValidation(err))

	wide := record.NewBuilder("id")
	for i := 0; i < 20; i++ {
		wide.Add(string(rune('a'+i)), record.Integer)
	}
	schema, err := wide.Build()
	require.NoError(t, err)
	_, err = Create(filepath.Join(dir, "wide.db"), schema, WithBlockSize(128))
	assert.True(t, errs.IsValidation(err), "schema must fit the metadata block")

	s, path := createStore(t, abcSchema(t))
	require.NoError(t, s.Close())
	_, err = Create(path, abcSchema(t), WithLogger(log.Discard()))
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestReopenPreservesRecords(t *testing.T) {
	schema, err := record.NewBuilder("id").
		Add("name", record.MustString(10)).
		Add("age", record.Integer).
		Build()
	require.NoError(t, err)
	s, path := createStore(t, schema, WithBlockSize(512))

	var want []*record.Record
	for i := int32(0); i < 100; i++ {
		name, err := record.Str("n"+string(rune('a'+i%26)), record.MustString(10))
		require.NoError(t, err)
		rec, err := record.New(schema, record.Int(i), name, record.Int(i%7))
		require.NoError(t, err)
		mustInsert(t, s, rec)
		want = append(want, rec)
	}
	_, err = s.Delete(50)
	require.NoError(t, err)
	want = append(want[:50], want[51:]...)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	reopened, err := Open(path, WithBlockSize(512), WithLogger(log.Discard()))
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Schema().Equal(schema))
	assert.Equal(t, s.Layout(), reopened.Layout())

	var got []*record.Record
	require.NoError(t, reopened.Scan(func(r *record.Record) bool {
		got = append(got, r)
		return true
	}))
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "record %d: want %s, got %s", i, want[i], got[i])
	}

	_, found, err := reopened.Lookup(50)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.db"))
	assert.True(t, errs.IsStorage(err))

	short := filepath.Join(dir, "short.db")
	require.NoError(t, os.WriteFile(short, make([]byte, 4096), 0644))
	_, err = Open(short)
	assert.True(t, errs.IsStorage(err), "one block is too few")

	ragged := filepath.Join(dir, "ragged.db")
	require.NoError(t, os.WriteFile(ragged, make([]byte, 5000), 0644))
	_, err = Open(ragged)
	assert.True(t, errs.IsStorage(err))

	corrupt := func(offset int, value uint32) string {
		s, path := createStore(t, abcSchema(t))
		require.NoError(t, s.Close())
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		require.NoError(t, err)
		defer f.Close()
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, value)
		_, err = f.WriteAt(buf, int64(offset))
		require.NoError(t, err)
		return path
	}

	_, err = Open(corrupt(typeOffset, 7), WithLogger(log.Discard()))
	assert.True(t, errs.IsStorage(err), "bad store type")

	_, err = Open(corrupt(versionOffset, 2), WithLogger(log.Discard()))
	assert.True(t, errs.IsStorage(err), "bad format version")

	_, err = Open(corrupt(schemaOffset, 0), WithLogger(log.Discard()))
	assert.True(t, errs.IsStorage(err), "empty schema")
}

func TestOpenWithWrongBlockSize(t *testing.T) {
	s, path := createStore(t, abcSchema(t), WithBlockSize(512))
	require.NoError(t, s.Close())

	// 2 blocks of 512 bytes are not a multiple of 4096
	_, err := Open(path, WithLogger(log.Discard()))
	assert.True(t, errs.IsStorage(err))
}

func TestClosedStore(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)
	require.NoError(t, s.Close())

	_, err := s.Insert(ints(t, schema, 1, 2, 3))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Delete(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = s.Lookup(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.LookupField("b", 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.CreateOrderedIndex("b"), ErrClosed)
	assert.ErrorIs(t, s.Cursor().Err(), ErrClosed)
	_, err = s.Size()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Diagnostic()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, s.Path())
}

func TestModifyUnsupported(t *testing.T) {
	schema := abcSchema(t)
	s, _ := createStore(t, schema)
	mustInsert(t, s, ints(t, schema, 1, 2, 3))

	ok, err := s.Modify(ints(t, schema, 1, 5, 5))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestInsertRejectsForeignRecord(t *testing.T) {
	s, _ := createStore(t, abcSchema(t))

	other, err := record.NewBuilder("a").Add("b", record.MustString(4)).Add("c", record.Integer).Build()
	require.NoError(t, err)
	rec, err := record.New(other, record.Int(1), must(record.Str("x", record.MustString(4))), record.Int(2))
	require.NoError(t, err)

	_, err = s.Insert(rec)
	assert.True(t, errs.IsValidation(err))
	_, err = s.Insert(nil)
	assert.True(t, errs.IsValidation(err))

	// an equal schema built separately is accepted
	mustInsert(t, s, ints(t, abcSchema(t), 1, 2, 3))
}

func must(f record.Field, err error) record.Field {
	if err != nil {
		panic(err)
	}
	return f
}

func TestOpenBuildsConfiguredIndexes(t *testing.T) {
	schema := abcSchema(t)
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = 512
	cfg.DefaultIndex = "hash"
	cfg.IndexedFields = []string{"b", "nope", "c"}

	s, path := createStore(t, schema, WithConfig(cfg))
	for i := int32(0); i < 10; i++ {
		mustInsert(t, s, ints(t, schema, i, i%3, i))
	}
	require.NoError(t, s.Close())

	collector := stats.NewAtomicCollector()
	reopened, err := Open(path, WithConfig(cfg), WithStats(collector), WithLogger(log.Discard()))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, index.KindHash, reopened.IndexKind("b"))
	assert.Equal(t, index.KindHash, reopened.IndexKind("c"))
	assert.Equal(t, index.KindNone, reopened.IndexKind("a"))
	// ten records in one block
	assert.Equal(t, 3, reopened.IndexSize("b"))
	assert.Equal(t, 10, reopened.IndexSize("c"))

	rebuild := collector.GetStats()["rebuild"].(map[string]interface{})
	assert.Equal(t, uint64(2), rebuild["indexes_built"])
	assert.Equal(t, uint64(20), rebuild["records_scanned"])
}
