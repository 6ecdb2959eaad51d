// Package heap implements a single-file heap store of fixed-size records.
//
// The file is a sequence of equal-sized blocks:
//
//	block 0   metadata: [int32 store type][int32 format version][schema]
//	block 1   block-validity bitmap, one bit per block index
//	block 2+  data blocks: [record-validity bitmap][record slots...]
//
// Data blocks are allocated lazily. Records are unordered; each store may
// carry one in-memory index per integer field to narrow lookups to the
// blocks that can hold a match. Indexes are not persisted.
//
// A Store is not safe for concurrent use.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/common/log"
	"github.com/KevoDB/heapdb/pkg/config"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/stats"
	"github.com/KevoDB/heapdb/pkg/storage/bitmap"
	"github.com/KevoDB/heapdb/pkg/storage/blockfile"
	"github.com/KevoDB/heapdb/pkg/telemetry"
)

const (
	// StoreType is the type tag written at the start of the metadata block
	StoreType = 0
	// FormatVersion is the on-disk format version
	FormatVersion = 1

	metadataBlock  = 0
	bitmapBlock    = 1
	firstDataBlock = 2

	typeOffset    = 0
	versionOffset = 4
	schemaOffset  = 8
)

var (
	// ErrUnsupported is returned by Modify
	ErrUnsupported = errors.New("operation not supported")
	// ErrClosed is returned when operations are performed on a closed store
	ErrClosed = errors.New("store is closed")
)

// Layout describes how records are packed into data blocks
type Layout struct {
	BlockSize    int
	RecordSize   int
	RecMapSize   int
	RecsPerBlock int
	// MaxBlocks is the number of block indexes the block bitmap can address
	MaxBlocks int
}

// computeLayout fits as many records into a block as possible alongside
// one validity bit per record
func computeLayout(blockSize, recSize int) (Layout, error) {
	rpb := ((blockSize - 1) * 8) / (recSize*8 + 1)
	if rpb < 1 {
		return Layout{}, errs.Validation("heap.layout",
			"record of %d bytes does not fit in a %d byte block", recSize, blockSize)
	}
	return Layout{
		BlockSize:    blockSize,
		RecordSize:   recSize,
		RecMapSize:   (rpb + 7) / 8,
		RecsPerBlock: rpb,
		MaxBlocks:    blockSize * 8,
	}, nil
}

// slotOffset returns the byte offset of slot within a data block
func (l Layout) slotOffset(slot int) int {
	return l.RecMapSize + slot*l.RecordSize
}

func (l Layout) String() string {
	return fmt.Sprintf("block=%d record=%d recmap=%d records/block=%d max blocks=%d",
		l.BlockSize, l.RecordSize, l.RecMapSize, l.RecsPerBlock, l.MaxBlocks)
}

// Store is an open heap file
type Store struct {
	file   *blockfile.File
	schema *record.Schema
	layout Layout

	// indexes[i] is the index on field i, or nil
	indexes []index.Index

	// block bitmap, kept in memory and written through
	blockMapBuf []byte
	blockMap    *bitmap.Bitmap

	// scratch data block and its record bitmap view
	blockBuf []byte
	recMap   *bitmap.Bitmap
	loaded   int

	// scratch record used when only a field value is needed
	scratch *record.Record

	logger  log.Logger
	stats   stats.Collector
	metrics StoreMetrics
	cfg     *config.Config
}

// Option configures a Store
type Option func(*options)

type options struct {
	blockSize int
	logger    log.Logger
	stats     stats.Collector
	telemetry telemetry.Telemetry
	cfg       *config.Config
}

// WithBlockSize sets the block size. Open must use the size the store was
// created with.
func WithBlockSize(size int) Option {
	return func(o *options) { o.blockSize = size }
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStats sets the statistics collector
func WithStats(collector stats.Collector) Option {
	return func(o *options) { o.stats = collector }
}

// WithTelemetry enables OpenTelemetry metrics
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = tel }
}

// WithConfig takes the block size from cfg and, on Open, builds an index of
// cfg.DefaultIndex on every field in cfg.IndexedFields
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
		cfg.View(func(c *config.Config) { o.blockSize = c.BlockSize })
	}
}

func buildOptions(opts []Option) options {
	o := options{blockSize: blockfile.DefaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.stats == nil {
		o.stats = stats.NewAtomicCollector()
	}
	return o
}

func newStore(file *blockfile.File, schema *record.Schema, o options) (*Store, error) {
	layout, err := computeLayout(o.blockSize, schema.RecordLen())
	if err != nil {
		return nil, err
	}

	s := &Store{
		file:        file,
		schema:      schema,
		layout:      layout,
		indexes:     make([]index.Index, schema.NumFields()),
		blockMapBuf: make([]byte, o.blockSize),
		blockBuf:    make([]byte, o.blockSize),
		loaded:      -1,
		scratch:     schema.Blank(),
		logger:      o.logger.WithField("store", file.Path()),
		stats:       o.stats,
		metrics:     NewStoreMetrics(o.telemetry),
		cfg:         o.cfg,
	}
	s.blockMap = bitmap.New(s.blockMapBuf)
	s.recMap, err = bitmap.NewWithSize(s.blockBuf[:layout.RecMapSize], layout.RecsPerBlock)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create creates a new, empty store at path. It fails if path exists.
func Create(path string, schema *record.Schema, opts ...Option) (*Store, error) {
	if schema == nil {
		return nil, errs.Validation("heap.create", "schema is required")
	}
	o := buildOptions(opts)

	if schemaOffset+schema.EncodedLen() > o.blockSize {
		return nil, errs.Validation("heap.create",
			"schema of %d bytes does not fit in a %d byte block", schema.EncodedLen(), o.blockSize)
	}
	if _, err := computeLayout(o.blockSize, schema.RecordLen()); err != nil {
		return nil, err
	}

	file, err := blockfile.Create(path, o.blockSize)
	if err != nil {
		return nil, err
	}

	s, err := newStore(file, schema, o)
	if err != nil {
		file.Close()
		return nil, err
	}

	meta := make([]byte, o.blockSize)
	binary.BigEndian.PutUint32(meta[typeOffset:], StoreType)
	binary.BigEndian.PutUint32(meta[versionOffset:], FormatVersion)
	if err := schema.Encode(meta[schemaOffset:]); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.writeRaw(metadataBlock, meta); err != nil {
		file.Close()
		return nil, err
	}

	s.blockMap.Clear()
	s.blockMap.Set(metadataBlock, true)
	s.blockMap.Set(bitmapBlock, true)
	if err := s.writeBlockMap(); err != nil {
		file.Close()
		return nil, err
	}

	s.logger.Info("created store with schema %s (%s)", schema.Describe(), s.layout)
	return s, nil
}

// Open opens an existing store, reading its schema from the metadata block
func Open(path string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	file, err := blockfile.Open(path, o.blockSize)
	if err != nil {
		return nil, err
	}
	if file.LastBlockIndex() < bitmapBlock {
		file.Close()
		return nil, errs.Storage("heap.open", "%s has %d blocks, need at least 2", path, file.LastBlockIndex()+1)
	}

	meta := make([]byte, o.blockSize)
	if _, err := file.Read(metadataBlock, meta); err != nil {
		file.Close()
		return nil, err
	}

	storeType := int32(binary.BigEndian.Uint32(meta[typeOffset:]))
	version := int32(binary.BigEndian.Uint32(meta[versionOffset:]))
	if storeType != StoreType {
		file.Close()
		return nil, errs.Storage("heap.open", "unexpected store type %d", storeType)
	}
	if version != FormatVersion {
		file.Close()
		return nil, errs.Storage("heap.open", "unsupported format version %d", version)
	}

	schema, err := record.DecodeSchema(meta[schemaOffset:])
	if err != nil {
		file.Close()
		return nil, errs.Wrap(errs.ErrStorage, "heap.open", err)
	}

	s, err := newStore(file, schema, o)
	if err != nil {
		file.Close()
		return nil, errs.Wrap(errs.ErrStorage, "heap.open", err)
	}

	if _, err := file.Read(bitmapBlock, s.blockMapBuf); err != nil {
		file.Close()
		return nil, err
	}
	s.stats.TrackBytes(false, uint64(2*o.blockSize))

	if err := s.rebuildConfiguredIndexes(); err != nil {
		file.Close()
		return nil, err
	}

	s.logger.Info("opened store with schema %s, %d data blocks", schema.Describe(), s.dataBlocks())
	return s, nil
}

// rebuildConfiguredIndexes builds the indexes named by the configuration
func (s *Store) rebuildConfiguredIndexes() error {
	if s.cfg == nil {
		return nil
	}

	var kindName string
	var fields []string
	s.cfg.View(func(c *config.Config) {
		kindName = c.DefaultIndex
		fields = append(fields, c.IndexedFields...)
	})
	kind, err := index.ParseKind(kindName)
	if err != nil || kind == index.KindNone || len(fields) == 0 {
		return nil
	}

	start := s.stats.StartRebuild()
	built := 0
	for _, name := range fields {
		err := s.CreateIndex(name, kind)
		if errs.IsValidation(err) {
			s.logger.Warn("skipping configured index on %q: %v", name, err)
			continue
		}
		if err != nil {
			return err
		}
		built++
	}
	size, err := s.Size()
	if err != nil {
		return err
	}
	s.stats.FinishRebuild(start, uint64(built), uint64(size*built))
	return nil
}

// Close flushes and closes the underlying file. Indexes are discarded.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	s.indexes = make([]index.Index, len(s.indexes))
	s.metrics.Close()
	s.logger.Info("closed store")
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Schema returns the store's schema
func (s *Store) Schema() *record.Schema {
	return s.schema
}

// Layout returns the block layout derived from the schema and block size
func (s *Store) Layout() Layout {
	return s.layout
}

// Path returns the path of the backing file
func (s *Store) Path() string {
	if s.file == nil {
		return ""
	}
	return s.file.Path()
}

// Stats returns the store's statistics collector
func (s *Store) Stats() stats.Collector {
	return s.stats
}

// Modify is not supported; delete the record and insert its replacement.
func (s *Store) Modify(rec *record.Record) (bool, error) {
	return false, ErrUnsupported
}

func (s *Store) checkOpen() error {
	if s.file == nil {
		return ErrClosed
	}
	return nil
}

// dataBlocks counts the valid data blocks
func (s *Store) dataBlocks() int {
	return s.blockMap.Count() - firstDataBlock
}

// nextDataBlock returns the first valid data block at or after from, or -1
func (s *Store) nextDataBlock(from int) int {
	if from < firstDataBlock {
		from = firstDataBlock
	}
	return s.blockMap.NextSet(from)
}

// loadBlock reads a data block into the scratch buffer
func (s *Store) loadBlock(blockNum int) error {
	if s.loaded == blockNum {
		return nil
	}
	s.loaded = -1
	if _, err := s.file.Read(blockNum, s.blockBuf); err != nil {
		return err
	}
	s.stats.TrackBytes(false, uint64(len(s.blockBuf)))
	s.loaded = blockNum
	return nil
}

// writeLoaded persists the scratch block
func (s *Store) writeLoaded() error {
	return s.writeRaw(s.loaded, s.blockBuf)
}

func (s *Store) writeBlockMap() error {
	return s.writeRaw(bitmapBlock, s.blockMapBuf)
}

func (s *Store) writeRaw(blockNum int, buf []byte) error {
	if err := s.file.Write(blockNum, buf); err != nil {
		return err
	}
	s.stats.TrackBytes(true, uint64(len(buf)))
	return nil
}

// allocateBlock claims the lowest unused block, initializes it as an empty
// data block and leaves it loaded
func (s *Store) allocateBlock() (int, error) {
	blockNum := s.blockMap.FirstZero()
	if blockNum == bitmap.NoZero {
		s.logger.Error("block address space exhausted at %d blocks", s.layout.MaxBlocks)
		return -1, errs.Capacity("heap.insert", "all %d blocks are in use", s.layout.MaxBlocks)
	}

	s.loaded = -1
	for i := range s.blockBuf {
		s.blockBuf[i] = 0
	}
	s.loaded = blockNum
	if err := s.writeLoaded(); err != nil {
		s.loaded = -1
		return -1, err
	}

	if err := s.blockMap.Set(blockNum, true); err != nil {
		return -1, err
	}
	if err := s.writeBlockMap(); err != nil {
		s.blockMap.Set(blockNum, false)
		return -1, err
	}

	s.stats.TrackBlockAllocation(int32(blockNum))
	s.metrics.RecordBlockAllocation(blockNum)
	s.logger.Debug("allocated data block %d", blockNum)
	return blockNum, nil
}

// findFreeSlot returns the first data block with a free slot, loaded, or -1
func (s *Store) findFreeSlot() (int, int, error) {
	for b := s.nextDataBlock(firstDataBlock); b != bitmap.NoZero; b = s.nextDataBlock(b + 1) {
		if err := s.loadBlock(b); err != nil {
			return -1, -1, err
		}
		if slot := s.recMap.FirstZero(); slot != bitmap.NoZero {
			return b, slot, nil
		}
	}
	return -1, -1, nil
}

// slotBytes returns the bytes of slot in the loaded block
func (s *Store) slotBytes(slot int) []byte {
	off := s.layout.slotOffset(slot)
	return s.blockBuf[off : off+s.layout.RecordSize]
}

// trackTime records an operation's latency in the collector
func (s *Store) trackTime(op stats.OperationType, start time.Time) {
	s.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
}
