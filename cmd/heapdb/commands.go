package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/KevoDB/heapdb/pkg/common/log"
	"github.com/KevoDB/heapdb/pkg/config"
	"github.com/KevoDB/heapdb/pkg/heap"
	"github.com/KevoDB/heapdb/pkg/index"
	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/snapshot"
	"github.com/KevoDB/heapdb/pkg/telemetry"
)

// defaultScanLimit bounds how many records SCAN prints without an argument
const defaultScanLimit = 100

var errNoStore = errors.New("no store open")

// shell holds the state of an interactive session
type shell struct {
	cfg    *config.Config
	tel    telemetry.Telemetry
	logger log.Logger
	out    io.Writer

	store *heap.Store
}

func newShell(cfg *config.Config, tel telemetry.Telemetry, logger log.Logger, out io.Writer) *shell {
	return &shell{cfg: cfg, tel: tel, logger: logger, out: out}
}

func (sh *shell) options(extra ...heap.Option) []heap.Option {
	opts := []heap.Option{
		heap.WithConfig(sh.cfg),
		heap.WithLogger(sh.logger),
		heap.WithTelemetry(sh.tel),
	}
	return append(opts, extra...)
}

// prompt reflects the open store
func (sh *shell) prompt() string {
	if sh.store != nil {
		return fmt.Sprintf("heapdb:%s> ", sh.store.Path())
	}
	return "heapdb> "
}

func (sh *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(sh.out, format, args...)
}

// execute runs one input line and reports whether the session should end
func (sh *shell) execute(line string) bool {
	parts, err := shellquote.Split(line)
	if err != nil {
		sh.printf("Error: %s\n", err)
		return false
	}
	if len(parts) == 0 {
		return false
	}

	cmd, args := parts[0], parts[1:]
	if strings.HasPrefix(cmd, ".") {
		return sh.dotCommand(strings.ToLower(cmd), args)
	}

	if sh.store == nil {
		sh.printf("Error: %s\n", errNoStore)
		return false
	}

	start := time.Now()
	switch strings.ToUpper(cmd) {
	case "INSERT":
		err = sh.insert(args)
	case "DELETE":
		err = sh.delete(args)
	case "GET":
		err = sh.get(args)
	case "FIND":
		err = sh.find(args)
	case "RANGE":
		err = sh.rangeLookup(args)
	case "SCAN":
		err = sh.scan(args)
	case "COUNT":
		err = sh.count()
	case "INDEX":
		err = sh.createIndex(args)
	case "DROPINDEX":
		err = sh.dropIndex(args)
	case "INDEXES":
		sh.listIndexes()
	default:
		sh.printf("Unknown command: %s\n", cmd)
		return false
	}
	if err != nil {
		sh.printf("Error: %s\n", err)
		return false
	}
	sh.logger.Debug("%s took %s", strings.ToUpper(cmd), time.Since(start))
	return false
}

func (sh *shell) dotCommand(cmd string, args []string) bool {
	var err error
	switch cmd {
	case ".help":
		sh.printf("%s", helpText)
	case ".create":
		err = sh.create(args)
	case ".open":
		err = sh.open(args)
	case ".close":
		err = sh.closeStore()
	case ".exit", ".quit":
		if err := sh.closeStore(); err != nil && !errors.Is(err, errNoStore) {
			sh.printf("Error: %s\n", err)
		}
		sh.printf("Goodbye!\n")
		return true
	case ".schema":
		err = sh.schema()
	case ".stats":
		err = sh.stats()
	case ".dump":
		err = sh.dump()
	case ".backup":
		err = sh.backup(args)
	case ".restore":
		err = sh.restore(args)
	default:
		sh.printf("Unknown command: %s\n", cmd)
		return false
	}
	if err != nil {
		sh.printf("Error: %s\n", err)
	}
	return false
}

// create handles ".create PATH name:type...", the first field being the key
func (sh *shell) create(args []string) error {
	if len(args) < 2 {
		return errors.New(".create requires a path and at least one field")
	}

	columns := make([]record.Column, 0, len(args)-1)
	for _, spec := range args[1:] {
		name, typeName, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("field %q must be written name:type", spec)
		}
		t, err := record.ParseType(strings.ToLower(typeName))
		if err != nil {
			return err
		}
		columns = append(columns, record.Column{Name: name, Type: t})
	}
	schema, err := record.NewSchema(columns...)
	if err != nil {
		return err
	}

	sh.release()
	store, err := heap.Create(args[0], schema, sh.options()...)
	if err != nil {
		return err
	}
	sh.store = store
	sh.printf("Store created at %s\n", args[0])
	return nil
}

// open handles ".open PATH [BLOCKSIZE]"
func (sh *shell) open(args []string) error {
	if len(args) < 1 {
		return errors.New(".open requires a path")
	}

	var extra []heap.Option
	if len(args) > 1 {
		size, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid block size %q", args[1])
		}
		extra = append(extra, heap.WithBlockSize(size))
	}

	sh.release()
	store, err := heap.Open(args[0], sh.options(extra...)...)
	if err != nil {
		return err
	}
	sh.store = store
	sh.printf("Store opened at %s\n", args[0])
	return nil
}

// release closes the current store, if any, so its file lock is dropped
// before another store is opened
func (sh *shell) release() {
	if sh.store == nil {
		return
	}
	if err := sh.store.Close(); err != nil {
		sh.printf("Error closing %s: %s\n", sh.store.Path(), err)
	}
	sh.store = nil
}

func (sh *shell) closeStore() error {
	if sh.store == nil {
		return errNoStore
	}
	path := sh.store.Path()
	err := sh.store.Close()
	sh.store = nil
	if err != nil {
		return err
	}
	sh.printf("Store %s closed\n", path)
	return nil
}

func (sh *shell) schema() error {
	if sh.store == nil {
		return errNoStore
	}
	sh.printf("%s\n", sh.store.Schema().Describe())
	sh.printf("%s\n", sh.store.Layout())
	return nil
}

// parseRecord builds a record of the store's schema from one argument per
// field
func (sh *shell) parseRecord(args []string) (*record.Record, error) {
	schema := sh.store.Schema()
	if len(args) != schema.NumFields() {
		return nil, fmt.Errorf("INSERT needs %d values for %s, got %d", schema.NumFields(), schema, len(args))
	}
	fields := make([]record.Field, len(args))
	for i, arg := range args {
		f, err := record.ParseField(schema.Column(i).Type, arg)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return record.New(schema, fields...)
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is not a 32-bit integer", s)
	}
	return int32(v), nil
}

func (sh *shell) insert(args []string) error {
	rec, err := sh.parseRecord(args)
	if err != nil {
		return err
	}
	ok, err := sh.store.Insert(rec)
	if err != nil {
		return err
	}
	if !ok {
		sh.printf("Key %d already exists\n", rec.Key())
		return nil
	}
	sh.printf("Inserted %s\n", rec)
	return nil
}

func (sh *shell) delete(args []string) error {
	if len(args) != 1 {
		return errors.New("DELETE requires a key argument")
	}
	key, err := parseInt32(args[0])
	if err != nil {
		return err
	}
	ok, err := sh.store.Delete(key)
	if err != nil {
		return err
	}
	if !ok {
		sh.printf("Key not found\n")
		return nil
	}
	sh.printf("Key deleted\n")
	return nil
}

func (sh *shell) get(args []string) error {
	if len(args) != 1 {
		return errors.New("GET requires a key argument")
	}
	key, err := parseInt32(args[0])
	if err != nil {
		return err
	}
	rec, found, err := sh.store.Lookup(key)
	if err != nil {
		return err
	}
	if !found {
		sh.printf("Key not found\n")
		return nil
	}
	sh.printf("%s\n", rec)
	return nil
}

func (sh *shell) printRecords(recs []*record.Record) {
	for _, r := range recs {
		sh.printf("%s\n", r)
	}
	sh.printf("%d record(s)\n", len(recs))
}

func (sh *shell) find(args []string) error {
	if len(args) != 2 {
		return errors.New("FIND requires a field and a value")
	}
	value, err := parseInt32(args[1])
	if err != nil {
		return err
	}
	recs, err := sh.store.LookupField(args[0], value)
	if err != nil {
		return err
	}
	sh.printRecords(recs)
	return nil
}

func (sh *shell) rangeLookup(args []string) error {
	if len(args) != 3 {
		return errors.New("RANGE requires a field, a low and a high value")
	}
	lo, err := parseInt32(args[1])
	if err != nil {
		return err
	}
	hi, err := parseInt32(args[2])
	if err != nil {
		return err
	}
	recs, err := sh.store.RangeLookup(args[0], lo, hi)
	if err != nil {
		return err
	}
	sh.printRecords(recs)
	return nil
}

func (sh *shell) scan(args []string) error {
	limit := defaultScanLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	count := 0
	err := sh.store.Scan(func(r *record.Record) bool {
		sh.printf("%s\n", r)
		count++
		return count < limit
	})
	if err != nil {
		return err
	}
	sh.printf("%d record(s)\n", count)
	return nil
}

func (sh *shell) count() error {
	n, err := sh.store.Size()
	if err != nil {
		return err
	}
	sh.printf("%d\n", n)
	return nil
}

// createIndex handles "INDEX ORDERED|HASH field"
func (sh *shell) createIndex(args []string) error {
	if len(args) != 2 {
		return errors.New("INDEX requires a kind (ORDERED or HASH) and a field")
	}
	kind, err := index.ParseKind(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	if err := sh.store.CreateIndex(args[1], kind); err != nil {
		return err
	}
	sh.printf("Built %s index on %s (%d entries)\n", kind, args[1], sh.store.IndexSize(args[1]))
	return nil
}

func (sh *shell) dropIndex(args []string) error {
	if len(args) != 1 {
		return errors.New("DROPINDEX requires a field")
	}
	if err := sh.store.DeleteIndex(args[0]); err != nil {
		return err
	}
	sh.printf("Index on %s dropped\n", args[0])
	return nil
}

func (sh *shell) listIndexes() {
	for _, c := range sh.store.Schema().Columns() {
		if kind := sh.store.IndexKind(c.Name); kind != index.KindNone {
			sh.printf("%s: %s (%d entries)\n", c.Name, kind, sh.store.IndexSize(c.Name))
		}
	}
}

func (sh *shell) dump() error {
	if sh.store == nil {
		return errNoStore
	}
	out, err := sh.store.Diagnostic()
	if err != nil {
		return err
	}
	sh.printf("%s", out)
	return nil
}

// backup handles ".backup FILE [CODEC]"
func (sh *shell) backup(args []string) error {
	if sh.store == nil {
		return errNoStore
	}
	if len(args) < 1 {
		return errors.New(".backup requires a file")
	}

	var codecName string
	sh.cfg.View(func(c *config.Config) { codecName = c.SnapshotCodec })
	if len(args) > 1 {
		codecName = args[1]
	}
	codec, err := snapshot.ParseCodec(codecName)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	n, err := sh.store.Backup(f, codec)
	if err != nil {
		f.Close()
		os.Remove(args[0])
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	sh.printf("Wrote %d bytes (%s) to %s\n", n, codec, args[0])
	return nil
}

// restore handles ".restore FILE PATH" and opens the restored store
func (sh *shell) restore(args []string) error {
	if len(args) != 2 {
		return errors.New(".restore requires a snapshot file and a store path")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	sh.release()
	store, err := heap.Restore(f, args[1], sh.options()...)
	if err != nil {
		return err
	}
	sh.store = store
	sh.printf("Store restored to %s\n", args[1])
	return nil
}

func (sh *shell) stats() error {
	if sh.store == nil {
		return errNoStore
	}
	stats := sh.store.Stats().GetStats()

	getUint64 := func(m map[string]interface{}, key string) uint64 {
		switch v := m[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		}
		return 0
	}

	sh.printf("Operations:\n")
	for _, op := range []string{"insert", "delete", "lookup", "lookup_field", "range", "scan", "index_build", "backup"} {
		line := fmt.Sprintf("  %-13s %d", op+":", getUint64(stats, op+"_ops"))
		if latency, ok := stats[op+"_latency"].(map[string]interface{}); ok {
			line += fmt.Sprintf(" (avg %.3f ms)", float64(getUint64(latency, "avg_ns"))/1e6)
		}
		sh.printf("%s\n", line)
	}

	sh.printf("\nStorage:\n")
	sh.printf("  Bytes read:        %d\n", getUint64(stats, "total_bytes_read"))
	sh.printf("  Bytes written:     %d\n", getUint64(stats, "total_bytes_written"))
	sh.printf("  Block allocations: %d\n", getUint64(stats, "block_allocations"))
	if _, ok := stats["highest_block"]; ok {
		sh.printf("  Highest block:     %d\n", getUint64(stats, "highest_block"))
	}

	if rebuild, ok := stats["rebuild"].(map[string]interface{}); ok && getUint64(rebuild, "indexes_built") > 0 {
		sh.printf("\nIndex rebuild on open:\n")
		sh.printf("  Indexes built:   %d\n", getUint64(rebuild, "indexes_built"))
		sh.printf("  Records scanned: %d\n", getUint64(rebuild, "records_scanned"))
	}

	if errs, ok := stats["errors"].(map[string]uint64); ok && len(errs) > 0 {
		sh.printf("\nErrors:\n")
		kinds := make([]string, 0, len(errs))
		for k := range errs {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			sh.printf("  %s: %d\n", k, errs[k])
		}
	}
	return nil
}
