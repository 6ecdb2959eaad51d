// ABOUTME: Heap store telemetry metrics interface and implementation for tracking store operations
// ABOUTME: Provides instrumentation for insert/delete/lookup, block allocation, index builds, and backups

package heap

import (
	"context"
	"time"

	"github.com/KevoDB/heapdb/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// StoreMetrics defines the interface for heap store telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type StoreMetrics interface {
	telemetry.ComponentMetrics

	// RecordInsert records an insert; inserted is false for a duplicate key.
	RecordInsert(ctx context.Context, duration time.Duration, inserted bool)

	// RecordDelete records a delete that removed a record.
	RecordDelete(ctx context.Context, duration time.Duration)

	// RecordLookup records a key, field, or range lookup.
	RecordLookup(ctx context.Context, duration time.Duration, opType string, found bool)

	// RecordBlockAllocation records a newly allocated data block.
	RecordBlockAllocation(blockNum int)

	// RecordIndexBuild records a full-scan index build.
	RecordIndexBuild(ctx context.Context, duration time.Duration, kind string, entries int)

	// RecordBackup records a snapshot written from the store.
	RecordBackup(ctx context.Context, duration time.Duration, codec string, bytes int64)
}

// storeMetrics implements StoreMetrics using the telemetry interface.
type storeMetrics struct {
	tel telemetry.Telemetry
}

// NewStoreMetrics creates a new store metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewStoreMetrics(tel telemetry.Telemetry) StoreMetrics {
	if tel == nil {
		return &noopStoreMetrics{}
	}
	return &storeMetrics{tel: tel}
}

// RecordInsert records insert duration and outcome.
func (m *storeMetrics) RecordInsert(ctx context.Context, duration time.Duration, inserted bool) {
	m.tel.RecordHistogram(ctx, "heapdb.store.insert.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeInsert),
	)

	status := telemetry.StatusSuccess
	if !inserted {
		status = telemetry.StatusExists
	}
	m.tel.RecordCounter(ctx, "heapdb.store.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeInsert),
		attribute.String(telemetry.AttrStatus, status),
	)
}

// RecordDelete records delete duration.
func (m *storeMetrics) RecordDelete(ctx context.Context, duration time.Duration) {
	m.tel.RecordHistogram(ctx, "heapdb.store.delete.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeDelete),
	)

	m.tel.RecordCounter(ctx, "heapdb.store.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeDelete),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

// RecordLookup records lookup duration and whether anything matched.
func (m *storeMetrics) RecordLookup(ctx context.Context, duration time.Duration, opType string, found bool) {
	m.tel.RecordHistogram(ctx, "heapdb.store.lookup.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	m.tel.RecordCounter(ctx, "heapdb.store.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, getStatusFromFound(found)),
	)
}

// RecordBlockAllocation counts data block allocations.
func (m *storeMetrics) RecordBlockAllocation(blockNum int) {
	m.tel.RecordCounter(context.Background(), "heapdb.store.block.allocations", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeAlloc),
	)
}

// RecordIndexBuild records index build duration and resulting size.
func (m *storeMetrics) RecordIndexBuild(ctx context.Context, duration time.Duration, kind string, entries int) {
	m.tel.RecordHistogram(ctx, "heapdb.index.build.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIndex),
		attribute.String(telemetry.AttrIndexKind, kind),
	)

	m.tel.RecordCounter(ctx, "heapdb.index.build.entries", int64(entries),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIndex),
		attribute.String(telemetry.AttrIndexKind, kind),
	)
}

// RecordBackup records backup duration and bytes written.
func (m *storeMetrics) RecordBackup(ctx context.Context, duration time.Duration, codec string, bytes int64) {
	m.tel.RecordHistogram(ctx, "heapdb.snapshot.backup.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrCodec, codec),
	)

	telemetry.RecordBytes(ctx, m.tel, "heapdb.snapshot.backup.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrCodec, codec),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *storeMetrics) Close() error {
	return nil
}

// noopStoreMetrics provides a no-operation implementation for disabled telemetry.
type noopStoreMetrics struct{}

func (n *noopStoreMetrics) RecordInsert(ctx context.Context, duration time.Duration, inserted bool) {}

func (n *noopStoreMetrics) RecordDelete(ctx context.Context, duration time.Duration) {}

func (n *noopStoreMetrics) RecordLookup(ctx context.Context, duration time.Duration, opType string, found bool) {
}

func (n *noopStoreMetrics) RecordBlockAllocation(blockNum int) {}

func (n *noopStoreMetrics) RecordIndexBuild(ctx context.Context, duration time.Duration, kind string, entries int) {
}

func (n *noopStoreMetrics) RecordBackup(ctx context.Context, duration time.Duration, codec string, bytes int64) {
}

// Close is a no-op.
func (n *noopStoreMetrics) Close() error {
	return nil
}

// getStatusFromFound converts found boolean to status string.
func getStatusFromFound(found bool) string {
	if found {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusNotFound
}
