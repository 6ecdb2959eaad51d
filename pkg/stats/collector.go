package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Heap store operation types
const (
	OpInsert      OperationType = "insert"
	OpDelete      OperationType = "delete"
	OpLookup      OperationType = "lookup"
	OpLookupField OperationType = "lookup_field"
	OpRange       OperationType = "range"
	OpScan        OperationType = "scan"
	OpIndexBuild  OperationType = "index_build"
	OpIndexDrop   OperationType = "index_drop"
	OpAlloc       OperationType = "alloc"
	OpBackup      OperationType = "backup"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // only for creating new counters

	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // only for creating new error counters

	blockAllocations atomic.Uint64
	highestBlock     atomic.Int64

	rebuildStats RebuildStats

	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // only for creating new trackers
}

// RebuildStats tracks the index rebuild performed when a store is opened
type RebuildStats struct {
	IndexesBuilt    atomic.Uint64
	RecordsScanned  atomic.Uint64
	RebuildDuration atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // nanoseconds
	max   atomic.Uint64
	min   atomic.Uint64 // zero until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	c := &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
	c.highestBlock.Store(-1)
	return c
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	for {
		current := tracker.max.Load()
		if latencyNs <= current || tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackBlockAllocation counts an allocated data block and remembers the highest
func (c *AtomicCollector) TrackBlockAllocation(blockNum int32) {
	c.blockAllocations.Add(1)
	c.TrackOperation(OpAlloc)

	for {
		current := c.highestBlock.Load()
		if int64(blockNum) <= current || c.highestBlock.CompareAndSwap(current, int64(blockNum)) {
			break
		}
	}
}

// StartRebuild resets rebuild statistics and returns the start time
func (c *AtomicCollector) StartRebuild() time.Time {
	c.rebuildStats.IndexesBuilt.Store(0)
	c.rebuildStats.RecordsScanned.Store(0)
	c.rebuildStats.RebuildDuration.Store(0)
	return time.Now()
}

// FinishRebuild completes rebuild statistics
func (c *AtomicCollector) FinishRebuild(startTime time.Time, indexesBuilt, recordsScanned uint64) {
	c.rebuildStats.IndexesBuilt.Store(indexesBuilt)
	c.rebuildStats.RecordsScanned.Store(recordsScanned)
	c.rebuildStats.RebuildDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["block_allocations"] = c.blockAllocations.Load()
	if highest := c.highestBlock.Load(); highest >= 0 {
		stats["highest_block"] = highest
	}

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	rebuild := map[string]interface{}{
		"indexes_built":   c.rebuildStats.IndexesBuilt.Load(),
		"records_scanned": c.rebuildStats.RecordsScanned.Load(),
	}
	if d := c.rebuildStats.RebuildDuration.Load(); d > 0 {
		rebuild["rebuild_duration_ms"] = d / int64(time.Millisecond)
	}
	stats["rebuild"] = rebuild

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics whose key starts with prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
