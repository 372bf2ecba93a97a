package vectra

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter prometheus.Counter
//	    findHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordInsert(duration time.Duration, err error) {
//	    p.insertCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordFind is called after each query.
	// k is the number of neighbors requested, duration is the time taken,
	// err is nil if successful.
	RecordFind(k int, duration time.Duration, err error)

	// RecordFlush is called after each successful write-back flush.
	RecordFlush(records int, bytes int64, duration time.Duration)

	// RecordEviction is called after a cache eviction. Reason is one of
	// "ttl", "memory" or "invalidate".
	RecordEviction(reason string)

	// RecordImport is called after each import run. rows covers committed
	// chunks only; err is nil if the whole run succeeded.
	RecordImport(rows, shards int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)           {}
func (NoopMetricsCollector) RecordFind(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordFlush(int, int64, time.Duration)       {}
func (NoopMetricsCollector) RecordEviction(string)                       {}
func (NoopMetricsCollector) RecordImport(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	FindCount        atomic.Int64
	FindErrors       atomic.Int64
	FindTotalNanos   atomic.Int64
	FlushCount       atomic.Int64
	FlushRecords     atomic.Int64
	FlushBytes       atomic.Int64
	EvictionCount    atomic.Int64
	ImportCount      atomic.Int64
	ImportRows       atomic.Int64
	ImportErrors     atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(k int, duration time.Duration, err error) {
	b.FindCount.Add(1)
	b.FindTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FindErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(records int, bytes int64, duration time.Duration) {
	b.FlushCount.Add(1)
	b.FlushRecords.Add(int64(records))
	b.FlushBytes.Add(bytes)
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(string) {
	b.EvictionCount.Add(1)
}

// RecordImport implements MetricsCollector.
func (b *BasicMetricsCollector) RecordImport(rows, shards int, duration time.Duration, err error) {
	b.ImportCount.Add(1)
	b.ImportRows.Add(int64(rows))
	if err != nil {
		b.ImportErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: avgNanos(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		FindCount:      b.FindCount.Load(),
		FindErrors:     b.FindErrors.Load(),
		FindAvgNanos:   avgNanos(b.FindTotalNanos.Load(), b.FindCount.Load()),
		FlushCount:     b.FlushCount.Load(),
		FlushRecords:   b.FlushRecords.Load(),
		FlushBytes:     b.FlushBytes.Load(),
		EvictionCount:  b.EvictionCount.Load(),
		ImportCount:    b.ImportCount.Load(),
		ImportRows:     b.ImportRows.Load(),
		ImportErrors:   b.ImportErrors.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	FindCount      int64
	FindErrors     int64
	FindAvgNanos   int64
	FlushCount     int64
	FlushRecords   int64
	FlushBytes     int64
	EvictionCount  int64
	ImportCount    int64
	ImportRows     int64
	ImportErrors   int64
}
