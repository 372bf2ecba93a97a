package vectra

import (
	"log/slog"
	"time"
)

type options struct {
	batchSize        int
	compress         bool
	compressionLevel int

	writeThrough  bool
	cacheMaxBytes int64
	cacheTTL      time.Duration
	flushInterval time.Duration

	maxBackgroundWorkers int64
	ioLimitBytesPerSec   int64

	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Vectra constructor behavior.
type Option func(*options)

// WithBatchSize sets the shard rotation size: a shard file is finalized when
// it holds this many records. Also the default import chunk size.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithCompression enables zstd compression of shard files. level follows the
// zstd scale; 0 picks the default.
func WithCompression(level int) Option {
	return func(o *options) {
		o.compress = true
		o.compressionLevel = level
	}
}

// WithWriteThrough persists every insert before it is acknowledged, instead
// of buffering writes for the background flush. Slower inserts, no window
// for data loss on crash.
func WithWriteThrough(enabled bool) Option {
	return func(o *options) {
		o.writeThrough = enabled
	}
}

// WithCacheMaxBytes caps the memory held by resident databases. Least
// recently used databases are flushed and evicted beyond the cap. 0 means
// unbounded.
func WithCacheMaxBytes(n int64) Option {
	return func(o *options) {
		o.cacheMaxBytes = n
	}
}

// WithCacheTTL evicts databases idle for longer than ttl. 0 disables idle
// eviction.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = ttl
	}
}

// WithFlushInterval sets the cadence of the background write-back flush.
// 0 disables scheduled flushing; dirty data is still flushed on eviction and
// on Close.
func WithFlushInterval(interval time.Duration) Option {
	return func(o *options) {
		o.flushInterval = interval
	}
}

// WithMaxBackgroundWorkers bounds concurrent background jobs (flush passes,
// eviction sweeps).
func WithMaxBackgroundWorkers(n int64) Option {
	return func(o *options) {
		o.maxBackgroundWorkers = n
	}
}

// WithIOLimit throttles background disk writes to bytesPerSec. 0 means
// unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimitBytesPerSec = bytesPerSec
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vectra.BasicMetricsCollector{}
//	vt, _ := vectra.New("data", vectra.WithMetricsCollector(metrics))
//	// ... use vt ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := vectra.NewJSONLogger(slog.LevelInfo)
//	vt, _ := vectra.New("data", vectra.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		flushInterval:    5 * time.Second,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
