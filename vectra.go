// Package vectra provides a local, embeddable vector store with exact
// nearest-neighbor search.
//
// Vectra persists fixed-dimension float32 vectors with typed metadata in
// append-only shard files and answers top-k queries under several distance
// metrics. A write-back cache keeps hot databases resident between calls:
//
//   - Databases are created explicitly with a fixed dimension
//   - Inserts are visible to queries immediately (read-your-writes) and
//     flushed to disk in the background, or synchronously with
//     WithWriteThrough
//   - Queries are exact brute-force scans, parallelized across CPU cores
//   - Bulk data is imported from SQLite tables in shard-aligned chunks
//
// # Quick Start
//
//	ctx := context.Background()
//	vt, err := vectra.New("data")
//	if err != nil {
//	    panic(err)
//	}
//	defer vt.Close(ctx)
//
//	_ = vt.Create(ctx, "articles", 3)
//	_, _ = vt.Insert(ctx, "articles", []float32{1, 2, 3}, metadata.Metadata{
//	    "source": metadata.String("s1"),
//	})
//
//	results, _ := vt.Find(ctx, "articles", []float32{1.1, 1.9, 3.2}, 10, "eu")
//	for _, r := range results {
//	    fmt.Println(r.Index, r.Distance)
//	}
//
// Metric codes: "eu" (Euclidean), "l1" (Manhattan), "cs" (cosine distance),
// "cd" (Chebyshev), "md" (Minkowski p=3), "hd" (Hamming). All metrics score
// smaller = closer.
package vectra

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vectra/cache"
	"github.com/hupe1980/vectra/importer"
	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/model"
	"github.com/hupe1980/vectra/resource"
	"github.com/hupe1980/vectra/shard"
)

// Vectra is the vector store: a shard-file directory fronted by a write-back
// cache. Safe for concurrent use.
type Vectra struct {
	store    *shard.Store
	cache    *cache.Registry
	pipeline *importer.Pipeline
	ctrl     *resource.Controller

	metrics MetricsCollector
	logger  *Logger

	closed atomic.Bool
}

// New opens (or initializes) the vector store rooted at dir.
func New(dir string, optFns ...Option) (*Vectra, error) {
	opts := applyOptions(optFns)

	ctrl := resource.NewController(resource.Config{
		MemoryLimitBytes:     opts.cacheMaxBytes,
		MaxBackgroundWorkers: opts.maxBackgroundWorkers,
		IOLimitBytesPerSec:   opts.ioLimitBytesPerSec,
	})

	store, err := shard.New(dir, func(o *shard.Options) {
		if opts.batchSize > 0 {
			o.BatchSize = opts.batchSize
		}
		o.Compress = opts.compress
		if opts.compressionLevel > 0 {
			o.CompressionLevel = opts.compressionLevel
		}
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	vt := &Vectra{
		store:   store,
		ctrl:    ctrl,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}

	vt.cache = cache.NewRegistry(store, ctrl, func(o *cache.Options) {
		o.WriteThrough = opts.writeThrough
		o.TTL = opts.cacheTTL
		o.FlushInterval = opts.flushInterval
		o.MaxBytes = opts.cacheMaxBytes
		o.Logger = opts.logger.Logger
		o.OnFlush = func(name string, records int, bytes int64, elapsed time.Duration) {
			vt.metrics.RecordFlush(records, bytes, elapsed)
			vt.logger.LogFlush(context.Background(), name, records, bytes, nil)
		}
		o.OnEvict = func(name, reason string) {
			vt.metrics.RecordEviction(reason)
			vt.logger.LogEvict(context.Background(), name, reason)
		}
	})

	vt.pipeline = importer.New(store, ctrl, func(o *importer.Options) {
		o.BatchSize = store.BatchSize()
		o.Logger = opts.logger.Logger
	})

	return vt, nil
}

// Create initializes an empty database with the given dimension.
func (vt *Vectra) Create(ctx context.Context, name string, dimension int) error {
	if vt.closed.Load() {
		return ErrClosed
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension: %d", dimension)
	}

	err := translateError(vt.store.Create(name, dimension))
	vt.logger.LogCreate(ctx, name, dimension, err)
	return err
}

// Insert appends a vector with optional metadata to the database and returns
// the record count after the insert. The record's index is assigned in
// insertion order and its creation time is stamped here.
func (vt *Vectra) Insert(ctx context.Context, name string, values []float32, meta metadata.Metadata) (int, error) {
	start := time.Now()

	var total int
	var index uint64
	err := vt.cache.Mutate(ctx, name, func(db *model.Database) ([]model.Record, error) {
		if len(values) != db.Dimension {
			return nil, &ErrDimensionMismatch{Expected: db.Dimension, Actual: len(values)}
		}
		index = db.NextIndex()
		total = db.Count() + 1
		return []model.Record{{
			Index:     index,
			Values:    values,
			Metadata:  metadata.CloneIfNeeded(meta),
			CreatedAt: time.Now().UTC(),
		}}, nil
	})

	err = translateError(err)
	vt.metrics.RecordInsert(time.Since(start), err)
	vt.logger.LogInsert(ctx, name, index, total, err)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Info describes one database.
type Info struct {
	Name      string
	Dimension int
	Count     int

	// Schema maps each metadata key to the value kinds observed for it.
	Schema map[string][]string
}

// Info returns the database's dimension, record count and observed metadata
// schema.
func (vt *Vectra) Info(ctx context.Context, name string) (Info, error) {
	var info Info
	err := vt.cache.Read(ctx, name, func(db *model.Database) error {
		info = Info{
			Name:      db.Name,
			Dimension: db.Dimension,
			Count:     db.Count(),
			Schema:    db.Schema.Strings(),
		}
		return nil
	})
	return info, translateError(err)
}

// ImportRequest describes a bulk import from a SQLite source.
type ImportRequest = importer.Request

// ImportSummary reports what an import run committed.
type ImportSummary = importer.Summary

// Import bulk-loads rows from a SQLite table into the database, creating it
// if missing. Rows are committed in shard-aligned chunks; on error the
// committed chunks stay on disk and the summary reports how far the run got.
func (vt *Vectra) Import(ctx context.Context, name string, req ImportRequest) (ImportSummary, error) {
	start := time.Now()

	if vt.closed.Load() {
		return ImportSummary{}, ErrClosed
	}

	// The import writes shards directly, so buffered inserts must reach
	// disk first and the stale resident copy must go afterwards.
	if err := vt.cache.Flush(ctx, name); err != nil {
		return ImportSummary{}, translateError(err)
	}

	summary, err := vt.pipeline.Run(ctx, name, req)

	if ierr := vt.cache.Invalidate(ctx, name); ierr != nil && err == nil {
		err = ierr
	}

	err = translateError(err)
	vt.metrics.RecordImport(summary.Rows, summary.Shards, time.Since(start), err)
	vt.logger.LogImport(ctx, name, summary.Rows, summary.Shards, time.Since(start), err)
	return summary, err
}

// Flush writes back all buffered inserts across databases.
func (vt *Vectra) Flush(ctx context.Context) error {
	return translateError(vt.cache.FlushAll(ctx))
}

// CacheStats returns a snapshot of cache activity.
func (vt *Vectra) CacheStats() cache.Stats {
	return vt.cache.Stats()
}

// Close flushes all buffered inserts and releases resources. The instance is
// unusable afterwards.
func (vt *Vectra) Close(ctx context.Context) error {
	if vt.closed.Swap(true) {
		return nil
	}
	return vt.cache.Close(ctx)
}
