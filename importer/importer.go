// Package importer bulk-loads vector records from a SQLite source into the
// shard store. It bypasses the cache and writes shards directly, committing
// rows in bounded chunks so every chunk lands on a shard boundary.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/model"
	"github.com/hupe1980/vectra/resource"
	"github.com/hupe1980/vectra/shard"
)

// ParseError reports a source value that could not be converted, with enough
// context to fix the row and re-run.
type ParseError struct {
	Table  string
	Column string
	Row    int64 // zero-based row offset in the source read order
	Value  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s.%s at row %d: %q", e.Table, e.Column, e.Row, e.Value)
}

// Request describes one import run.
type Request struct {
	// Source is the path of the SQLite database file.
	Source string

	// Table is the source table, read in rowid order.
	Table string

	// VectorColumns are the columns forming the vector, in order. The
	// target dimension is the column count.
	VectorColumns []string

	// MetaColumns maps metadata keys to source columns. Conversion follows
	// the column's declared type: integer columns become Integer values,
	// real columns Float; text falls back through Bool, DateTime and
	// String.
	MetaColumns map[string]string

	// BatchSize overrides the pipeline's configured chunk size for this run.
	// 0 keeps the configured default.
	BatchSize int
}

// Summary reports what an import run committed. On error, Rows and Shards
// cover the chunks that made it to disk before the failure.
type Summary struct {
	Rows   int
	Shards int
}

// Options configures a Pipeline.
type Options struct {
	// BatchSize is the number of rows per committed chunk. Defaults to the
	// shard store's batch size, so each chunk fills exactly one shard.
	BatchSize int

	// Logger receives per-chunk progress.
	Logger *slog.Logger
}

// Pipeline imports tabular rows into a shard store.
type Pipeline struct {
	store *shard.Store
	ctrl  *resource.Controller
	opts  Options
}

// New creates a Pipeline over store. The controller may be nil; when set it
// paces the disk writes.
func New(store *shard.Store, ctrl *resource.Controller, optFns ...func(o *Options)) *Pipeline {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.BatchSize()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Pipeline{store: store, ctrl: ctrl, opts: opts}
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identRE.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %q", name)
	}
	return `"` + name + `"`, nil
}

// Run imports req into the database name. A missing database is created with
// dimension len(req.VectorColumns); an existing one must match it. A bad row
// aborts its whole chunk and the run, leaving previously committed chunks on
// disk so the import can be resumed after correction.
func (p *Pipeline) Run(ctx context.Context, name string, req Request) (Summary, error) {
	if len(req.VectorColumns) == 0 {
		return Summary{}, errors.New("no vector columns given")
	}
	dimension := len(req.VectorColumns)

	query, metaKeys, err := buildQuery(req)
	if err != nil {
		return Summary{}, err
	}

	// Counted before prepareTarget so the part created for a fresh database
	// is included in the shard tally.
	partsBefore, err := p.store.Parts(name)
	if err != nil {
		return Summary{}, err
	}

	nextIndex, err := p.prepareTarget(name, dimension)
	if err != nil {
		return Summary{}, err
	}

	db, err := sql.Open("sqlite", req.Source)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open source: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read source table: %w", err)
	}
	defer rows.Close()

	metaKinds, err := declaredKinds(rows, dimension, metaKeys)
	if err != nil {
		return Summary{}, err
	}

	batchSize := p.opts.BatchSize
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	var (
		summary Summary
		chunk   = make([]model.Record, 0, batchSize)
		rowNum  int64
		scan    = make([]any, dimension+len(metaKeys))
		now     = time.Now().UTC()
	)
	for i := range scan {
		scan[i] = new(any)
	}

	commit := func() error {
		if len(chunk) == 0 {
			return nil
		}
		written, err := p.store.Append(name, chunk)
		if err != nil {
			return err
		}
		if err := p.store.Rotate(name); err != nil {
			return err
		}
		if err := p.ctrl.AcquireIO(ctx, int(written)); err != nil {
			return err
		}
		summary.Rows += len(chunk)
		p.opts.Logger.Debug("committed import chunk",
			"database", name,
			"rows", len(chunk),
			"bytes", written,
		)
		chunk = chunk[:0]
		return nil
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return p.finish(name, partsBefore, summary, err)
		}
		if err := rows.Scan(scan...); err != nil {
			return p.finish(name, partsBefore, summary, fmt.Errorf("failed to scan row %d: %w", rowNum, err))
		}

		rec, err := p.buildRecord(req, metaKeys, metaKinds, scan, rowNum, now)
		if err != nil {
			// The bad row poisons its whole chunk; nothing from it is
			// committed.
			return p.finish(name, partsBefore, summary, err)
		}
		rec.Index = nextIndex
		nextIndex++
		rowNum++

		chunk = append(chunk, rec)
		if len(chunk) >= batchSize {
			if err := commit(); err != nil {
				return p.finish(name, partsBefore, summary, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return p.finish(name, partsBefore, summary, fmt.Errorf("failed to read source table: %w", err))
	}

	if err := commit(); err != nil {
		return p.finish(name, partsBefore, summary, err)
	}
	return p.finish(name, partsBefore, summary, nil)
}

// finish fills in the shard count and returns the run outcome.
func (p *Pipeline) finish(name string, partsBefore int, summary Summary, runErr error) (Summary, error) {
	if partsAfter, err := p.store.Parts(name); err == nil && partsAfter > partsBefore {
		summary.Shards = partsAfter - partsBefore
	}
	return summary, runErr
}

// prepareTarget creates the database if missing and returns the next free
// record index.
func (p *Pipeline) prepareTarget(name string, dimension int) (uint64, error) {
	exists, err := p.store.Exists(name)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := p.store.Create(name, dimension); err != nil {
			return 0, err
		}
		return 0, nil
	}

	db, err := p.store.Load(name)
	if err != nil {
		return 0, err
	}
	if db.Dimension != dimension {
		return 0, fmt.Errorf("database %q has dimension %d, import provides %d",
			name, db.Dimension, dimension)
	}
	return db.NextIndex(), nil
}

func buildQuery(req Request) (string, []string, error) {
	table, err := quoteIdent(req.Table)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, 0, len(req.VectorColumns)+len(req.MetaColumns))
	for _, c := range req.VectorColumns {
		q, err := quoteIdent(c)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, q)
	}

	// Stable key order so scan slots line up with declaredKinds.
	metaKeys := make([]string, 0, len(req.MetaColumns))
	for k := range req.MetaColumns {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		q, err := quoteIdent(req.MetaColumns[k])
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, q)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(cols, ", "), table)
	return query, metaKeys, nil
}

// declaredKinds maps each metadata key to a target kind from the source
// column's declared type. KindInvalid marks text columns, which fall back
// through Bool, DateTime and String per value.
func declaredKinds(rows *sql.Rows, dimension int, metaKeys []string) (map[string]metadata.Kind, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	if len(types) != dimension+len(metaKeys) {
		return nil, fmt.Errorf("source returned %d columns, expected %d", len(types), dimension+len(metaKeys))
	}

	kinds := make(map[string]metadata.Kind, len(metaKeys))
	for i, key := range metaKeys {
		decl := strings.ToUpper(types[dimension+i].DatabaseTypeName())
		switch {
		case strings.Contains(decl, "INT"):
			kinds[key] = metadata.KindInt
		case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"), strings.Contains(decl, "NUMERIC"):
			kinds[key] = metadata.KindFloat
		default:
			kinds[key] = metadata.KindInvalid
		}
	}
	return kinds, nil
}

func (p *Pipeline) buildRecord(req Request, metaKeys []string, metaKinds map[string]metadata.Kind, scan []any, rowNum int64, now time.Time) (model.Record, error) {
	dimension := len(req.VectorColumns)

	values := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		raw := *(scan[i].(*any))
		f, ok := metadata.CoerceFloat(raw)
		if !ok {
			return model.Record{}, &ParseError{
				Table:  req.Table,
				Column: req.VectorColumns[i],
				Row:    rowNum,
				Value:  rawString(raw),
			}
		}
		values[i] = f
	}

	meta := make(metadata.Metadata, len(metaKeys))
	for i, key := range metaKeys {
		raw := *(scan[dimension+i].(*any))
		if raw == nil {
			continue
		}
		v, err := convertMeta(req, key, metaKinds[key], raw, rowNum)
		if err != nil {
			return model.Record{}, err
		}
		meta[key] = v
	}

	return model.Record{
		Values:    values,
		Metadata:  meta,
		CreatedAt: now,
	}, nil
}

func convertMeta(req Request, key string, kind metadata.Kind, raw any, rowNum int64) (metadata.Value, error) {
	parseErr := func() error {
		return &ParseError{
			Table:  req.Table,
			Column: req.MetaColumns[key],
			Row:    rowNum,
			Value:  rawString(raw),
		}
	}

	switch kind {
	case metadata.KindInt:
		switch v := raw.(type) {
		case int64:
			return metadata.Int(int32(v)), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return metadata.Value{}, parseErr()
			}
			return metadata.Int(int32(n)), nil
		default:
			return metadata.Value{}, parseErr()
		}

	case metadata.KindFloat:
		f, ok := metadata.CoerceFloat(raw)
		if !ok {
			return metadata.Value{}, parseErr()
		}
		return metadata.Float(f), nil

	default:
		// Declared-text column: bool tokens, then RFC3339, then string.
		s := rawString(raw)
		if b, ok := metadata.ParseBoolToken(s); ok {
			return metadata.Bool(b), nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return metadata.DateTime(t), nil
		}
		return metadata.String(s), nil
	}
}

func rawString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
