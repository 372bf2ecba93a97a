package importer

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/shard"
)

func newSource(t *testing.T, schema string, inserts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, stmt := range inserts {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func newTestStore(t *testing.T, optFns ...func(o *shard.Options)) *shard.Store {
	t.Helper()
	s, err := shard.New(t.TempDir(), optFns...)
	require.NoError(t, err)
	return s
}

func TestImportThreeRowsBatchTwo(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL, y REAL, z REAL, source TEXT)`,
		`INSERT INTO vectors VALUES (1.0, 2.0, 3.0, 's1')`,
		`INSERT INTO vectors VALUES (4.0, 5.0, 6.0, 's2')`,
		`INSERT INTO vectors VALUES (7.0, 8.0, 9.0, 's3')`,
	)

	store := newTestStore(t)
	p := New(store, nil, func(o *Options) { o.BatchSize = 2 })

	summary, err := p.Run(context.Background(), "test", Request{
		Source:        source,
		Table:         "vectors",
		VectorColumns: []string{"x", "y", "z"},
		MetaColumns:   map[string]string{"source": "source"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 2, summary.Shards)

	db, err := store.Load("test")
	require.NoError(t, err)
	require.Equal(t, 3, db.Count())
	assert.Equal(t, 3, db.Dimension)
	assert.Equal(t, []float32{1, 2, 3}, db.Records[0].Values)
	assert.Equal(t, uint64(2), db.Records[2].Index)
	assert.Equal(t, metadata.String("s2"), db.Records[1].Metadata["source"])
	assert.False(t, db.Records[0].CreatedAt.IsZero())
}

func TestImportPerRequestBatchSize(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL)`,
		`INSERT INTO vectors VALUES (1.0)`,
		`INSERT INTO vectors VALUES (2.0)`,
		`INSERT INTO vectors VALUES (3.0)`,
		`INSERT INTO vectors VALUES (4.0)`,
	)

	store := newTestStore(t)
	p := New(store, nil)

	// The request overrides the pipeline's configured chunk size.
	summary, err := p.Run(context.Background(), "test", Request{
		Source:        source,
		Table:         "vectors",
		VectorColumns: []string{"x"},
		BatchSize:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 2, summary.Shards)

	parts, err := store.Parts("test")
	require.NoError(t, err)
	assert.Equal(t, 2, parts)
}

func TestImportTypedMetadata(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE rows (x REAL, n INTEGER, w REAL, flag TEXT, seen TEXT, label TEXT)`,
		`INSERT INTO rows VALUES (1.5, 42, 0.5, 'true', '2024-03-14T15:09:26Z', 'alpha')`,
	)

	store := newTestStore(t)
	p := New(store, nil)

	_, err := p.Run(context.Background(), "typed", Request{
		Source:        source,
		Table:         "rows",
		VectorColumns: []string{"x"},
		MetaColumns: map[string]string{
			"n":     "n",
			"w":     "w",
			"flag":  "flag",
			"seen":  "seen",
			"label": "label",
		},
	})
	require.NoError(t, err)

	db, err := store.Load("typed")
	require.NoError(t, err)
	require.Equal(t, 1, db.Count())

	meta := db.Records[0].Metadata
	assert.Equal(t, metadata.KindInt, meta["n"].Kind)
	assert.Equal(t, int32(42), meta["n"].I32)
	assert.Equal(t, metadata.KindFloat, meta["w"].Kind)
	assert.Equal(t, metadata.KindBool, meta["flag"].Kind)
	assert.True(t, meta["flag"].B)
	assert.Equal(t, metadata.KindDateTime, meta["seen"].Kind)
	assert.Equal(t, metadata.KindString, meta["label"].Kind)
	assert.Equal(t, "alpha", meta["label"].S)
}

func TestImportBadVectorValueFailsChunk(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL, y TEXT)`,
		`INSERT INTO vectors VALUES (1.0, '2.0')`,
		`INSERT INTO vectors VALUES (2.0, '3.0')`,
		`INSERT INTO vectors VALUES (3.0, 'not-a-number')`,
	)

	store := newTestStore(t)
	p := New(store, nil, func(o *Options) { o.BatchSize = 2 })

	summary, err := p.Run(context.Background(), "test", Request{
		Source:        source,
		Table:         "vectors",
		VectorColumns: []string{"x", "y"},
	})

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "vectors", parseErr.Table)
	assert.Equal(t, "y", parseErr.Column)
	assert.Equal(t, int64(2), parseErr.Row)
	assert.Equal(t, "not-a-number", parseErr.Value)

	// The first chunk is on disk; the poisoned one is not.
	assert.Equal(t, 2, summary.Rows)
	db, err := store.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 2, db.Count())
}

func TestImportResumesAfterExisting(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL, y REAL)`,
		`INSERT INTO vectors VALUES (1.0, 2.0)`,
	)

	store := newTestStore(t)
	p := New(store, nil)

	_, err := p.Run(context.Background(), "test", Request{
		Source: source, Table: "vectors", VectorColumns: []string{"x", "y"},
	})
	require.NoError(t, err)

	// Running again continues the index sequence.
	_, err = p.Run(context.Background(), "test", Request{
		Source: source, Table: "vectors", VectorColumns: []string{"x", "y"},
	})
	require.NoError(t, err)

	db, err := store.Load("test")
	require.NoError(t, err)
	require.Equal(t, 2, db.Count())
	assert.Equal(t, uint64(0), db.Records[0].Index)
	assert.Equal(t, uint64(1), db.Records[1].Index)
}

func TestImportDimensionMismatch(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL)`,
		`INSERT INTO vectors VALUES (1.0)`,
	)

	store := newTestStore(t)
	require.NoError(t, store.Create("test", 3))

	p := New(store, nil)
	_, err := p.Run(context.Background(), "test", Request{
		Source: source, Table: "vectors", VectorColumns: []string{"x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestImportRejectsBadIdentifiers(t *testing.T) {
	store := newTestStore(t)
	p := New(store, nil)

	_, err := p.Run(context.Background(), "test", Request{
		Source:        "ignored.db",
		Table:         "vectors; DROP TABLE users",
		VectorColumns: []string{"x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identifier")
}

func TestImportNullMetadataSkipped(t *testing.T) {
	source := newSource(t,
		`CREATE TABLE vectors (x REAL, tag TEXT)`,
		`INSERT INTO vectors VALUES (1.0, NULL)`,
	)

	store := newTestStore(t)
	p := New(store, nil)

	_, err := p.Run(context.Background(), "test", Request{
		Source:        source,
		Table:         "vectors",
		VectorColumns: []string{"x"},
		MetaColumns:   map[string]string{"tag": "tag"},
	})
	require.NoError(t, err)

	db, err := store.Load("test")
	require.NoError(t, err)
	_, ok := db.Records[0].Metadata["tag"]
	assert.False(t, ok)
}

func TestImportNoVectorColumns(t *testing.T) {
	store := newTestStore(t)
	p := New(store, nil)

	_, err := p.Run(context.Background(), "test", Request{Source: "x.db", Table: "t"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, shard.ErrNotFound))
}
