package shard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/model"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	s, err := New(t.TempDir(), optFns...)
	require.NoError(t, err)
	return s
}

func testRecords(n, dim int, startIndex uint64) []model.Record {
	recs := make([]model.Record, n)
	for i := range recs {
		values := make([]float32, dim)
		for j := range values {
			values[j] = float32(i*dim + j)
		}
		recs[i] = model.Record{
			Index:     startIndex + uint64(i),
			Values:    values,
			Metadata:  metadata.Metadata{"source": metadata.String("s1")},
			CreatedAt: time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC),
		}
	}
	return recs
}

func TestCreateLoadEmpty(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Create("test", 3))

	db, err := s.Load("test")
	require.NoError(t, err)
	assert.Equal(t, "test", db.Name)
	assert.Equal(t, 3, db.Dimension)
	assert.Zero(t, db.Count())
}

func TestCreateAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 3))

	err := s.Create("test", 3)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidName(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../evil", "a/b", ".hidden", "-dash"} {
		assert.ErrorIs(t, s.Create(name, 3), ErrInvalidName, "name %q", name)
	}
}

func TestAppendRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 3))

	want := testRecords(5, 3, 0)
	written, err := s.Append("test", want)
	require.NoError(t, err)
	assert.Positive(t, written)

	// Reset in-memory state to force a cold load.
	s2, err := New(s.Dir())
	require.NoError(t, err)
	db, err := s2.Load("test")
	require.NoError(t, err)
	require.Equal(t, len(want), db.Count())

	for i, rec := range db.Records {
		assert.Equal(t, want[i].Index, rec.Index)
		assert.Equal(t, want[i].Values, rec.Values)
		assert.True(t, want[i].CreatedAt.Equal(rec.CreatedAt))
		assert.True(t, want[i].Metadata["source"].Equal(rec.Metadata["source"]))
	}
	assert.Equal(t, []metadata.Kind{metadata.KindString}, db.Schema.Kinds("source"))
}

func TestAppendRotatesAtBatchSize(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.BatchSize = 2 })
	require.NoError(t, s.Create("test", 2))

	_, err := s.Append("test", testRecords(5, 2, 0))
	require.NoError(t, err)

	parts, err := s.Parts("test")
	require.NoError(t, err)
	assert.Equal(t, 3, parts) // 2 + 2 + 1

	db, err := s.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 5, db.Count())
	for i, rec := range db.Records {
		assert.Equal(t, uint64(i), rec.Index)
	}
}

func TestRotateForcesShardBoundary(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.BatchSize = 100 })
	require.NoError(t, s.Create("test", 2))

	_, err := s.Append("test", testRecords(2, 2, 0))
	require.NoError(t, err)
	require.NoError(t, s.Rotate("test"))
	_, err = s.Append("test", testRecords(1, 2, 2))
	require.NoError(t, err)

	parts, err := s.Parts("test")
	require.NoError(t, err)
	assert.Equal(t, 2, parts)
}

func TestPersistRewritesShards(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.BatchSize = 2 })
	require.NoError(t, s.Create("test", 2))
	_, err := s.Append("test", testRecords(5, 2, 0))
	require.NoError(t, err)

	db, err := s.Load("test")
	require.NoError(t, err)

	// Shrink to 3 records and persist; the stale third shard must go away.
	db.Records = db.Records[:3]
	_, err = s.Persist("test", db)
	require.NoError(t, err)

	parts, err := s.Parts("test")
	require.NoError(t, err)
	assert.Equal(t, 2, parts)

	reloaded, err := s.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Count())
}

func TestTruncatedTrailingRecordDiscarded(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 2))
	_, err := s.Append("test", testRecords(3, 2, 0))
	require.NoError(t, err)

	// Chop bytes off the shard to simulate a torn append.
	path := filepath.Join(s.Dir(), "test-00001.shard")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	s2, err := New(s.Dir())
	require.NoError(t, err)
	db, err := s2.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 2, db.Count(), "torn trailing record should be discarded")
}

func TestCorruptChecksumDiscarded(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 2))
	_, err := s.Append("test", testRecords(2, 2, 0))
	require.NoError(t, err)

	// Flip a byte in the last record's payload.
	path := filepath.Join(s.Dir(), "test-00001.shard")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0640))

	s2, err := New(s.Dir())
	require.NoError(t, err)
	db, err := s2.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 1, db.Count())
}

func TestCompressedRoundTrip(t *testing.T) {
	s := newTestStore(t, func(o *Options) {
		o.Compress = true
		o.BatchSize = 4
	})
	require.NoError(t, s.Create("test", 3))

	// Two appends produce two zstd frames in the same shard.
	_, err := s.Append("test", testRecords(2, 3, 0))
	require.NoError(t, err)
	_, err = s.Append("test", testRecords(2, 3, 2))
	require.NoError(t, err)

	s2, err := New(s.Dir())
	require.NoError(t, err)
	db, err := s2.Load("test")
	require.NoError(t, err)
	assert.Equal(t, 4, db.Count())
	for i, rec := range db.Records {
		assert.Equal(t, uint64(i), rec.Index)
	}
}

func TestAppendToMissingDatabase(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append("ghost", testRecords(1, 2, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDimensionMismatchOnEncode(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 3))

	_, err := s.Append("test", testRecords(1, 2, 0))
	require.Error(t, err)
}

func TestLoadAfterCrashKeepsPriorAppends(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("test", 2))
	_, err := s.Append("test", testRecords(2, 2, 0))
	require.NoError(t, err)

	before, err := s.Load("test")
	require.NoError(t, err)

	path := filepath.Join(s.Dir(), "test-00001.shard")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	s2, err := New(s.Dir())
	require.NoError(t, err)
	after, err := s2.Load("test")
	require.NoError(t, err)
	assert.Equal(t, before.Count()-1, after.Count())
	assert.Equal(t, before.Records[0].Values, after.Records[0].Values)
}

func TestErrorsCarryNames(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "nope")
}
