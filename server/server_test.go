package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectra"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	vt, err := vectra.New(t.TempDir(), vectra.WithFlushInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vt.Close(context.Background()) })

	return New(vt)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateInsertFindInfo(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/create", map[string]any{
		"name": "test", "dimension": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/db/test/insert", map[string]any{
		"values":   []float32{1, 2, 3},
		"metadata": map[string]any{"source": "s1", "year": 2024, "score": 0.5, "ok": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	insertResp := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), insertResp["total"])

	rec = doJSON(t, s, http.MethodPost, "/db/test/find", map[string]any{
		"values": []float32{1.1, 1.9, 3.2},
		"k":      1,
		"metric": "eu",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]map[string]any](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, float64(0), results[0]["index"])
	assert.InDelta(t, 0.2449, results[0]["distance"].(float64), 1e-3)

	meta := results[0]["metadata"].(map[string]any)
	assert.Equal(t, "s1", meta["source"])
	assert.Equal(t, float64(2024), meta["year"])
	assert.Equal(t, true, meta["ok"])

	rec = doJSON(t, s, http.MethodGet, "/db/test/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "test", info["name"])
	assert.Equal(t, float64(3), info["dimension"])
	assert.Equal(t, float64(1), info["count"])

	schema := info["metadata_schema"].(map[string]any)
	assert.Contains(t, schema, "source")
	assert.Contains(t, schema, "year")
}

func TestFindDefaults(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/create", map[string]any{"name": "test", "dimension": 1})
	for i := 0; i < 3; i++ {
		doJSON(t, s, http.MethodPost, "/db/test/insert", map[string]any{"values": []float32{float32(i)}})
	}

	// Omitted k and metric fall back to 10 and "eu".
	rec := doJSON(t, s, http.MethodPost, "/db/test/find", map[string]any{
		"values": []float32{0},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]map[string]any](t, rec)
	assert.Len(t, results, 3)
}

func TestImportPartialSummaryOnFailure(t *testing.T) {
	s := newTestServer(t)

	source := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite", source)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE vectors (x REAL, y TEXT)`,
		`INSERT INTO vectors VALUES (1.0, '2.0')`,
		`INSERT INTO vectors VALUES (2.0, '3.0')`,
		`INSERT INTO vectors VALUES (3.0, 'not-a-number')`,
	} {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	// The per-request batch size makes each committed row its own shard; the
	// bad third row fails the run but the response still reports the two
	// committed chunks so the caller can fix the source and resume.
	rec := doJSON(t, s, http.MethodPost, "/db/vecs/import", map[string]any{
		"source":         source,
		"table":          "vectors",
		"vector_columns": []string{"x", "y"},
		"batch_size":     1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), body["rows"])
	assert.Equal(t, float64(2), body["shards"])
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "parse_error", errObj["kind"])
	assert.NotEmpty(t, errObj["message"])

	rec = doJSON(t, s, http.MethodGet, "/db/vecs/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), info["count"])
}

func TestErrorShapes(t *testing.T) {
	s := newTestServer(t)

	// Unknown database.
	rec := doJSON(t, s, http.MethodGet, "/db/ghost/info", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "not_found", body["error"]["kind"])
	assert.NotEmpty(t, body["error"]["message"])

	// Duplicate create.
	doJSON(t, s, http.MethodPost, "/create", map[string]any{"name": "test", "dimension": 2})
	rec = doJSON(t, s, http.MethodPost, "/create", map[string]any{"name": "test", "dimension": 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "already_exists", body["error"]["kind"])

	// Wrong vector length.
	rec = doJSON(t, s, http.MethodPost, "/db/test/insert", map[string]any{"values": []float32{1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "dimension_mismatch", body["error"]["kind"])

	// Unknown metric.
	rec = doJSON(t, s, http.MethodPost, "/db/test/find", map[string]any{
		"values": []float32{1, 2}, "metric": "xx",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "unknown_metric", body["error"]["kind"])

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/create", bytes.NewBufferString("{"))
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}
