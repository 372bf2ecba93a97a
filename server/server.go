// Package server exposes the vector store over HTTP with JSON bodies.
// Databases load lazily on first access through the engine's cache.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hupe1980/vectra"
	"github.com/hupe1980/vectra/metadata"
)

// Options configures a Server.
type Options struct {
	// DefaultK is the result count used when a find request omits k.
	DefaultK int

	// DefaultMetric is the metric code used when a find request omits it.
	DefaultMetric string

	// ReadTimeout and WriteTimeout bound request handling in ListenAndServe.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger receives request failures.
	Logger *slog.Logger
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	DefaultK:      10,
	DefaultMetric: "eu",
	ReadTimeout:   30 * time.Second,
	WriteTimeout:  30 * time.Second,
}

// Server routes REST calls to a Vectra engine.
type Server struct {
	engine *vectra.Vectra
	opts   Options
	mux    *http.ServeMux
}

// New creates a Server over engine.
func New(engine *vectra.Vectra, optFns ...func(o *Options)) *Server {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultOptions.DefaultK
	}
	if opts.DefaultMetric == "" {
		opts.DefaultMetric = DefaultOptions.DefaultMetric
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		engine: engine,
		opts:   opts,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /create", s.handleCreate)
	s.mux.HandleFunc("POST /db/{name}/insert", s.handleInsert)
	s.mux.HandleFunc("POST /db/{name}/find", s.handleFind)
	s.mux.HandleFunc("GET /db/{name}/info", s.handleInfo)
	s.mux.HandleFunc("POST /db/{name}/import", s.handleImport)

	return s
}

// Handler returns the route handler, for mounting or tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type createRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.Create(r.Context(), req.Name, req.Dimension); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type insertRequest struct {
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	meta, err := metadata.FromAnyMap(req.Metadata)
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}

	total, err := s.engine.Insert(r.Context(), r.PathValue("name"), req.Values, meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": total})
}

type findRequest struct {
	Values []float32 `json:"values"`
	K      int       `json:"k"`
	Metric string    `json:"metric"`
}

type findResult struct {
	Index     uint64            `json:"index"`
	Distance  float64           `json:"distance"`
	Values    []float32         `json:"values"`
	Metadata  metadata.Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.K == 0 {
		req.K = s.opts.DefaultK
	}
	if req.Metric == "" {
		req.Metric = s.opts.DefaultMetric
	}

	results, err := s.engine.Find(r.Context(), r.PathValue("name"), req.Values, req.K, req.Metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]findResult, len(results))
	for i, res := range results {
		out[i] = findResult{
			Index:     res.Index,
			Distance:  res.Distance,
			Values:    res.Values,
			Metadata:  res.Metadata,
			CreatedAt: res.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type infoResponse struct {
	Name      string              `json:"name"`
	Dimension int                 `json:"dimension"`
	Count     int                 `json:"count"`
	Schema    map[string][]string `json:"metadata_schema"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Info(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Name:      info.Name,
		Dimension: info.Dimension,
		Count:     info.Count,
		Schema:    info.Schema,
	})
}

type importRequest struct {
	Source        string            `json:"source"`
	Table         string            `json:"table"`
	VectorColumns []string          `json:"vector_columns"`
	MetaColumns   map[string]string `json:"meta_columns"`
	BatchSize     int               `json:"batch_size"`
}

type importResponse struct {
	Rows   int          `json:"rows"`
	Shards int          `json:"shards"`
	Error  *errorDetail `json:"error,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.engine.Import(r.Context(), r.PathValue("name"), vectra.ImportRequest{
		Source:        req.Source,
		Table:         req.Table,
		VectorColumns: req.VectorColumns,
		MetaColumns:   req.MetaColumns,
		BatchSize:     req.BatchSize,
	})
	resp := importResponse{Rows: summary.Rows, Shards: summary.Shards}
	if err != nil {
		// Committed chunks stay on disk, so the caller gets the partial
		// progress alongside the failure.
		kind := vectra.Kind(err)
		resp.Error = &errorDetail{Kind: kind, Message: err.Error()}
		writeJSON(w, statusForKind(kind), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type badRequestError struct{ cause error }

func (e *badRequestError) Error() string { return e.cause.Error() }
func (e *badRequestError) Unwrap() error { return e.cause }

func badRequest(err error) error { return &badRequestError{cause: err} }

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "already_exists":
		return http.StatusConflict
	case "dimension_mismatch", "unknown_metric", "parse_error", "bad_request":
		return http.StatusBadRequest
	case "closed":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := vectra.Kind(err)

	var br *badRequestError
	if errors.As(err, &br) {
		kind = "bad_request"
	}

	status := statusForKind(kind)

	if status >= 500 {
		s.opts.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
