package shard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/vectra/model"
)

// Options configures a Store.
type Options struct {
	// BatchSize is the record count at which a shard is finalized and the
	// next append opens a new part.
	BatchSize int

	// Compress enables zstd compression of the record stream. The flag is
	// recorded in each shard header, so mixed data directories stay
	// readable.
	Compress bool

	// CompressionLevel is the zstd level used when Compress is set.
	CompressionLevel int

	// Logger receives load-time warnings (discarded truncated records).
	Logger *slog.Logger
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	BatchSize:        1000,
	CompressionLevel: 3,
}

// Store owns one data directory holding the shard-sets of all databases.
//
// The Store serializes operations per database name; operations on distinct
// names proceed independently.
type Store struct {
	dir  string
	opts Options

	mu     sync.Mutex // guards states
	states map[string]*dbState
}

// dbState is the open-shard bookkeeping for one database.
type dbState struct {
	mu        sync.Mutex // serializes file operations for this database
	header    headerInfo
	lastPart  int  // highest part number, 0 when unknown
	lastCount int  // records in the last part
	sealed    bool // last part finalized; next append opens a new part
}

var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName reports whether name can be embedded in shard filenames.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Store{
		dir:    dir,
		opts:   opts,
		states: make(map[string]*dbState),
	}, nil
}

// BatchSize returns the configured shard rotation size.
func (s *Store) BatchSize() int { return s.opts.BatchSize }

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) partPath(name string, part int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%05d.shard", name, part))
}

// listParts returns the sorted part numbers present for name.
func (s *Store) listParts(name string) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	prefix := name + "-"
	var parts []int
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, ".shard") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(fn, prefix), ".shard")
		num, err := strconv.Atoi(numStr)
		if err != nil || num <= 0 {
			continue
		}
		parts = append(parts, num)
	}
	sort.Ints(parts)
	return parts, nil
}

// Exists reports whether a shard-set exists for name.
func (s *Store) Exists(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	parts, err := s.listParts(name)
	if err != nil {
		return false, err
	}
	return len(parts) > 0, nil
}

func (s *Store) getState(name string) *dbState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &dbState{}
		s.states[name] = st
	}
	return st
}

// initStateLocked fills in st from disk if it has not been initialized.
// Caller holds st.mu.
func (s *Store) initStateLocked(name string, st *dbState) error {
	if st.lastPart > 0 {
		return nil
	}

	parts, err := s.listParts(name)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	last := parts[len(parts)-1]
	header, records, _, err := s.readPart(name, last, true)
	if err != nil {
		return err
	}

	st.header = header
	st.lastPart = last
	st.lastCount = len(records)
	st.sealed = len(records) >= s.opts.BatchSize
	return nil
}

// Create writes an empty shard-set for name with the given dimension.
func (s *Store) Create(name string, dimension int) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension: %d", dimension)
	}

	st := s.getState(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	parts, err := s.listParts(name)
	if err != nil {
		return err
	}
	if len(parts) > 0 {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	header := headerInfo{
		Dimension:        dimension,
		Compressed:       s.opts.Compress,
		CompressionLevel: s.opts.CompressionLevel,
	}

	path := s.partPath(name, 1)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
		return fmt.Errorf("failed to create shard: %w", err)
	}
	if err := writeHeader(f, header); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync shard: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close shard: %w", err)
	}
	syncDir(s.dir)

	st.header = header
	st.lastPart = 1
	st.lastCount = 0
	st.sealed = false
	return nil
}

// Load reads all shard files for name in part order and reconstructs the
// database, including its inferred metadata schema. A truncated trailing
// record in the newest shard is discarded with a warning.
func (s *Store) Load(name string) (*model.Database, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	st := s.getState(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	parts, err := s.listParts(name)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	var db *model.Database
	for i, part := range parts {
		lastPart := i == len(parts)-1
		header, records, discarded, err := s.readPart(name, part, lastPart)
		if err != nil {
			return nil, err
		}
		if discarded {
			s.opts.Logger.Warn("discarded truncated trailing record",
				"database", name,
				"part", part,
			)
		}

		if db == nil {
			db = model.New(name, header.Dimension)
		} else if header.Dimension != db.Dimension {
			return nil, fmt.Errorf("shard %s part %d dimension %d does not match %d",
				name, part, header.Dimension, db.Dimension)
		}
		db.Append(records...)

		if lastPart {
			st.header = header
			st.lastPart = part
			st.lastCount = len(records)
			st.sealed = len(records) >= s.opts.BatchSize
		}
	}
	return db, nil
}

// readPart reads one shard file. With tolerateTail set, a truncated or
// checksum-failing record ends the read and reports discarded=true instead
// of failing.
func (s *Store) readPart(name string, part int, tolerateTail bool) (headerInfo, []model.Record, bool, error) {
	f, err := os.Open(s.partPath(name, part))
	if err != nil {
		return headerInfo{}, nil, false, fmt.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()

	header, err := readHeader(f)
	if err != nil {
		return headerInfo{}, nil, false, err
	}

	var reader io.Reader = f
	var dec *zstd.Decoder
	if header.Compressed {
		dec, err = zstd.NewReader(f)
		if err != nil {
			return headerInfo{}, nil, false, fmt.Errorf("failed to create decompressor: %w", err)
		}
		defer dec.Close()
		reader = dec
	}

	var records []model.Record
	discarded := false
	for {
		rec, err := decodeRecord(reader, header.Dimension)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Both framing errors and a torn compressed frame mark the
			// truncation point.
			if !tolerateTail {
				return headerInfo{}, nil, false, fmt.Errorf("corrupt shard record in %s part %d", name, part)
			}
			discarded = true
			break
		}
		records = append(records, rec)
	}
	return header, records, discarded, nil
}

// Append durably appends records to the shard-set, rotating to new parts at
// the batch size boundary. On error the open shard is truncated back to its
// pre-call size, so a failed call leaves no partial records behind.
// It returns the number of bytes written.
func (s *Store) Append(name string, records []model.Record) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	st := s.getState(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.initStateLocked(name, st); err != nil {
		return 0, err
	}

	var written int64
	i := 0
	for i < len(records) {
		if st.sealed || st.lastCount >= s.opts.BatchSize {
			if err := s.createPart(name, st.lastPart+1, st.header); err != nil {
				return written, err
			}
			st.lastPart++
			st.lastCount = 0
			st.sealed = false
		}

		room := s.opts.BatchSize - st.lastCount
		n := len(records) - i
		if n > room {
			n = room
		}

		bytes, err := s.appendToPart(name, st, records[i:i+n])
		written += bytes
		if err != nil {
			return written, err
		}
		st.lastCount += n
		i += n
	}
	return written, nil
}

// Rotate finalizes the open shard so the next append starts a new part.
// Used by the import pipeline to make every committed chunk a shard
// boundary. A freshly opened empty shard is left alone.
func (s *Store) Rotate(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	st := s.getState(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.initStateLocked(name, st); err != nil {
		return err
	}
	if st.lastCount > 0 {
		st.sealed = true
	}
	return nil
}

// Parts returns the number of shard files for name.
func (s *Store) Parts(name string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	parts, err := s.listParts(name)
	if err != nil {
		return 0, err
	}
	return len(parts), nil
}

func (s *Store) createPart(name string, part int, header headerInfo) error {
	path := s.partPath(name, part)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to create shard part: %w", err)
	}
	if err := writeHeader(f, header); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync shard part: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close shard part: %w", err)
	}
	syncDir(s.dir)
	return nil
}

// appendToPart writes records to the open part file. Each call produces one
// self-contained zstd frame when compression is on; frames concatenate
// transparently on read.
func (s *Store) appendToPart(name string, st *dbState, records []model.Record) (int64, error) {
	path := s.partPath(name, st.lastPart)
	f, err := os.OpenFile(path, os.O_WRONLY, 0640)
	if err != nil {
		return 0, fmt.Errorf("failed to open shard part: %w", err)
	}
	defer f.Close()

	startSize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek shard part: %w", err)
	}

	fail := func(cause error) (int64, error) {
		// Roll the file back so no partial record survives the failure.
		_ = f.Truncate(startSize)
		return 0, cause
	}

	var w io.Writer = f
	var enc *zstd.Encoder
	if st.header.Compressed {
		level := zstd.EncoderLevelFromZstd(st.header.CompressionLevel)
		enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(level))
		if err != nil {
			return fail(fmt.Errorf("failed to create compressor: %w", err))
		}
		w = enc
	}

	for i := range records {
		buf, err := encodeRecord(&records[i], st.header.Dimension)
		if err != nil {
			return fail(err)
		}
		if _, err := w.Write(buf); err != nil {
			return fail(fmt.Errorf("failed to write shard record: %w", err))
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return fail(fmt.Errorf("failed to finalize compressed frame: %w", err))
		}
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync shard part: %w", err))
	}

	endSize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek shard part: %w", err)
	}
	return endSize - startSize, nil
}

// Persist rewrites the whole shard-set for db atomically: every part is
// written to a temp file and renamed into place, then stale higher parts are
// removed. Routine flushes append deltas instead; Persist is for rebuilding a
// shard-set wholesale, such as compacting short parts left by chunked imports.
// It returns the number of bytes written.
func (s *Store) Persist(name string, db *model.Database) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	st := s.getState(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	header := st.header
	if header.Dimension == 0 {
		header = headerInfo{
			Dimension:        db.Dimension,
			Compressed:       s.opts.Compress,
			CompressionLevel: s.opts.CompressionLevel,
		}
	}

	batch := s.opts.BatchSize
	numParts := (len(db.Records) + batch - 1) / batch
	if numParts == 0 {
		numParts = 1
	}

	var written int64
	for part := 1; part <= numParts; part++ {
		lo := (part - 1) * batch
		hi := lo + batch
		if hi > len(db.Records) {
			hi = len(db.Records)
		}
		n, err := s.writePartAtomic(name, part, header, db.Records[lo:hi])
		written += n
		if err != nil {
			return written, err
		}
	}

	// Drop parts beyond the new set.
	parts, err := s.listParts(name)
	if err != nil {
		return written, err
	}
	for _, part := range parts {
		if part > numParts {
			if err := os.Remove(s.partPath(name, part)); err != nil && !os.IsNotExist(err) {
				return written, fmt.Errorf("failed to remove stale shard part: %w", err)
			}
		}
	}
	syncDir(s.dir)

	st.header = header
	st.lastPart = numParts
	lastCount := len(db.Records) - (numParts-1)*batch
	st.lastCount = lastCount
	st.sealed = lastCount >= batch
	return written, nil
}

// writePartAtomic writes one part to a temp file in the data directory and
// renames it over the target.
func (s *Store) writePartAtomic(name string, part int, header headerInfo, records []model.Record) (int64, error) {
	target := s.partPath(name, part)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp shard: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	_ = tmp.Chmod(0640)

	if err := writeHeader(tmp, header); err != nil {
		return 0, err
	}

	var w io.Writer = tmp
	var enc *zstd.Encoder
	if header.Compressed {
		level := zstd.EncoderLevelFromZstd(header.CompressionLevel)
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderLevel(level))
		if err != nil {
			return 0, fmt.Errorf("failed to create compressor: %w", err)
		}
		w = enc
	}

	for i := range records {
		buf, err := encodeRecord(&records[i], header.Dimension)
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(buf); err != nil {
			return 0, fmt.Errorf("failed to write shard record: %w", err)
		}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return 0, fmt.Errorf("failed to finalize compressed frame: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync shard: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek shard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close shard: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return 0, fmt.Errorf("failed to replace shard: %w", err)
	}
	tmpName = "" // keep the deferred cleanup from removing the final file
	return size, nil
}

// syncDir fsyncs the data directory so renames and creates are durable on
// POSIX systems. Best effort.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
