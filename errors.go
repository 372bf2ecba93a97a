package vectra

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/vectra/cache"
	"github.com/hupe1980/vectra/distance"
	"github.com/hupe1980/vectra/importer"
	"github.com/hupe1980/vectra/shard"
)

var (
	// ErrNotFound is returned for operations on an unknown database name.
	ErrNotFound = errors.New("database not found")

	// ErrAlreadyExists is returned when creating a database that exists.
	ErrAlreadyExists = errors.New("database already exists")

	// ErrUnknownMetric is returned for an unregistered metric code.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrLockTimeout indicates internal lock contention. It should not
	// surface in normal operation.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrClosed is returned for operations on a closed instance.
	ErrClosed = errors.New("vectra is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ParseError reports a source value that failed conversion during import.
type ParseError = importer.ParseError

// Kind returns the stable error kind for err, so callers (CLI exit codes,
// REST bodies) can branch without string matching.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrUnknownMetric):
		return "unknown_metric"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	}

	var dm *ErrDimensionMismatch
	if errors.As(err, &dm) {
		return "dimension_mismatch"
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "io_error"
	}
	return "internal"
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, shard.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, shard.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	if errors.Is(err, distance.ErrUnknownMetric) {
		return fmt.Errorf("%w: %w", ErrUnknownMetric, err)
	}
	if errors.Is(err, cache.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var dm *distance.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
