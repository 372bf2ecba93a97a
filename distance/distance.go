package distance

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrUnknownMetric is returned when no metric is registered for a code.
var ErrUnknownMetric = errors.New("unknown metric code")

// ErrDimensionMismatch indicates two vectors of unequal length.
//
// The facade translates this into its public error contract.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Func scores two equal-length vectors. Smaller means closer.
// Length equality is the caller's responsibility; Score checks it.
type Func func(a, b []float32) float64

// Euclidean is the L2 distance: sqrt(sum((a_i-b_i)^2)). Code "eu".
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Manhattan is the L1 distance: sum(|a_i-b_i|). Code "l1".
func Manhattan(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

// Cosine is the cosine distance: 1 - (a·b)/(||a||*||b||). Code "cs".
//
// A zero norm on either side yields 1.0 (maximally dissimilar) instead of
// NaN.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Chebyshev is the L-infinity distance: max(|a_i-b_i|). Code "cd".
func Chebyshev(a, b []float32) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(float64(a[i]) - float64(b[i])); d > m {
			m = d
		}
	}
	return m
}

// Minkowski returns the order-p Minkowski distance function:
// (sum(|a_i-b_i|^p))^(1/p). The default registration under code "md" uses
// p=3; callers needing another order register their own code.
func Minkowski(p float64) Func {
	return func(a, b []float32) float64 {
		var sum float64
		for i := range a {
			sum += math.Pow(math.Abs(float64(a[i])-float64(b[i])), p)
		}
		return math.Pow(sum, 1/p)
	}
}

// Hamming counts positions where the discretized components differ.
// Code "hd".
func Hamming(a, b []float32) float64 {
	var n float64
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Func{
		"eu": Euclidean,
		"l1": Manhattan,
		"cs": Cosine,
		"cd": Chebyshev,
		"md": Minkowski(3),
		"hd": Hamming,
	}
)

// Register adds or replaces a metric under the given code. Registration is
// how planned metrics (e.g. Jaccard or Mahalanobis with a fixed covariance)
// are added without touching call sites.
func Register(code string, fn Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = fn
}

// Provider returns the scoring function registered for code.
func Provider(code string) (Func, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	fn, ok := registry[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, code)
	}
	return fn, nil
}

// Codes returns the currently registered metric codes.
func Codes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// Score resolves the metric for code and scores a against b, validating
// that the lengths match.
func Score(code string, a, b []float32) (float64, error) {
	fn, err := Provider(code)
	if err != nil {
		return 0, err
	}
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return fn(a, b), nil
}
