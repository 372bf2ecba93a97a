package vectra

import (
	"container/heap"
	"context"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vectra/distance"
	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/model"
	"github.com/hupe1980/vectra/queue"
)

// SearchResult is one query hit. Values and Metadata reference the stored
// record, which is immutable once written.
type SearchResult struct {
	Index     uint64
	Distance  float64
	Values    []float32
	Metadata  metadata.Metadata
	CreatedAt time.Time
}

// parallelScanThreshold is the record count above which the scan fans out
// across CPU cores.
const parallelScanThreshold = 2048

// Find returns the k records closest to query under the named metric,
// ordered by ascending score; equal scores order by ascending index. The
// scan is exact: every record is scored. k <= 0 yields an empty result; k
// beyond the record count returns everything sorted.
func (vt *Vectra) Find(ctx context.Context, name string, query []float32, k int, metric string) ([]SearchResult, error) {
	start := time.Now()

	results, err := vt.find(ctx, name, query, k, metric)
	err = translateError(err)

	vt.metrics.RecordFind(k, time.Since(start), err)
	vt.logger.LogFind(ctx, name, metric, k, len(results), err)
	return results, err
}

func (vt *Vectra) find(ctx context.Context, name string, query []float32, k int, metric string) ([]SearchResult, error) {
	scorer, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	err = vt.cache.Read(ctx, name, func(db *model.Database) error {
		if len(query) != db.Dimension {
			return &ErrDimensionMismatch{Expected: db.Dimension, Actual: len(query)}
		}
		if k <= 0 || db.Count() == 0 {
			return nil
		}

		top, err := vt.selectTopK(ctx, db.Records, query, k, scorer)
		if err != nil {
			return err
		}

		results = make([]SearchResult, len(top))
		for i, item := range top {
			rec := recordByIndex(db.Records, item.Index)
			results[i] = SearchResult{
				Index:     rec.Index,
				Distance:  item.Distance,
				Values:    rec.Values,
				Metadata:  rec.Metadata,
				CreatedAt: rec.CreatedAt,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// selectTopK scores every record and keeps the k smallest, fanning out
// across cores for large databases.
func (vt *Vectra) selectTopK(ctx context.Context, records []model.Record, query []float32, k int, scorer distance.Func) ([]queue.PriorityQueueItem, error) {
	if len(records) <= parallelScanThreshold {
		pq := scanChunk(records, query, k, scorer)
		return drainAscending(pq), nil
	}

	workers := runtime.NumCPU()
	if workers > len(records) {
		workers = len(records)
	}

	chunks := make([]*queue.PriorityQueue, workers)
	g, _ := errgroup.WithContext(ctx)
	chunkSize := (len(records) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunkSize
		hi := lo + chunkSize
		if hi > len(records) {
			hi = len(records)
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			chunks[w] = scanChunk(records[lo:hi], query, k, scorer)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Merge the per-chunk winners into one bounded heap.
	merged := &queue.PriorityQueue{Descending: true}
	for _, pq := range chunks {
		if pq == nil {
			continue
		}
		for _, item := range pq.Items {
			pushBounded(merged, item, k)
		}
	}
	return drainAscending(merged), nil
}

// scanChunk scores one record slice and returns its k best as a max-heap.
func scanChunk(records []model.Record, query []float32, k int, scorer distance.Func) *queue.PriorityQueue {
	pq := &queue.PriorityQueue{Descending: true}
	for i := range records {
		item := queue.PriorityQueueItem{
			Index:    records[i].Index,
			Distance: scorer(query, records[i].Values),
		}
		pushBounded(pq, item, k)
	}
	return pq
}

// pushBounded keeps the heap at k items, evicting the current worst. With a
// descending heap the top is the largest distance, largest index on ties, so
// the ascending-index tie-break falls out of the eviction order.
func pushBounded(pq *queue.PriorityQueue, item queue.PriorityQueueItem, k int) {
	if pq.Len() < k {
		heap.Push(pq, item)
		return
	}
	top := pq.Top()
	if item.Distance < top.Distance || (item.Distance == top.Distance && item.Index < top.Index) {
		heap.Pop(pq)
		heap.Push(pq, item)
	}
}

// drainAscending empties the max-heap into ascending score order.
func drainAscending(pq *queue.PriorityQueue) []queue.PriorityQueueItem {
	out := make([]queue.PriorityQueueItem, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(pq).(queue.PriorityQueueItem)
	}
	return out
}

// recordByIndex finds the record carrying index. Records are stored in
// ascending index order, so this is a binary search.
func recordByIndex(records []model.Record, index uint64) *model.Record {
	i := sort.Search(len(records), func(i int) bool {
		return records[i].Index >= index
	})
	return &records[i]
}
