package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/vectra/model"
	"github.com/hupe1980/vectra/resource"
	"github.com/hupe1980/vectra/shard"
)

// ErrClosed is returned for operations on a closed registry.
var ErrClosed = errors.New("cache is closed")

// Options configures a Registry.
type Options struct {
	// WriteThrough persists every mutation before it becomes visible in the
	// cache. When false, mutations are buffered and flushed back later.
	WriteThrough bool

	// TTL is the idle lifetime of a resident database. Entries untouched for
	// longer are flushed and evicted by the sweeper. 0 disables idle
	// eviction.
	TTL time.Duration

	// FlushInterval is the cadence of the background write-back pass. 0
	// disables scheduled flushing; dirty data is then flushed on eviction
	// and on Close.
	FlushInterval time.Duration

	// SweepInterval is the cadence of the TTL and memory budget sweeper.
	SweepInterval time.Duration

	// MaxBytes is the resident memory budget. When exceeded, least recently
	// used entries are evicted, clean ones first. 0 means unbounded.
	MaxBytes int64

	// Logger receives flush and eviction diagnostics.
	Logger *slog.Logger

	// OnFlush is invoked after a successful write-back, with the number of
	// records and bytes written.
	OnFlush func(name string, records int, bytes int64, elapsed time.Duration)

	// OnEvict is invoked after an entry is dropped. Reason is one of "ttl",
	// "memory" or "invalidate".
	OnEvict func(name string, reason string)
}

// DefaultOptions are the defaults applied by NewRegistry.
var DefaultOptions = Options{
	FlushInterval: 5 * time.Second,
	SweepInterval: time.Second,
}

// entry is one resident database. Lock ordering is registry map lock before
// entry lock, never the reverse.
type entry struct {
	name string

	mu        sync.RWMutex
	db        *model.Database
	persisted int // records already on disk
	evicted   bool
	size      int64 // estimated resident bytes
	reserved  int64 // bytes reserved with the resource controller, <= size

	dirty      atomic.Bool
	lastAccess atomic.Int64 // unix nanos
}

func (e *entry) touch() {
	e.lastAccess.Store(time.Now().UnixNano())
}

// Registry is the read-through cache over a shard store.
type Registry struct {
	store *shard.Store
	ctrl  *resource.Controller
	opts  Options

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	total atomic.Int64 // resident bytes across all entries

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	flushes   atomic.Uint64

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Flushes       uint64
	Entries       int
	ResidentBytes int64
}

// NewRegistry creates a registry over store. The controller may be nil.
func NewRegistry(store *shard.Store, ctrl *resource.Controller, optFns ...func(o *Options)) *Registry {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions.SweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	r := &Registry{
		store:    store,
		ctrl:     ctrl,
		opts:     opts,
		entries:  make(map[string]*entry),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// run drives the scheduled flush and the TTL/memory sweep until Close.
func (r *Registry) run() {
	defer r.wg.Done()

	var flushC <-chan time.Time
	if r.opts.FlushInterval > 0 {
		t := time.NewTicker(r.opts.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	sweep := time.NewTicker(r.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-r.bgCtx.Done():
			return
		case <-flushC:
			if r.ctrl.AcquireBackground(r.bgCtx) != nil {
				return
			}
			if err := r.FlushAll(r.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.opts.Logger.Warn("scheduled flush failed", "error", err)
			}
			r.ctrl.ReleaseBackground()
		case <-sweep.C:
			if r.ctrl.AcquireBackground(r.bgCtx) != nil {
				return
			}
			r.sweep(r.bgCtx)
			r.ctrl.ReleaseBackground()
		}
	}
}

// Read runs fn with shared access to the resident database, loading it from
// the shard store if needed. fn must not retain db past its return.
func (r *Registry) Read(ctx context.Context, name string, fn func(db *model.Database) error) error {
	for {
		e, err := r.getOrLoad(ctx, name)
		if err != nil {
			return err
		}

		e.mu.RLock()
		if e.evicted {
			e.mu.RUnlock()
			continue
		}
		err = fn(e.db)
		e.mu.RUnlock()
		return err
	}
}

// Mutate runs fn with exclusive access to the resident database. fn returns
// the records to append; the registry commits them to the cached copy and,
// in write-through mode, to disk before they become visible. fn must not
// modify db itself.
func (r *Registry) Mutate(ctx context.Context, name string, fn func(db *model.Database) ([]model.Record, error)) error {
	for {
		e, err := r.getOrLoad(ctx, name)
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}

		records, err := fn(e.db)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		if len(records) == 0 {
			e.mu.Unlock()
			return nil
		}

		if r.opts.WriteThrough {
			// Durability first: a failed append leaves the cached copy
			// untouched.
			if _, err := r.store.Append(name, records); err != nil {
				e.mu.Unlock()
				return err
			}
			e.db.Append(records...)
			e.persisted = len(e.db.Records)
		} else {
			e.db.Append(records...)
			e.dirty.Store(true)
		}

		var grew int64
		for i := range records {
			grew += records[i].SizeBytes()
		}
		e.size += grew
		if r.ctrl.TryAcquireMemory(grew) {
			e.reserved += grew
		}
		e.mu.Unlock()

		r.total.Add(grew)
		r.enforceBudget(ctx, name)
		return nil
	}
}

// getOrLoad returns the resident entry for name, loading it through
// singleflight on a miss.
func (r *Registry) getOrLoad(ctx context.Context, name string) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.entries[name]
	r.mu.Unlock()

	if ok {
		e.touch()
		r.hits.Add(1)
		return e, nil
	}

	r.misses.Add(1)
	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.load(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	e = v.(*entry)
	e.touch()
	return e, nil
}

func (r *Registry) load(ctx context.Context, name string) (*entry, error) {
	// A concurrent caller may have completed a load between our map check
	// and the singleflight slot.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	db, err := r.store.Load(name)
	if err != nil {
		return nil, err
	}

	e := &entry{
		name:      name,
		db:        db,
		persisted: db.Count(),
		size:      db.SizeBytes(),
	}
	e.touch()

	if !r.ctrl.TryAcquireMemory(e.size) {
		// Make room and try once more; an entry larger than the whole
		// budget is admitted unreserved and trimmed by the sweeper.
		r.enforceBudget(ctx, name)
		if !r.ctrl.TryAcquireMemory(e.size) {
			r.opts.Logger.Warn("admitting database over memory budget",
				"database", name,
				"bytes", e.size,
			)
			e.reserved = 0
		} else {
			e.reserved = e.size
		}
	} else {
		e.reserved = e.size
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.ctrl.ReleaseMemory(e.reserved)
		return nil, ErrClosed
	}
	if existing, ok := r.entries[name]; ok {
		r.mu.Unlock()
		r.ctrl.ReleaseMemory(e.reserved)
		return existing, nil
	}
	r.entries[name] = e
	r.mu.Unlock()

	r.total.Add(e.size)
	r.enforceBudget(ctx, name)
	return e, nil
}

// Flush writes back the unpersisted tail of name, if resident and dirty.
func (r *Registry) Flush(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil
	}
	return r.flushLocked(ctx, e)
}

// FlushAll writes back every dirty resident database. The first error is
// returned after all entries have been attempted.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	dirty := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.dirty.Load() {
			dirty = append(dirty, e)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, e := range dirty {
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		err := r.flushLocked(ctx, e)
		e.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushLocked appends the unpersisted record tail to the shard store. Caller
// holds e.mu exclusively.
func (r *Registry) flushLocked(ctx context.Context, e *entry) error {
	tail := e.db.Records[e.persisted:]
	if len(tail) == 0 {
		e.dirty.Store(false)
		return nil
	}

	// Pacing runs before the write; once Append returns the tail is on disk
	// and must be marked persisted, or a retry would append it twice.
	var pending int64
	for i := range tail {
		pending += tail[i].SizeBytes()
	}
	if err := r.ctrl.AcquireIO(ctx, int(pending)); err != nil {
		return err
	}

	start := time.Now()
	written, err := r.store.Append(e.name, tail)
	if err != nil {
		return fmt.Errorf("failed to flush %q: %w", e.name, err)
	}

	e.persisted = len(e.db.Records)
	e.dirty.Store(false)
	r.flushes.Add(1)

	elapsed := time.Since(start)
	r.opts.Logger.Debug("flushed database",
		"database", e.name,
		"records", len(tail),
		"bytes", written,
		"elapsed", elapsed,
	)
	if r.opts.OnFlush != nil {
		r.opts.OnFlush(e.name, len(tail), written, elapsed)
	}
	return nil
}

// Invalidate flushes any dirty data for name and drops the resident copy.
// The next access reloads from disk.
func (r *Registry) Invalidate(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if !r.evict(ctx, e, "invalidate") {
		// A racing eviction may have removed the entry already; only a
		// failed flush leaves it resident.
		if r.Contains(name) {
			return fmt.Errorf("failed to invalidate %q", name)
		}
	}
	return nil
}

// Contains reports whether name is resident.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Stats returns a snapshot of cache counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	n := len(r.entries)
	r.mu.Unlock()

	return Stats{
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Evictions:     r.evictions.Load(),
		Flushes:       r.flushes.Load(),
		Entries:       n,
		ResidentBytes: r.total.Load(),
	}
}

// sweep evicts idle entries past their TTL, then enforces the memory budget.
func (r *Registry) sweep(ctx context.Context) {
	if r.opts.TTL > 0 {
		cutoff := time.Now().Add(-r.opts.TTL).UnixNano()

		r.mu.Lock()
		var idle []*entry
		for _, e := range r.entries {
			if e.lastAccess.Load() < cutoff {
				idle = append(idle, e)
			}
		}
		r.mu.Unlock()

		for _, e := range idle {
			// Re-check under the entry lock inside evict; a racing access
			// is handled by the lastAccess re-check here being advisory
			// only. A just-touched entry reloads cheaply if dropped.
			if e.lastAccess.Load() < cutoff {
				r.evict(ctx, e, "ttl")
			}
		}
	}

	r.enforceBudget(ctx, "")
}

// enforceBudget evicts least recently used entries until resident bytes fit
// MaxBytes. Clean entries go first; dirty ones are flushed before eviction.
// The exempt entry is never evicted here, so the access that triggered the
// pass always makes progress even when that entry alone exceeds the budget.
func (r *Registry) enforceBudget(ctx context.Context, exempt string) {
	if r.opts.MaxBytes <= 0 {
		return
	}

	for r.total.Load() > r.opts.MaxBytes {
		victim := r.pickVictim(exempt)
		if victim == nil {
			return
		}
		if !r.evict(ctx, victim, "memory") {
			return
		}
	}
}

// pickVictim selects the least recently used entry other than exempt,
// preferring clean ones so eviction stays cheap.
func (r *Registry) pickVictim(exempt string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleanest, oldest *entry
	for _, e := range r.entries {
		if e.name == exempt {
			continue
		}
		if oldest == nil || e.lastAccess.Load() < oldest.lastAccess.Load() {
			oldest = e
		}
		if e.dirty.Load() {
			continue
		}
		if cleanest == nil || e.lastAccess.Load() < cleanest.lastAccess.Load() {
			cleanest = e
		}
	}
	if cleanest != nil {
		return cleanest
	}
	return oldest
}

// evict flushes e if dirty, marks it evicted and removes it from the map.
// Returns false if e was already gone or the flush failed; dirty data is
// never dropped.
func (r *Registry) evict(ctx context.Context, e *entry, reason string) bool {
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return false
	}
	if e.dirty.Load() {
		if err := r.flushLocked(ctx, e); err != nil {
			r.opts.Logger.Warn("flush before eviction failed, keeping entry",
				"database", e.name,
				"error", err,
			)
			e.mu.Unlock()
			return false
		}
	}
	e.evicted = true
	size, reserved := e.size, e.reserved
	e.mu.Unlock()

	r.mu.Lock()
	if r.entries[e.name] == e {
		delete(r.entries, e.name)
	}
	r.mu.Unlock()

	r.ctrl.ReleaseMemory(reserved)
	r.total.Add(-size)
	r.evictions.Add(1)

	r.opts.Logger.Debug("evicted database", "database", e.name, "reason", reason)
	if r.opts.OnEvict != nil {
		r.opts.OnEvict(e.name, reason)
	}
	return true
}

// Close stops the background workers, flushes all dirty data and releases
// memory reservations. The registry is unusable afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.bgCancel()
	r.wg.Wait()

	err := r.FlushAll(ctx)

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.evicted = true
		reserved := e.reserved
		size := e.size
		e.mu.Unlock()
		r.ctrl.ReleaseMemory(reserved)
		r.total.Add(-size)
	}
	return err
}
