package query

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Status is the lifecycle state of a cache entry.
type Status int

// Entry statuses.
const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// fetchFunc is a type-erased fetch bound to one key.
type fetchFunc func(ctx context.Context) (any, error)

// flight is one started fetch. done is closed once its outcome has been
// applied to (or discarded by) the entry.
type flight struct {
	gen  uint64
	done chan struct{}
}

// entry is the cached state for one key. issued counts started fetches,
// applied is the generation of the newest completion written to the entry,
// and fetches up to invalidated were started before the last invalidation.
type entry struct {
	key         Key
	status      Status
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	stale       bool
	issued      uint64
	applied     uint64
	invalidated uint64
	inflight    *flight
}

// snapshot is a copy of an entry taken under the cache lock.
type snapshot struct {
	status    Status
	data      any
	hasData   bool
	err       error
	fetchedAt time.Time
	fetching  bool
	stale     bool
}

// Cache holds query entries for every key. It is unbounded: entries live
// until removed or cleared. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewCache returns an empty cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		entries: make(map[string]*entry),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Invalidate marks the entry for key stale, so the next Get refetches.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key.String()]; ok {
		e.invalidate()
	}
}

// InvalidateResource marks every entry of resource stale and returns how
// many were marked.
func (c *Cache) InvalidateResource(resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, e := range c.entries {
		if e.key.Resource == resource {
			e.invalidate()
			n++
		}
	}

	c.logger.Debug("query: invalidated resource",
		slog.String("resource", resource),
		slog.Int("entries", n),
	)

	return n
}

// Remove drops the entry for key. A fetch still in flight for it completes
// but its result is discarded.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key.String())
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Keys returns the canonical form of every cached key, sorted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

// peek returns the entry state for key without creating it.
func (c *Cache) peek(key Key) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return snapshot{}
	}

	return e.snapshot()
}

// acquire returns a flight to wait on for key, or nil when the cached entry
// is fresh. A fresh entry is a success that has not been invalidated and,
// when staleTime is positive, is younger than staleTime. Without force, an
// existing in-flight fetch is joined instead of starting a new one.
func (c *Cache) acquire(ctx context.Context, key Key, fn fetchFunc, force bool, staleTime time.Duration) (*flight, snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := key.String()

	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: key}
		c.entries[id] = e
	}

	if !force {
		if c.fresh(e, staleTime) {
			return nil, e.snapshot()
		}

		if e.inflight != nil {
			return e.inflight, e.snapshot()
		}
	}

	e.issued++
	f := &flight{gen: e.issued, done: make(chan struct{})}
	e.inflight = f

	if !e.hasData {
		e.status = StatusLoading
	}

	c.logger.Debug("query: fetch started",
		slog.String("key", id),
		slog.Uint64("generation", f.gen),
	)

	// Fetches outlive the caller that started them: joiners and later
	// generations rely on every fetch completing.
	go c.run(context.WithoutCancel(ctx), id, e, f, fn)

	return f, e.snapshot()
}

func (c *Cache) fresh(e *entry, staleTime time.Duration) bool {
	if e.status != StatusSuccess || e.stale {
		return false
	}

	if staleTime > 0 && c.nowFunc().Sub(e.fetchedAt) >= staleTime {
		return false
	}

	return true
}

// run performs one fetch and applies its outcome if no newer generation
// has been applied in the meantime.
func (c *Cache) run(ctx context.Context, id string, e *entry, f *flight, fn fetchFunc) {
	data, err := fn(ctx)

	c.mu.Lock()
	defer close(f.done)
	defer c.mu.Unlock()

	if e.inflight == f {
		e.inflight = nil
	}

	if c.entries[id] != e {
		c.logger.Debug("query: discarding response for removed entry", slog.String("key", id))
		return
	}

	if f.gen <= e.applied {
		c.logger.Debug("query: discarding superseded response",
			slog.String("key", id),
			slog.Uint64("generation", f.gen),
			slog.Uint64("applied", e.applied),
		)

		return
	}

	e.applied = f.gen

	if err != nil {
		e.status = StatusError
		e.err = err

		c.logger.Warn("query: fetch failed",
			slog.String("key", id),
			slog.String("error", err.Error()),
		)

		return
	}

	e.status = StatusSuccess
	e.data = data
	e.hasData = true
	e.err = nil
	e.fetchedAt = c.nowFunc()
	e.stale = f.gen <= e.invalidated
}

func (e *entry) invalidate() {
	e.stale = true
	e.invalidated = e.issued
}

func (e *entry) snapshot() snapshot {
	return snapshot{
		status:    e.status,
		data:      e.data,
		hasData:   e.hasData,
		err:       e.err,
		fetchedAt: e.fetchedAt,
		fetching:  e.inflight != nil,
		stale:     e.stale,
	}
}
