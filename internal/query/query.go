package query

import (
	"context"
	"sync"
	"time"
)

// Fetcher loads the data for key.
type Fetcher[T any] func(ctx context.Context, key Key) (T, error)

// Result is a point-in-time view of a query. Data holds the last successful
// value even when Status is StatusError. Refetch forces a new fetch of the
// same query.
type Result[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	Err       error
	FetchedAt time.Time
	Fetching  bool
	Refetch   func(ctx context.Context) Result[T]
}

// Option configures a Query.
type Option func(*options)

type options struct {
	gate      Gate
	staleTime time.Duration
}

// WithEnabled gates the query: while gate reports false the query stays
// idle and issues no requests.
func WithEnabled(gate Gate) Option {
	return func(o *options) {
		if gate != nil {
			o.gate = gate
		}
	}
}

// WithStaleTime makes successful data refetch on Get once it is older than
// d. Zero keeps data fresh until it is invalidated or refetched.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) {
		o.staleTime = d
	}
}

// Query is a typed view of one cache entry. Its key can change over time
// (a search term, a parent id); each key has its own entry.
type Query[T any] struct {
	cache     *Cache
	fetch     Fetcher[T]
	gate      Gate
	staleTime time.Duration

	mu      sync.Mutex
	key     Key
	wasOpen bool
}

// NewQuery declares a query for key on cache. Nothing is fetched until Get.
func NewQuery[T any](cache *Cache, key Key, fetch Fetcher[T], opts ...Option) *Query[T] {
	o := options{gate: Always}
	for _, opt := range opts {
		opt(&o)
	}

	return &Query[T]{
		cache:     cache,
		fetch:     fetch,
		gate:      o.gate,
		staleTime: o.staleTime,
		key:       key,
	}
}

// Key returns the current key.
func (q *Query[T]) Key() Key {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.key
}

// Enabled evaluates the gate.
func (q *Query[T]) Enabled() bool {
	return q.gate()
}

// Get returns cached data when it is fresh and otherwise waits for a fetch,
// joining one already in flight for the same key. A closed gate yields an
// idle result without any request.
func (q *Query[T]) Get(ctx context.Context) Result[T] {
	return q.load(ctx, false)
}

// Refetch starts a new fetch regardless of freshness and waits for it.
// An older fetch still in flight is left to finish; its result is discarded
// if it lands after this one.
func (q *Query[T]) Refetch(ctx context.Context) Result[T] {
	return q.load(ctx, true)
}

// Result returns the current state without issuing a request. It does not
// count as observing the gate, so a later Reevaluate still loads.
func (q *Query[T]) Result() Result[T] {
	open := q.gate()
	key := q.Key()

	if !open {
		return q.idle()
	}

	return q.result(q.cache.peek(key))
}

// SetKey switches the query to key. When the gate is open and the key
// changed, the new key is loaded immediately.
func (q *Query[T]) SetKey(ctx context.Context, key Key) Result[T] {
	q.mu.Lock()
	changed := !q.key.Equal(key)
	q.key = key
	q.mu.Unlock()

	if changed {
		return q.Get(ctx)
	}

	return q.Result()
}

// Reevaluate re-checks the gate after a prerequisite changed. A closed to
// open transition loads the query; otherwise the current state is returned.
func (q *Query[T]) Reevaluate(ctx context.Context) Result[T] {
	q.mu.Lock()
	was := q.wasOpen
	q.mu.Unlock()

	if !was && q.gate() {
		return q.Get(ctx)
	}

	return q.Result()
}

func (q *Query[T]) load(ctx context.Context, force bool) Result[T] {
	key, open := q.evaluate()
	if !open {
		return q.idle()
	}

	fn := func(ctx context.Context) (any, error) {
		return q.fetch(ctx, key)
	}

	f, snap := q.cache.acquire(ctx, key, fn, force, q.staleTime)
	if f == nil {
		return q.result(snap)
	}

	select {
	case <-f.done:
		return q.result(q.cache.peek(key))
	case <-ctx.Done():
		r := q.result(q.cache.peek(key))
		r.Err = ctx.Err()

		return r
	}
}

// evaluate reads the key and the gate together and records the gate state
// for Reevaluate. Only paths that may load call it.
func (q *Query[T]) evaluate() (Key, bool) {
	open := q.gate()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.wasOpen = open

	return q.key, open
}

func (q *Query[T]) idle() Result[T] {
	return Result[T]{Status: StatusIdle, Refetch: q.Refetch}
}

func (q *Query[T]) result(s snapshot) Result[T] {
	r := Result[T]{
		Status:    s.status,
		Err:       s.err,
		FetchedAt: s.fetchedAt,
		Fetching:  s.fetching,
		Refetch:   q.Refetch,
	}

	if s.hasData {
		if data, ok := s.data.(T); ok {
			r.Data = data
			r.HasData = true
		}
	}

	return r
}
