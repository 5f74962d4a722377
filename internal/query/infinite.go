package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tonimelisma/adminctl/internal/api"
)

// PageFetcher loads page (1-based) of the list identified by key.
type PageFetcher[T any] func(ctx context.Context, key Key, page int) (api.Page[T], error)

// NextPageFunc returns the page number after last, and false when last is
// the final page.
type NextPageFunc[T any] func(last api.Page[T]) (int, bool)

// NextPageParam follows the server's next_page field.
func NextPageParam[T any](last api.Page[T]) (int, bool) {
	if last.Pagination.NextPage == nil {
		return 0, false
	}

	return *last.Pagination.NextPage, true
}

// InfiniteOption configures an Infinite query.
type InfiniteOption[T any] func(*Infinite[T])

// WithNextPageParam overrides how the next page number is derived.
func WithNextPageParam[T any](fn NextPageFunc[T]) InfiniteOption[T] {
	return func(i *Infinite[T]) {
		if fn != nil {
			i.nextPage = fn
		}
	}
}

// WithInfiniteEnabled gates the query like WithEnabled.
func WithInfiniteEnabled[T any](gate Gate) InfiniteOption[T] {
	return func(i *Infinite[T]) {
		if gate != nil {
			i.gate = gate
		}
	}
}

// WithInfiniteLogger sets the logger. The cache's logger is the default.
func WithInfiniteLogger[T any](logger *slog.Logger) InfiniteOption[T] {
	return func(i *Infinite[T]) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// Infinite accumulates the pages of one list key. Each page is a cache
// entry under the list key plus its page number, so infinite lists on the
// same key share fetches and cached pages, and cache invalidation reaches
// them. Changing the key discards the pages and starts over from page 1; a
// page that arrives for an earlier key is dropped.
type Infinite[T any] struct {
	cache    *Cache
	fetch    PageFetcher[T]
	nextPage NextPageFunc[T]
	gate     Gate
	logger   *slog.Logger

	mu       sync.Mutex
	key      Key
	gen      uint64
	pages    []api.Page[T]
	nums     []int
	fetching int // page number being fetched, 0 when idle
	status   Status
	err      error
}

// NewInfinite declares an infinite query for key on cache. Nothing is
// fetched until Load.
func NewInfinite[T any](cache *Cache, key Key, fetch PageFetcher[T], opts ...InfiniteOption[T]) *Infinite[T] {
	i := &Infinite[T]{
		cache:    cache,
		fetch:    fetch,
		nextPage: NextPageParam[T],
		gate:     Always,
		logger:   cache.logger,
		key:      key,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Load fetches page 1 if nothing has been fetched yet for the current key,
// or restarts from page 1 when a fetched page was invalidated or removed
// from the cache. It is a no-op while the gate is closed or a fetch is
// pending.
func (i *Infinite[T]) Load(ctx context.Context) error {
	if !i.gate() {
		return nil
	}

	i.mu.Lock()
	if i.fetching != 0 || (len(i.pages) > 0 && !i.staleLocked()) {
		i.mu.Unlock()
		return nil
	}

	if len(i.pages) > 0 {
		i.logger.Debug("query: list invalidated, restarting from page 1",
			slog.String("key", i.key.String()),
		)
	}

	_, err := i.start(ctx, 1, false)

	return err
}

// Refetch reloads the list from page 1 regardless of freshness. Pages
// already shown stay visible until the new first page replaces them; any
// pending page is discarded.
func (i *Infinite[T]) Refetch(ctx context.Context) error {
	if !i.gate() {
		return nil
	}

	i.mu.Lock()
	i.gen++
	i.fetching = 0

	// Later pages are refetched as they are requested again.
	for _, n := range i.nums {
		if n != 1 {
			i.cache.Invalidate(pageKey(i.key, n))
		}
	}

	_, err := i.start(ctx, 1, true)

	return err
}

// FetchNextPage appends the next page. It is a no-op while a fetch is
// pending or when there is no next page.
func (i *Infinite[T]) FetchNextPage(ctx context.Context) error {
	_, err := i.next(ctx)
	return err
}

// FetchAll loads pages until the server reports none remain.
func (i *Infinite[T]) FetchAll(ctx context.Context) error {
	if err := i.Load(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started, err := i.next(ctx)
		if err != nil {
			return err
		}

		if !started {
			return nil
		}
	}
}

// SetKey switches to key. An unchanged key is a no-op; a changed key drops
// every fetched page and loads page 1 of the new key.
func (i *Infinite[T]) SetKey(ctx context.Context, key Key) error {
	i.mu.Lock()
	if i.key.Equal(key) {
		i.mu.Unlock()
		return nil
	}

	i.key = key
	i.gen++
	i.pages = nil
	i.nums = nil
	i.fetching = 0
	i.status = StatusIdle
	i.err = nil
	i.mu.Unlock()

	return i.Load(ctx)
}

// Key returns the current key.
func (i *Infinite[T]) Key() Key {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.key
}

// HasNextPage reports whether the most recently fetched page names a
// following page that is not already being fetched. It is false before the
// first page arrives.
func (i *Infinite[T]) HasNextPage() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.fetching != 0 {
		return false
	}

	_, ok := i.nextLocked()

	return ok
}

// IsFetchingNextPage reports whether a page after the first is loading.
func (i *Infinite[T]) IsFetchingNextPage() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.fetching > 1
}

// IsFetching reports whether any page is loading.
func (i *Infinite[T]) IsFetching() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.fetching != 0
}

// Pages returns the fetched pages in order.
func (i *Infinite[T]) Pages() []api.Page[T] {
	i.mu.Lock()
	defer i.mu.Unlock()

	return slices.Clone(i.pages)
}

// Items returns the items of every fetched page, in page order.
func (i *Infinite[T]) Items() []T {
	i.mu.Lock()
	defer i.mu.Unlock()

	var out []T
	for _, p := range i.pages {
		out = append(out, p.Items...)
	}

	return out
}

// Status returns the query status. A failed next page sets StatusError but
// keeps the pages already fetched.
func (i *Infinite[T]) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.status
}

// Err returns the last fetch error for the current key.
func (i *Infinite[T]) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.err
}

func (i *Infinite[T]) nextLocked() (int, bool) {
	if len(i.pages) == 0 {
		return 0, false
	}

	return i.nextPage(i.pages[len(i.pages)-1])
}

// next starts the following page and reports whether a fetch was started.
func (i *Infinite[T]) next(ctx context.Context) (bool, error) {
	if !i.gate() {
		return false, nil
	}

	i.mu.Lock()
	if i.fetching != 0 {
		i.mu.Unlock()
		return false, nil
	}

	page, ok := i.nextLocked()
	if !ok {
		i.mu.Unlock()
		return false, nil
	}

	return i.start(ctx, page, false)
}

// staleLocked reports whether any fetched page is no longer fresh in the
// cache. Called with i.mu held.
func (i *Infinite[T]) staleLocked() bool {
	for _, n := range i.nums {
		s := i.cache.peek(pageKey(i.key, n))
		if !s.hasData || s.stale {
			return true
		}
	}

	return false
}

// pageKey is the cache key of one page of the list at key.
func pageKey(key Key, page int) Key {
	return key.With("page", page)
}

// start fetches page for the current generation through the cache. Page 1
// replaces the accumulated pages; later pages are appended. Called with i.mu
// held; returns with it released.
func (i *Infinite[T]) start(ctx context.Context, page int, force bool) (bool, error) {
	gen := i.gen
	key := i.key
	i.fetching = page

	if len(i.pages) == 0 {
		i.status = StatusLoading
	}

	i.mu.Unlock()

	pk := pageKey(key, page)
	fn := func(ctx context.Context) (any, error) {
		i.logger.Debug("query: fetching page",
			slog.String("key", key.String()),
			slog.Int("page", page),
		)

		return i.fetch(ctx, key, page)
	}

	f, snap := i.cache.acquire(ctx, pk, fn, force, 0)

	var waitErr error

	if f != nil {
		select {
		case <-f.done:
			snap = i.cache.peek(pk)
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if gen != i.gen {
		i.logger.Debug("query: discarding superseded page",
			slog.String("key", key.String()),
			slog.Int("page", page),
		)

		return true, nil
	}

	i.fetching = 0

	if waitErr != nil {
		// The fetch goes on in the cache; a later Load picks it up.
		if len(i.pages) == 0 {
			i.status = StatusIdle
		}

		return true, waitErr
	}

	var p api.Page[T]

	ok := false
	if snap.status == StatusSuccess {
		p, ok = snap.data.(api.Page[T])
	}

	if !ok {
		err := snap.err
		if err == nil {
			err = fmt.Errorf("query: page %d of %s was dropped from the cache", page, key)
		}

		i.status = StatusError
		i.err = err

		return true, err
	}

	if verr := p.Validate(); verr != nil {
		i.logger.Warn("query: inconsistent pagination",
			slog.String("key", key.String()),
			slog.String("error", verr.Error()),
		)
	}

	if page == 1 {
		i.pages = nil
		i.nums = nil
	}

	i.pages = append(i.pages, p)
	i.nums = append(i.nums, page)
	i.status = StatusSuccess
	i.err = nil

	return true, nil
}
