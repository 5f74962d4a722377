package query

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Loader warms one query. See Load and LoadPages.
type Loader func(ctx context.Context) error

// Load adapts q.Get to a Loader.
func Load[T any](q *Query[T]) Loader {
	return func(ctx context.Context) error {
		return q.Get(ctx).Err
	}
}

// LoadPages adapts inf.Load to a Loader.
func LoadPages[T any](inf *Infinite[T]) Loader {
	return inf.Load
}

// Prefetch runs loaders concurrently, at most limit at a time (limit <= 0
// means no limit), the way a page mounts all of its dropdowns at once. The
// first error cancels the waits of the remaining loaders and is returned;
// their fetches still complete into the cache.
func Prefetch(ctx context.Context, limit int, loaders ...Loader) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, load := range loaders {
		g.Go(func() error {
			return load(gctx)
		})
	}

	return g.Wait()
}
