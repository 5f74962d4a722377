package query

import (
	"context"
	"sync/atomic"
)

// Mutation is a server-side change: create, update or delete. Mutations are
// never cached and never invalidate anything on their own; OnSuccess is
// where a caller refetches the affected lists.
type Mutation[In, Out any] struct {
	Fn        func(ctx context.Context, in In) (Out, error)
	OnSuccess func(ctx context.Context, out Out, in In)
	OnError   func(ctx context.Context, err error, in In)

	pending atomic.Int32
}

// Run executes the mutation and then the matching callback.
func (m *Mutation[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	m.pending.Add(1)
	out, err := m.Fn(ctx, in)
	m.pending.Add(-1)

	if err != nil {
		if m.OnError != nil {
			m.OnError(ctx, err, in)
		}

		return out, err
	}

	if m.OnSuccess != nil {
		m.OnSuccess(ctx, out, in)
	}

	return out, nil
}

// Pending reports whether a Run is in progress.
func (m *Mutation[In, Out]) Pending() bool {
	return m.pending.Load() > 0
}
