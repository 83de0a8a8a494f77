package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task processes one item. It is expected to report its own failures in R;
// the pool never cancels siblings.
type Task[T, R any] func(ctx context.Context, item T) R

// Stream runs fn for every item with at most ceiling invocations in flight and
// delivers results in completion order. The returned channel is closed after
// the last result. Once started, a task runs to completion even if ctx is
// cancelled; ctx is only handed through to fn.
func Stream[T, R any](ctx context.Context, items []T, ceiling int, fn Task[T, R]) <-chan R {
	results := make(chan R, len(items))
	if len(items) == 0 {
		close(results)
		return results
	}

	var g errgroup.Group
	g.SetLimit(CalculateConcurrency(ceiling, len(items)))

	go func() {
		defer close(results)
		for _, item := range items {
			g.Go(func() error {
				results <- fn(ctx, item)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

// Collect drains Stream into a slice, still in completion order
func Collect[T, R any](ctx context.Context, items []T, ceiling int, fn Task[T, R]) []R {
	out := make([]R, 0, len(items))
	for r := range Stream(ctx, items, ceiling, fn) {
		out = append(out, r)
	}
	return out
}

// CalculateConcurrency determines the worker count for itemCount items. A
// ceiling of zero or less means one worker per item; the result never exceeds
// the item count and is at least one.
func CalculateConcurrency(ceiling int, itemCount int) int {
	if itemCount <= 0 {
		return 1
	}
	if ceiling <= 0 || ceiling > itemCount {
		return itemCount
	}
	return ceiling
}
