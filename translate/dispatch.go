package translate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// outcome is the settled result of one dispatch unit.
type outcome[R any] struct {
	value R
	err   error
}

// forEachLimit runs fn for every item with at most limit units in flight,
// queueing the remainder in input order. A unit's failure never cancels
// its siblings: every unit settles, and outcomes are returned in input
// order regardless of completion order.
func forEachLimit[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []outcome[R] {
	if limit <= 0 {
		limit = 1
	}

	results := make([]outcome[R], len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			v, err := fn(ctx, item)
			results[i] = outcome[R]{value: v, err: err}
			// Outcomes are captured per slot; returning nil keeps the
			// group from cancelling sibling units.
			return nil
		})
	}
	g.Wait()

	return results
}
