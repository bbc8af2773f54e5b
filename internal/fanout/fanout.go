// Package fanout runs independent units of work concurrently and joins
// them: every unit runs to completion, failures are collected rather than
// cancelling siblings, and the caller sees one aggregated outcome.
package fanout

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BatchError reports how many of a batch's items failed and why.
type BatchError struct {
	Op    string
	Total int
	Errs  []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d failed", e.Op, len(e.Errs), e.Total)
}

func (e *BatchError) Unwrap() []error { return e.Errs }

// Failed returns the number of failed items.
func (e *BatchError) Failed() int { return len(e.Errs) }

// Collect builds a BatchError from per-item results, ignoring nils.
// It returns nil when every item succeeded.
func Collect(op string, total int, errs []error) error {
	combined := multierr.Combine(errs...)
	if combined == nil {
		return nil
	}
	return &BatchError{Op: op, Total: total, Errs: multierr.Errors(combined)}
}

// Each calls fn for every item with at most limit calls in flight (no limit
// when limit <= 0) and waits for all of them. Items are not cancelled when a
// sibling fails.
func Each[T any](ctx context.Context, op string, items []T, limit int, fn func(ctx context.Context, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return Collect(op, len(items), errs)
}

// Map is Each for functions with results. The result slice keeps input
// order and is delivered only after every call returned.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) ([]R, []error) {
	out := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return out, errs
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			out[i], errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return out, errs
}
