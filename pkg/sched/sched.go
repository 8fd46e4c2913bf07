// Package sched provides the two execution contexts used by the exporter.
//
// IO is the cooperative context for network-bound calls (artifact store,
// signing service, index downloads): every item gets its own goroutine and
// callers block only while awaiting the joint result. Pool is a bounded set
// of workers for CPU or disk bound work (signature checks, createrepo_c,
// updateinfo parsing). Moving work from IO into a Pool is always an explicit
// Dispatch call.
package sched

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// IO fans network-bound work out without a concurrency bound.
type IO struct{}

// NewIO returns the I/O scheduler.
func NewIO() *IO { return &IO{} }

// Pool runs CPU or disk bound work on a fixed number of workers. The bound
// is shared by every concurrent Dispatch on the same pool; fn must not
// Dispatch onto the pool it is running on.
type Pool struct {
	name    string
	workers int
	slots   chan struct{}
}

// NewPool returns a pool with the given number of workers. Non-positive
// values fall back to GOMAXPROCS.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{name: name, workers: workers, slots: make(chan struct{}, workers)}
}

// Name identifies the pool in logs.
func (p *Pool) Name() string { return p.name }

// Workers reports the pool size.
func (p *Pool) Workers() int { return p.workers }

// Gather runs fn for every item concurrently on the I/O scheduler and returns
// the results in input order. fn must convert its own failures into a value:
// a failing item never cancels its siblings.
func Gather[T, R any](ctx context.Context, _ *IO, items []T, fn func(context.Context, T) R) []R {
	return run(ctx, -1, items, fn)
}

// Dispatch runs fn for every item on the pool's workers and returns the
// results in input order.
func Dispatch[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) R) []R {
	return run(ctx, p.workers, items, func(ctx context.Context, item T) R {
		p.slots <- struct{}{}
		defer func() { <-p.slots }()
		return fn(ctx, item)
	})
}

func run[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
