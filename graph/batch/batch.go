// Package batch runs a function over many independent items with bounded
// concurrency and a hard per-item timeout, collecting one result per item.
package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrorTimeout is the Result.Error value of an item that overran its
// per-item deadline.
const ErrorTimeout = "timeout"

// progressEvery controls how often completion progress is logged.
const progressEvery = 10

// Observer receives one observation per resolved item.
// Status is one of: success, error, timeout.
// graph.PrometheusMetrics satisfies it.
type Observer interface {
	ObserveItem(status string, elapsed time.Duration)
}

// Item is one unit of work.
type Item[T any] struct {
	// ID identifies the item in results and logs.
	ID string

	Input T
}

// Result is the outcome of one item. Exactly one of Value (Succeeded) or
// Error is meaningful.
type Result[R any] struct {
	ID        string
	Value     R
	Succeeded bool
	Error     string
	Elapsed   time.Duration
}

// Runner bounds concurrent item execution.
//
// A Runner owns a weighted semaphore. Sharing one Runner across calls
// shares its capacity: two concurrent Run calls on the same Runner never
// exceed Concurrency items in flight together. A Runner created per call
// gets a private pool that is discarded with it.
type Runner struct {
	concurrency    int
	perItemTimeout time.Duration
	sem            *semaphore.Weighted
	observer       Observer
	logger         log.Interface
	name           string
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver reports item outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the logger used for progress and failure lines.
func WithLogger(l log.Interface) Option {
	return func(r *Runner) { r.logger = l }
}

// WithName labels log lines, e.g. "structurize".
func WithName(name string) Option {
	return func(r *Runner) { r.name = name }
}

// NewRunner creates a Runner allowing concurrency items in flight, each
// bounded by perItemTimeout. Concurrency below 1 is treated as 1; a zero
// timeout disables the per-item deadline.
func NewRunner(concurrency int, perItemTimeout time.Duration, opts ...Option) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	r := &Runner{
		concurrency:    concurrency,
		perItemTimeout: perItemTimeout,
		sem:            semaphore.NewWeighted(int64(concurrency)),
		logger:         log.Log,
		name:           "batch",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Concurrency returns the maximum number of items in flight.
func (r *Runner) Concurrency() int { return r.concurrency }

// Run applies fn to every item and returns one Result per item, in
// submission order. It returns only after every item has resolved.
//
// A failing or panicking item never affects its siblings. An item that
// exceeds the per-item timeout resolves with Error "timeout"; its fn keeps
// the cancelled context and its late result is discarded, but it holds
// its concurrency slot until fn actually returns. If ctx ends
// before an item acquired a slot, the item resolves with ctx's error.
func Run[T, R any](ctx context.Context, r *Runner, items []Item[T], fn func(ctx context.Context, input T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	logger := r.logger.WithFields(log.Fields{"batch": r.name, "total": len(items)})
	started := time.Now()
	var done, failed int64

	var g errgroup.Group
	for i, item := range items {
		results[i].ID = item.ID

		if err := r.sem.Acquire(ctx, 1); err != nil {
			results[i].Error = err.Error()
			r.observe("error", 0)
			atomic.AddInt64(&failed, 1)
			continue
		}

		i, item := i, item
		g.Go(func() error {
			res := runOne(ctx, r.perItemTimeout, item, fn, func() { r.sem.Release(1) })
			results[i] = res

			status := "success"
			switch {
			case res.Error == ErrorTimeout:
				status = "timeout"
			case !res.Succeeded:
				status = "error"
			}
			r.observe(status, res.Elapsed)

			if !res.Succeeded {
				atomic.AddInt64(&failed, 1)
				logger.WithFields(log.Fields{
					"item_id":    item.ID,
					"elapsed_ms": res.Elapsed.Milliseconds(),
					"error":      res.Error,
				}).Warn("batch item failed")
			}

			if n := atomic.AddInt64(&done, 1); n%progressEvery == 0 {
				logger.WithFields(log.Fields{
					"done":       n,
					"failed":     atomic.LoadInt64(&failed),
					"elapsed_ms": time.Since(started).Milliseconds(),
				}).Info("batch progress")
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.WithFields(log.Fields{
		"failed":     failed,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("batch complete")

	return results
}

// runOne executes a single item under its own deadline. release is called
// once fn returns, which may be after runOne itself has given up.
func runOne[T, R any](ctx context.Context, timeout time.Duration, item Item[T], fn func(context.Context, T) (R, error), release func()) Result[R] {
	itemCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value R
		err   error
	}
	ch := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer release()
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := fn(itemCtx, item.Input)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case out := <-ch:
		res := Result[R]{ID: item.ID, Elapsed: time.Since(start)}
		if out.err != nil {
			res.Error = out.err.Error()
			if itemCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				res.Error = ErrorTimeout
			}
			return res
		}
		res.Value = out.value
		res.Succeeded = true
		return res

	case <-itemCtx.Done():
		res := Result[R]{ID: item.ID, Elapsed: time.Since(start)}
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
		} else {
			res.Error = ErrorTimeout
		}
		return res
	}
}

func (r *Runner) observe(status string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.ObserveItem(status, elapsed)
	}
}
