// Package pool provides a bounded, reusable worker pool for typed work
// items.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrFailed is returned by Submit once a handler reported a fatal error.
// The error itself is returned by Join.
var ErrFailed = errors.New("worker pool failed")

// Handler processes one item. A non-nil error is fatal for the pool: no
// further items are accepted and Join reports it.
type Handler[T any] func(ctx context.Context, item T) error

// Pool runs a handler over submitted items with a fixed number of
// concurrent workers. Submit blocks while all workers are busy.
type Pool[T any] struct {
	name    string
	handler Handler[T]
	group   errgroup.Group

	mu  sync.Mutex
	err error

	submitted atomic.Int64
	completed atomic.Int64
}

// New creates a pool with the given worker count (minimum 1).
func New[T any](name string, workers int, handler Handler[T]) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	p := &Pool[T]{name: name, handler: handler}
	p.group.SetLimit(workers)
	return p
}

// Name returns the pool name used in errors.
func (p *Pool[T]) Name() string { return p.name }

// Submit hands item to a worker, waiting for a free one. It fails if ctx is
// done or the pool has already failed. An accepted item runs to completion:
// the handler sees ctx's values but not its cancellation.
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.failed() {
		return fmt.Errorf("%s: %w", p.name, ErrFailed)
	}

	hctx := context.WithoutCancel(ctx)
	p.submitted.Add(1)
	p.group.Go(func() error {
		defer p.completed.Add(1)
		if p.failed() {
			return nil
		}
		if err := p.handler(hctx, item); err != nil {
			p.fail(err)
		}
		return nil
	})
	return nil
}

// Join blocks until every submitted item has completed and returns the
// first fatal handler error. The pool stays usable after Join unless it
// failed.
func (p *Pool[T]) Join() error {
	_ = p.group.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return fmt.Errorf("%s: %w", p.name, p.err)
	}
	return nil
}

// Stats returns the number of submitted and completed items.
func (p *Pool[T]) Stats() (submitted, completed int64) {
	return p.submitted.Load(), p.completed.Load()
}

func (p *Pool[T]) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

func (p *Pool[T]) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}
