// Package workerpool bounds how many blocking calls (synthesis, encoding, file
// writes) run at once, and lets callers stop waiting on a call when their context
// is cancelled.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanic is returned when a submitted function panics.
var ErrPanic = errors.New("worker panicked")

// Pool is a fixed number of slots for blocking work.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

type result[T any] struct {
	value T
	err   error
}

// New creates a pool with maxWorkers slots. Values below one are raised to one.
func New(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &Pool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Submit runs fn on a pool slot and waits for its result. If ctx is cancelled
// first, Submit returns ctx.Err() immediately; fn keeps its slot until it returns
// and its result is discarded.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, fmt.Errorf("waiting for worker slot: %w", ctx.Err())
	}

	results := make(chan result[T], 1)

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		defer func() {
			recovered := recover()
			if recovered != nil {
				results <- result[T]{value: zero, err: fmt.Errorf("%w: %v", ErrPanic, recovered)}
			}
		}()

		value, err := fn()
		results <- result[T]{value: value, err: err}
	}()

	select {
	case res := <-results:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Wait blocks until every detached call has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
