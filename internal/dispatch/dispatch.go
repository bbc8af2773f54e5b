// Package dispatch delivers completions on one designated goroutine, so
// callback code never needs its own synchronization.
package dispatch

import (
	"context"
	"sync"
)

// Queue runs posted functions one at a time in posting order. Post never
// blocks, so functions running on the queue may post more work.
type Queue struct {
	mu      sync.Mutex
	closed  bool
	pending []func()
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue starts the queue goroutine. buffer is the initial capacity of
// the pending list.
func NewQueue(buffer int) *Queue {
	q := &Queue{
		pending: make([]func(), 0, buffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		fns, closed := q.pending, q.closed
		q.pending = nil
		q.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
		switch {
		case len(fns) > 0:
		case closed:
			return
		default:
			<-q.wake
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Post schedules fn. It reports false when the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
	return true
}

// Close stops accepting work and waits for queued functions to finish. It
// must not be called from a function running on the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

// Future is the outcome of asynchronous remote work. It is resolved once.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewFuture() *Future { return &Future{done: make(chan struct{})} }

// Resolved returns an already completed future.
func Resolved(err error) *Future {
	f := NewFuture()
	f.Resolve(err)
	return f
}

// Resolve completes f; later calls are ignored.
func (f *Future) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the outcome, or nil while f is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until f resolves or ctx ends. Ending ctx does not cancel the
// underlying work.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnDone calls fn with the outcome on q, or on the resolving goroutine's
// behalf when q is nil or closed.
func (f *Future) OnDone(q *Queue, fn func(error)) {
	go func() {
		<-f.done
		err := f.err
		if q == nil || !q.Post(func() { fn(err) }) {
			fn(err)
		}
	}()
}
