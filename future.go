package chunkstream

import (
	"context"
	"sync"
	"sync/atomic"
)

type (
	// Future is the caller-visible completion of a queued write. It resolves
	// exactly once, to success or failure, regardless of how many drain
	// passes the write spans - later resolution attempts are no-ops.
	Future struct {
		err      error
		done     chan struct{}
		progress atomic.Int64
		once     sync.Once
	}

	// Promise is a transport-side write completion, implementing Completion.
	// Transports that issue writes asynchronously return the Promise from
	// Conn.Write, then call Complete once the write outcome is known.
	Promise struct {
		err  error
		done chan struct{}
		once sync.Once
	}
)

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel that is closed once the write has been resolved.
func (x *Future) Done() <-chan struct{} {
	return x.done
}

// Err returns the failure cause, nil on success. Only valid once the channel
// returned by Done is closed - it returns nil while the write is pending.
func (x *Future) Err() error {
	select {
	case <-x.done:
		return x.err
	default:
		return nil
	}
}

// Wait blocks until the write is resolved, returning its failure cause, or
// until ctx cancels, returning the context error.
func (x *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-x.done:
		return x.err
	}
}

// Progress returns the number of chunks delivered downstream so far. The
// total is not known to the writer. Always 0 for non-chunked writes, which
// resolve in a single pass.
func (x *Future) Progress() int64 {
	return x.progress.Load()
}

func (x *Future) succeed() bool {
	return x.resolve(nil)
}

func (x *Future) fail(cause error) bool {
	if cause == nil {
		panic(`chunkstream: nil failure cause`)
	}
	return x.resolve(cause)
}

// resolve reports whether this call resolved the future - only the first
// resolution is observable.
func (x *Future) resolve(cause error) (resolved bool) {
	x.once.Do(func() {
		x.err = cause
		close(x.done)
		resolved = true
	})
	return
}

// NewPromise initializes a new Promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Complete resolves the promise, nil err indicating success. It reports
// whether this call resolved the promise - subsequent calls are no-ops.
func (x *Promise) Complete(err error) (resolved bool) {
	x.once.Do(func() {
		x.err = err
		close(x.done)
		resolved = true
	})
	return
}

// Done returns a channel that is closed once the promise has been completed.
func (x *Promise) Done() <-chan struct{} {
	return x.done
}

// Err returns the write failure, nil on success. Only valid once the channel
// returned by Done is closed.
func (x *Promise) Err() error {
	select {
	case <-x.done:
		return x.err
	default:
		return nil
	}
}
