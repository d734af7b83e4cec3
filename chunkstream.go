package chunkstream

import (
	"context"
	"sync/atomic"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"github.com/joeycumines/logiface"
)

type (
	// Conn models the transport/connection that the Writer feeds. All
	// methods are called from the owning execution context, though the
	// Completion returned by Write may resolve on any goroutine.
	Conn[T any] interface {
		// Active reports whether the connection can still accept writes.
		// Once it returns false, all outstanding writes are discarded.
		Active() bool

		// Write issues msg downstream, returning its asynchronous outcome.
		Write(msg T) Completion

		// Flush propagates a flush signal, e.g. flushing buffered writes to
		// the underlying socket.
		Flush()

		// Read requests more inbound data. Pass-through, see Writer.Read.
		Read()
	}

	// Executor models the single-threaded execution context that owns a
	// connection. All Writer state mutations are serialized on it.
	Executor interface {
		// InContext reports whether the caller is running on this context.
		InContext() bool

		// Execute schedules fn to run on this context.
		Execute(fn func())
	}

	// Completion models the asynchronous outcome of a transport write. The
	// channel returned by Done must be closed once the outcome is known, at
	// which point Err returns the failure cause (nil on success).
	//
	// See also Promise, an implementation for use by transports.
	Completion interface {
		Done() <-chan struct{}
		Err() error
	}

	// Input produces an outbound payload incrementally, in bounded-size
	// chunks, so arbitrarily large or slow-to-produce payloads never need to
	// be buffered whole.
	//
	// All methods except Close are called from the owning execution context.
	Input[T any] interface {
		// ReadChunk returns the next chunk of the payload. ok is false when
		// no chunk is currently available - if production is not finished,
		// the transfer suspends until ResumeTransfer (or a later flush).
		ReadChunk() (chunk T, ok bool, err error)

		// EndOfInput reports whether production is logically finished.
		EndOfInput() (bool, error)

		// Close releases any resources held by the input. It must be
		// idempotent - the Writer closes it at least once, on every exit
		// path, and a discarded write whose last chunk later fails will see
		// a repeat close. Failures are logged, never propagated.
		Close() error
	}

	// Releaser is implemented by deliverables holding resources that must be
	// released once the deliverable will no longer be written, e.g. pooled
	// buffers. The Writer releases chunks obtained from a failing producer,
	// and plain deliverables that are failed without being written.
	Releaser interface {
		Release()
	}

	// Writer is a streaming-write flow controller: it accepts queued writes
	// of either plain deliverables or chunked Inputs, and drains them to the
	// Conn in strict enqueue order, at most maxPendingWrites downstream
	// writes in flight at a time.
	//
	// Write, WriteInput, Flush, ConnInactive, and Read must be called on the
	// owning execution context. ResumeTransfer and Subscribe may be called
	// from any goroutine. Every queued write's Future is resolved exactly
	// once, by delivery, failure, or the discard sweep.
	//
	// Instances must be initialized using the New factory.
	Writer[T any] struct {
		conn         Conn[T]
		exec         Executor
		logger       *logiface.Logger[logiface.Event]
		errorHandler func(error)
		ctx          context.Context
		cancel       context.CancelFunc
		notifier     bigbuff.Notifier
		queue        []*pendingWrite[T]
		current      *pendingWrite[T] // spans drain passes until resolved
		chain        chan struct{}    // issue-order token, see chainTokens
		inFlight     atomic.Int64     // updated from completion goroutines
		maxPending   int
	}

	// pendingWrite models one queued write. The payload is either a plain
	// deliverable (input nil) or a chunked input, decided at enqueue time.
	pendingWrite[T any] struct {
		msg   T
		input Input[T]
		fut   *Future
	}
)

// New initializes a new Writer draining to conn, serialized on exec. A panic
// will occur if conn or exec is nil; invalid options cause an error, and no
// Writer is created.
//
// The Writer.Close method should be called once the connection attachment is
// torn down, to release any event subscribers.
func New[T any](conn Conn[T], exec Executor, opts ...Option) (*Writer[T], error) {
	if conn == nil {
		panic(`chunkstream: nil conn`)
	}
	if exec == nil {
		panic(`chunkstream: nil executor`)
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	writer := Writer[T]{
		conn:         conn,
		exec:         exec,
		logger:       cfg.logger,
		errorHandler: cfg.errorHandler,
		maxPending:   cfg.maxPendingWrites,
	}
	writer.ctx, writer.cancel = context.WithCancel(context.Background())

	return &writer, nil
}

// Write enqueues a plain deliverable. It never blocks, and does not trigger
// draining by itself - call Flush to start delivery. The returned Future
// resolves once the downstream write completes, or the write is discarded.
func (x *Writer[T]) Write(msg T) *Future {
	fut := newFuture()
	x.queue = append(x.queue, &pendingWrite[T]{msg: msg, fut: fut})
	return fut
}

// WriteInput enqueues a chunked write. It never blocks, and does not trigger
// draining by itself - call Flush to start delivery. The returned Future
// resolves once the input reports end-of-input and the final chunk's
// downstream write completes, or the write fails or is discarded.
//
// A panic will occur if in is nil.
func (x *Writer[T]) WriteInput(in Input[T]) *Future {
	if in == nil {
		panic(`chunkstream: nil input`)
	}
	fut := newFuture()
	x.queue = append(x.queue, &pendingWrite[T]{input: in, fut: fut})
	return fut
}

// Flush starts or continues draining queued writes. A flush while saturated
// on an active connection is a no-op - the drain loop wakes itself when the
// saturating write completes.
func (x *Writer[T]) Flush() {
	if x.writable() || !x.conn.Active() {
		x.drain()
	}
}

// ConnInactive must be called when the connection becomes inactive, before
// the inactivation is propagated further along the pipeline. It resolves
// every outstanding write exactly once, via the discard sweep.
func (x *Writer[T]) ConnInactive() {
	x.drain()
}

// ResumeTransfer continues to fetch chunks from a suspended input, e.g. once
// an intermittent producer has more data available. Unlike the other entry
// points it may be called from any goroutine - the drain loop is run inline
// when already on the owning execution context, and scheduled onto it
// otherwise. Errors escaping a resume-triggered drain are logged, not
// propagated - all caller-visible failures are routed through the relevant
// write's Future.
func (x *Writer[T]) ResumeTransfer() {
	if x.exec.InContext() {
		x.resumeDrain()
	} else {
		x.exec.Execute(x.resumeDrain)
	}
}

// Read requests more inbound data from the connection. Pass-through - the
// Writer only intercepts the outbound path.
func (x *Writer[T]) Read() {
	x.conn.Read()
}

// Close releases any event subscribers (see Subscribe). It does not resolve
// pending writes - on connection loss, ConnInactive does that first.
func (x *Writer[T]) Close() error {
	x.cancel()
	return nil
}

func (x *Writer[T]) resumeDrain() {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Warning().Field(`panic`, r).Log(`chunkstream: unexpected panic while sending chunks`)
		}
	}()
	x.drain()
}

// writable reports whether the admission controller admits another
// downstream write.
func (x *Writer[T]) writable() bool {
	return x.inFlight.Load() < int64(x.maxPending)
}

// fail resolves the write as failed, releasing a plain deliverable that will
// no longer be written. Chunked inputs are closed separately, via closeInput.
// It reports whether this call resolved the write.
func (p *pendingWrite[T]) fail(cause error) bool {
	if !p.fut.fail(cause) {
		return false
	}
	if p.input == nil {
		release(p.msg)
	}
	return true
}

// release invokes Release on deliverables that hold releasable resources.
func release(msg any) {
	if r, ok := msg.(Releaser); ok {
		r.Release()
	}
}
