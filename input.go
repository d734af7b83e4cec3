package chunkstream

import (
	"io"
	"sync"
)

// DefaultChunkSize is the chunk size used by NewReaderInput, if none is
// specified.
const DefaultChunkSize = 8192

type (
	// ReaderInput adapts an io.Reader into an Input of byte chunks, at most
	// chunkSize bytes each. A read returning no data and no error maps to
	// "no chunk currently available", suspending the transfer. End of input
	// is reported once the reader returns io.EOF.
	ReaderInput struct {
		reader    io.Reader
		err       error // deferred read error, surfaced after the final chunk
		chunkSize int
		eof       bool
		closed    bool
	}

	// QueueInput is a concurrency-safe Input fed incrementally by an
	// external producer, via Push and Finish. It returns "no chunk, not
	// exhausted" whenever drained faster than it is fed, making it the
	// natural pairing with Writer.ResumeTransfer for payloads produced
	// on an external event or timing.
	QueueInput[T any] struct {
		resume   func()
		chunks   []T
		mu       sync.Mutex
		finished bool
		closed   bool
	}
)

// NewReaderInput initializes a new ReaderInput reading from r. A chunkSize
// <= 0 selects DefaultChunkSize. Providing a nil reader will panic.
func NewReaderInput(r io.Reader, chunkSize int) *ReaderInput {
	if r == nil {
		panic(`chunkstream: nil reader`)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderInput{reader: r, chunkSize: chunkSize}
}

// ReadChunk reads the next chunk, of up to the configured chunk size.
func (x *ReaderInput) ReadChunk() ([]byte, bool, error) {
	if x.err != nil {
		return nil, false, x.err
	}
	if x.eof {
		return nil, false, nil
	}
	buf := make([]byte, x.chunkSize)
	n, err := x.reader.Read(buf)
	switch {
	case err == io.EOF:
		x.eof = true
	case err != nil:
		if n == 0 {
			x.err = err
			return nil, false, err
		}
		x.err = err // deliver the data first, per the io.Reader contract
	}
	if n == 0 {
		return nil, false, nil
	}
	return buf[:n:n], true, nil
}

// EndOfInput reports whether the reader has returned io.EOF.
func (x *ReaderInput) EndOfInput() (bool, error) {
	return x.eof, nil
}

// Close closes the underlying reader, if it is an io.Closer. Idempotent.
func (x *ReaderInput) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true
	if c, ok := x.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewQueueInput initializes a new QueueInput. resume, if non-nil, is invoked
// after each Push and after Finish - pass Writer.ResumeTransfer to drive
// suspended transfers automatically.
func NewQueueInput[T any](resume func()) *QueueInput[T] {
	return &QueueInput[T]{resume: resume}
}

// Push appends a chunk, to be delivered after all previously pushed chunks.
// Safe to call from any goroutine. Returns ErrInputFinished once the input
// has been finished or closed - the chunk is released (see Releaser) in that
// case, as it will never be written.
func (x *QueueInput[T]) Push(chunk T) error {
	x.mu.Lock()
	if x.finished || x.closed {
		x.mu.Unlock()
		release(chunk)
		return ErrInputFinished
	}
	x.chunks = append(x.chunks, chunk)
	x.mu.Unlock()
	if x.resume != nil {
		x.resume()
	}
	return nil
}

// Finish marks production as logically complete: once all previously pushed
// chunks are delivered, the input reports end of input. Idempotent, safe to
// call from any goroutine.
func (x *QueueInput[T]) Finish() {
	x.mu.Lock()
	finished := x.finished
	x.finished = true
	x.mu.Unlock()
	if !finished && x.resume != nil {
		x.resume()
	}
}

// ReadChunk pops the oldest pushed chunk, if any.
func (x *QueueInput[T]) ReadChunk() (chunk T, ok bool, _ error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.chunks) == 0 {
		return
	}
	chunk = x.chunks[0]
	var zero T
	x.chunks[0] = zero
	x.chunks = x.chunks[1:]
	ok = true
	return
}

// EndOfInput reports whether Finish was called and all chunks delivered.
func (x *QueueInput[T]) EndOfInput() (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.finished && len(x.chunks) == 0, nil
}

// Close releases any undelivered chunks (see Releaser), and causes further
// pushes to fail. Idempotent, safe to call from any goroutine.
func (x *QueueInput[T]) Close() error {
	x.mu.Lock()
	chunks := x.chunks
	x.chunks = nil
	x.closed = true
	x.mu.Unlock()
	for _, chunk := range chunks {
		release(chunk)
	}
	return nil
}
