package chunkstream

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testConn is a manually-completed Conn: each write's Promise is retained, in
// issue order, and completed by the test.
type testConn[T any] struct {
	mu      sync.Mutex
	writes  []T
	pending []*Promise
	flushes int
	reads   int
	active  atomic.Bool

	// deactivateAfter, if > 0, flips active to false once that many writes
	// have been issued
	deactivateAfter int
}

func newTestConn[T any]() *testConn[T] {
	var x testConn[T]
	x.active.Store(true)
	return &x
}

func (x *testConn[T]) Active() bool { return x.active.Load() }

func (x *testConn[T]) Write(msg T) Completion {
	x.mu.Lock()
	defer x.mu.Unlock()
	p := NewPromise()
	x.writes = append(x.writes, msg)
	x.pending = append(x.pending, p)
	if x.deactivateAfter > 0 && len(x.writes) >= x.deactivateAfter {
		x.active.Store(false)
	}
	return p
}

func (x *testConn[T]) Flush() {
	x.mu.Lock()
	x.flushes++
	x.mu.Unlock()
}

func (x *testConn[T]) Read() {
	x.mu.Lock()
	x.reads++
	x.mu.Unlock()
}

func (x *testConn[T]) complete(i int, err error) {
	x.mu.Lock()
	p := x.pending[i]
	x.mu.Unlock()
	p.Complete(err)
}

func (x *testConn[T]) snapshot() []T {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]T(nil), x.writes...)
}

func (x *testConn[T]) numWrites() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.writes)
}

func (x *testConn[T]) numFlushes() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushes
}

// testInput is a scripted Input, with error injection and close counting.
type testInput[T any] struct {
	mu       sync.Mutex
	chunks   []T
	finished bool // end of input once chunks drained
	readErr  error
	endErr   error
	closeErr error
	closes   int
}

func (x *testInput[T]) ReadChunk() (chunk T, ok bool, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.readErr != nil {
		err = x.readErr
		return
	}
	if len(x.chunks) == 0 {
		return
	}
	chunk = x.chunks[0]
	x.chunks = x.chunks[1:]
	ok = true
	return
}

func (x *testInput[T]) EndOfInput() (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.endErr != nil {
		return false, x.endErr
	}
	return x.finished && len(x.chunks) == 0, nil
}

func (x *testInput[T]) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closes++
	return x.closeErr
}

func (x *testInput[T]) push(chunks ...T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.chunks = append(x.chunks, chunks...)
}

func (x *testInput[T]) finish() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.finished = true
}

func (x *testInput[T]) numCloses() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closes
}

// releasable is a deliverable holding a releasable resource.
type releasable struct {
	released atomic.Int32
}

func (x *releasable) Release() { x.released.Add(1) }

// run executes fn on the executor, and waits for it to return.
func run(t *testing.T, exec Executor, fn func()) {
	t.Helper()
	done := make(chan struct{})
	exec.Execute(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal(`timed out waiting for executor task`)
	}
}

// waitResolved waits for fut to resolve, returning its error.
func waitResolved(t *testing.T, fut *Future) error {
	t.Helper()
	select {
	case <-fut.Done():
		return fut.Err()
	case <-time.After(time.Second * 5):
		t.Fatal(`timed out waiting for future`)
		return nil
	}
}

// requireUnresolved asserts fut has not resolved, after a short settle delay.
func requireUnresolved(t *testing.T, fut *Future) {
	t.Helper()
	time.Sleep(time.Millisecond * 20)
	select {
	case <-fut.Done():
		t.Fatal(`expected future to remain unresolved`, fut.Err())
	default:
	}
}

func TestNew_optionValidation(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{`defaults`, nil, ``},
		{`nil option`, []Option{nil}, ``},
		{`valid limit`, []Option{WithMaxPendingWrites(1)}, ``},
		{`zero limit`, []Option{WithMaxPendingWrites(0)}, `chunkstream: maxPendingWrites: 0 (expected > 0)`},
		{`negative limit`, []Option{WithMaxPendingWrites(-3)}, `chunkstream: maxPendingWrites: -3 (expected > 0)`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewSerialExecutor()
			defer exec.Close()
			writer, err := New[string](newTestConn[string](), exec, tc.opts...)
			if tc.wantErr != `` {
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf(`unexpected error: %v`, err)
				}
				if writer != nil {
					t.Error(`expected no writer`)
				}
				return
			}
			if err != nil || writer == nil {
				t.Fatal(writer, err)
			}
			defer writer.Close()
			if tc.opts == nil && writer.maxPending != DefaultMaxPendingWrites {
				t.Errorf(`unexpected default limit: %d`, writer.maxPending)
			}
		})
	}
}

// The configured limit is carried without truncation - a huge limit admits
// everything, rather than wrapping to a limit that stalls every write.
func TestNew_largeMaxPendingWrites(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[string]()
	writer, err := New[string](conn, exec, WithMaxPendingWrites(math.MaxInt))
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	if writer.maxPending != math.MaxInt {
		t.Fatal(writer.maxPending)
	}

	in := &testInput[string]{chunks: []string{`a`, `b`, `c`}, finished: true}
	var fut *Future
	run(t, exec, func() {
		fut = writer.WriteInput(in)
		writer.Flush()
	})

	if got := conn.snapshot(); !equalSlices(got, []string{`a`, `b`, `c`}) {
		t.Fatalf(`unexpected writes: %v`, got)
	}
	for i := 0; i < 3; i++ {
		conn.complete(i, nil)
	}
	if err := waitResolved(t, fut); err != nil {
		t.Fatal(err)
	}
}

func TestNew_nilConn(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	defer func() {
		if r := recover(); r != `chunkstream: nil conn` {
			t.Fatal(r)
		}
	}()
	_, _ = New[string](nil, exec)
}

func TestNew_nilExecutor(t *testing.T) {
	defer func() {
		if r := recover(); r != `chunkstream: nil executor` {
			t.Fatal(r)
		}
	}()
	_, _ = New[string](newTestConn[string](), nil)
}

func TestWriter_writeDoesNotDrain(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[string]()
	writer, err := New[string](conn, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	var fut *Future
	run(t, exec, func() { fut = writer.Write(`P1`) })

	requireUnresolved(t, fut)
	if n := conn.numWrites(); n != 0 {
		t.Fatalf(`expected no downstream writes before flush, got %d`, n)
	}
}

func TestWriter_plainPassthrough(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[string]()
	writer, err := New[string](conn, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	var fut1, fut2 *Future
	run(t, exec, func() {
		fut1 = writer.Write(`P1`)
		fut2 = writer.Write(`P2`)
		writer.Flush()
	})

	if got := conn.snapshot(); !equalSlices(got, []string{`P1`, `P2`}) {
		t.Fatalf(`unexpected writes: %v`, got)
	}
	// plain writes bypass the admission counter
	if n := writer.inFlight.Load(); n != 0 {
		t.Fatalf(`unexpected in-flight count: %d`, n)
	}
	if n := conn.numFlushes(); n != 2 {
		t.Fatalf(`unexpected flush count: %d`, n)
	}

	requireUnresolved(t, fut1)
	conn.complete(0, nil)
	if err := waitResolved(t, fut1); err != nil {
		t.Fatal(err)
	}
	conn.complete(1, nil)
	if err := waitResolved(t, fut2); err != nil {
		t.Fatal(err)
	}
	if n := fut1.Progress(); n != 0 {
		t.Fatalf(`unexpected progress for plain write: %d`, n)
	}
}

func TestWriter_plainWriteFailure(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[string]()
	writer, err := New[string](conn, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	var fut *Future
	run(t, exec, func() {
		fut = writer.Write(`P1`)
		writer.Flush()
	})

	wantErr := errStub(`write refused`)
	conn.complete(0, wantErr)
	if err := waitResolved(t, fut); err != wantErr { //nolint:errorlint
		t.Fatal(err)
	}
}

func TestWriter_plainWriteFailureReleases(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[any]()
	writer, err := New[any](conn, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	msg := new(releasable)
	var fut *Future
	run(t, exec, func() {
		fut = writer.Write(msg)
		writer.Flush()
	})

	conn.complete(0, errStub(`write refused`))
	_ = waitResolved(t, fut)
	if n := msg.released.Load(); n != 1 {
		t.Fatalf(`unexpected release count: %d`, n)
	}
}

func TestWriter_readPassthrough(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	conn := newTestConn[string]()
	writer, err := New[string](conn, exec)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	run(t, exec, func() { writer.Read() })

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.reads != 1 {
		t.Fatal(conn.reads)
	}
}

// errStub is a distinct error value with a fixed message.
type errStub string

func (x errStub) Error() string { return string(x) }

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	_ Conn[string]  = (*testConn[string])(nil)
	_ Input[string] = (*testInput[string])(nil)
	_ Input[[]byte] = (*ReaderInput)(nil)
	_ Input[string] = (*QueueInput[string])(nil)
	_ Executor      = (*SerialExecutor)(nil)
	_ Completion    = (*Promise)(nil)
	_ Releaser      = (*releasable)(nil)
)
