package chunkstream

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// SerialExecutor is a single-goroutine Executor implementation, suitable as
// the owning execution context of a connection when no external event loop
// provides one. Tasks run in submission order, never concurrently.
//
// Instances must be initialized using the NewSerialExecutor factory.
type SerialExecutor struct {
	goroutineID atomic.Uint64
	mu          sync.Mutex
	tasks       []func()
	wake        chan struct{}
	done        chan struct{}
	stopped     bool
}

// NewSerialExecutor initializes a new SerialExecutor, starting its goroutine.
// The SerialExecutor.Close method should be called when the executor is no
// longer needed.
func NewSerialExecutor() *SerialExecutor {
	x := SerialExecutor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go x.run()
	return &x
}

// InContext reports whether the caller is running on the executor goroutine.
func (x *SerialExecutor) InContext() bool {
	id := x.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// Execute schedules fn to run on the executor goroutine. It never blocks.
// Tasks submitted after Close are discarded. Providing a nil fn will panic.
func (x *SerialExecutor) Execute(fn func()) {
	if fn == nil {
		panic(`chunkstream: nil task`)
	}
	x.mu.Lock()
	if !x.stopped {
		x.tasks = append(x.tasks, fn)
	}
	x.mu.Unlock()
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// Close stops the executor, after running all already-submitted tasks, and
// blocks until it has finished.
//
// This method is unsafe to call from within a task.
func (x *SerialExecutor) Close() error {
	x.mu.Lock()
	x.stopped = true
	x.mu.Unlock()
	select {
	case x.wake <- struct{}{}:
	default:
	}
	<-x.done
	return nil
}

func (x *SerialExecutor) run() {
	defer close(x.done)

	x.goroutineID.Store(getGoroutineID())
	defer x.goroutineID.Store(0)

	for {
		x.mu.Lock()
		tasks := x.tasks
		x.tasks = nil
		stopped := x.stopped
		x.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}

		if len(tasks) != 0 {
			continue // tasks may have submitted more
		}
		if stopped {
			return
		}
		<-x.wake
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
