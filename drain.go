package chunkstream

// drain is the core flow-control algorithm. It is re-entered from Flush,
// ConnInactive, and ResumeTransfer, and always runs on the owning execution
// context. It moves writes from the queue to the connection while the
// admission controller admits, suspending when a producer has no chunk, and
// diverting to the discard sweep whenever the connection is inactive.
func (x *Writer[T]) drain() {
	if !x.conn.Active() {
		x.discard(nil)
		return
	}

	for x.writable() {
		if x.current == nil {
			if len(x.queue) == 0 {
				break // nothing to do
			}
			x.current = x.queue[0]
			x.queue[0] = nil
			x.queue = x.queue[1:]
		}

		cw := x.current

		if cw.input != nil {
			chunk, ok, err := cw.input.ReadChunk()
			var end bool
			if err == nil {
				end, err = cw.input.EndOfInput()
			}
			if err != nil {
				x.current = nil
				if ok {
					// a chunk was obtained before the failure
					release(chunk)
				}
				x.resolveFailure(cw, err)
				x.fireError(err)
				x.closeInput(cw.input)
				return
			}

			if !ok && !end {
				// no chunk available, and not finished - leave the slot
				// populated, and wait for ResumeTransfer or a later flush
				x.publish(Event{Type: EventSuspended})
				return
			}

			var msg T
			if ok {
				msg = chunk
			}
			// else: write the zero value, so a concrete terminal write
			// still occurs

			x.inFlight.Add(1)
			c := x.conn.Write(msg)
			prev, next := x.chainTokens()
			switch {
			case end:
				// clear the slot now, so the next queued write can start
				// before this write's completion arrives
				x.current = nil
				go x.completeTerminal(c, cw, prev, next)
			case x.writable():
				go x.completeChunk(c, cw, prev, next)
			default:
				// this write saturated the admission controller - its
				// completion must wake the drain loop itself, rather than
				// waiting for an external flush
				go x.completeSaturated(c, cw, prev, next)
			}
		} else {
			c := x.conn.Write(cw.msg)
			x.current = nil
			prev, next := x.chainTokens()
			go x.completePlain(c, cw, prev, next)
		}

		x.conn.Flush()

		if !x.conn.Active() {
			x.discard(ErrConnectionClosed)
			return
		}
	}
}

// chainTokens returns the ordering tokens for a newly issued downstream
// write. Completions signal on independent goroutines, so each continuation
// waits for the preceding write's token before submitting its on-context
// effects, and closes its own token once submitted - effects (progress,
// resolution, failure) apply in issue order, as if all of them ran on a
// single completion thread. Must be called on the owning execution context.
func (x *Writer[T]) chainTokens() (prev, next chan struct{}) {
	prev = x.chain
	next = make(chan struct{})
	x.chain = next
	return
}

// completeTerminal resolves a chunked write whose final chunk was issued.
// The admission counter is released at signal time; everything else is
// applied on the owning execution context, after all preceding writes'
// effects. The input is only closed once the write completes, as the final
// chunk may hold resources that cannot be released before it has been
// written.
func (x *Writer[T]) completeTerminal(c Completion, cw *pendingWrite[T], prev, next chan struct{}) {
	<-c.Done()
	x.inFlight.Add(-1)
	if prev != nil {
		<-prev
	}
	x.exec.Execute(func() {
		x.resolveSuccess(cw)
		x.closeInput(cw.input)
	})
	close(next)
}

// completeChunk observes the outcome of an intermediate chunk write, issued
// while the admission controller still admitted further writes. Progress and
// failure both apply on the owning execution context - the write may still
// occupy the current-write slot, and the discard sweep may already have
// resolved it there.
func (x *Writer[T]) completeChunk(c Completion, cw *pendingWrite[T], prev, next chan struct{}) {
	<-c.Done()
	x.inFlight.Add(-1)
	x.applyOutcome(c, cw, prev, next)
}

// completeSaturated is completeChunk for a write that saturated the
// admission controller: on success it re-invokes the resume protocol at
// signal time, if capacity has been freed, to keep the drain loop moving.
func (x *Writer[T]) completeSaturated(c Completion, cw *pendingWrite[T], prev, next chan struct{}) {
	<-c.Done()
	x.inFlight.Add(-1)
	if c.Err() == nil && x.writable() {
		x.ResumeTransfer()
	}
	x.applyOutcome(c, cw, prev, next)
}

// applyOutcome submits an intermediate chunk write's effects to the owning
// execution context, in issue order (see chainTokens).
func (x *Writer[T]) applyOutcome(c Completion, cw *pendingWrite[T], prev, next chan struct{}) {
	if prev != nil {
		<-prev
	}
	if err := c.Err(); err != nil {
		x.exec.Execute(func() { x.failCurrent(cw, err) })
	} else {
		x.exec.Execute(func() { x.recordProgress(cw) })
	}
	close(next)
}

// failCurrent fails a chunked write whose downstream chunk write failed,
// run on the owning execution context. The write may still occupy the
// current-write slot - it is evicted, so later passes never read from its
// (now closed) input.
func (x *Writer[T]) failCurrent(cw *pendingWrite[T], err error) {
	if x.current == cw {
		x.current = nil
	}
	x.closeInput(cw.input)
	x.resolveFailure(cw, err)
}

// completePlain carries a non-chunked write's completion to its Future, in
// issue order relative to the other outstanding writes.
func (x *Writer[T]) completePlain(c Completion, cw *pendingWrite[T], prev, next chan struct{}) {
	<-c.Done()
	if prev != nil {
		<-prev
	}
	if err := c.Err(); err != nil {
		x.exec.Execute(func() { x.resolveFailure(cw, err) })
	} else {
		x.exec.Execute(func() { x.resolveSuccess(cw) })
	}
	close(next)
}

// discard is the cancellation sweep, run when the connection is or becomes
// inactive. It resolves every outstanding write exactly once: inputs that
// report end-of-input resolve success (the data was already fully delivered,
// or logically complete), everything else fails with cause.
func (x *Writer[T]) discard(cause error) {
	if cause == nil {
		cause = ErrConnectionClosed
	}

	var discarded bool
	for {
		cw := x.current
		if cw != nil {
			x.current = nil
		} else if len(x.queue) != 0 {
			cw = x.queue[0]
			x.queue[0] = nil
			x.queue = x.queue[1:]
		} else {
			break
		}

		if cw.input != nil {
			if end, err := cw.input.EndOfInput(); err != nil {
				x.resolveFailure(cw, err)
				x.logger.Warning().Err(err).Log(`chunkstream: end-of-input check failed during discard`)
			} else if end {
				x.resolveSuccess(cw)
			} else {
				x.resolveFailure(cw, cause)
			}
			x.closeInput(cw.input)
		} else {
			x.resolveFailure(cw, cause)
		}
		discarded = true
	}

	if discarded {
		x.publish(Event{Type: EventDiscarded, Err: cause})
	}
}

func (x *Writer[T]) resolveSuccess(cw *pendingWrite[T]) {
	if cw.fut.succeed() {
		x.publish(Event{Type: EventResolved, Delivered: cw.fut.Progress()})
	}
}

func (x *Writer[T]) resolveFailure(cw *pendingWrite[T], cause error) {
	if cw.fail(cause) {
		x.publish(Event{Type: EventResolved, Err: cause, Delivered: cw.fut.Progress()})
	}
}

func (x *Writer[T]) recordProgress(cw *pendingWrite[T]) {
	select {
	case <-cw.fut.done:
		// resolved writes record no further progress
		return
	default:
	}
	x.publish(Event{Type: EventProgressed, Delivered: cw.fut.progress.Add(1)})
}

// fireError dispatches a producer failure to the pipeline's error-reporting
// path, inline if already on the owning execution context, else scheduled
// onto it.
func (x *Writer[T]) fireError(err error) {
	if x.exec.InContext() {
		x.handleError(err)
	} else {
		x.exec.Execute(func() { x.handleError(err) })
	}
}

func (x *Writer[T]) handleError(err error) {
	if x.errorHandler != nil {
		x.errorHandler(err)
		return
	}
	x.logger.Err().Err(err).Log(`chunkstream: unhandled pipeline error`)
}

// closeInput closes in, logging failure - cleanup must never itself block
// delivery or cancellation.
func (x *Writer[T]) closeInput(in Input[T]) {
	if err := in.Close(); err != nil {
		x.logger.Warning().Err(err).Log(`chunkstream: failed to close chunked input`)
	}
}
