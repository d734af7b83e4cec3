package chunkstream

import (
	"context"
	"fmt"
)

type (
	// EventType discriminates Writer lifecycle events.
	EventType int32

	// Event is published to subscribers (see Writer.Subscribe) as the drain
	// loop makes, or fails to make, progress.
	Event struct {
		// Err is the failure cause, for EventResolved (nil on success) and
		// EventDiscarded.
		Err error

		// Type discriminates the event.
		Type EventType

		// Delivered is the number of chunks delivered so far, for
		// EventProgressed and EventResolved. The total is not known to the
		// writer.
		Delivered int64
	}
)

const (
	// EventSuspended indicates a producer had no chunk available - the
	// transfer is suspended until ResumeTransfer, or a later flush.
	EventSuspended EventType = iota + 1

	// EventProgressed indicates a (non-final) chunk was delivered.
	EventProgressed

	// EventResolved indicates a queued write was resolved, see Event.Err.
	EventResolved

	// EventDiscarded indicates the discard sweep resolved all outstanding
	// writes, because the connection became inactive.
	EventDiscarded
)

// String returns the string representation of the event type.
func (x EventType) String() string {
	switch x {
	case EventSuspended:
		return `suspended`
	case EventProgressed:
		return `progressed`
	case EventResolved:
		return `resolved`
	case EventDiscarded:
		return `discarded`
	default:
		return fmt.Sprintf(`unknown(%d)`, int32(x))
	}
}

// Subscribe accepts any `target` that is a channel which can accept Event
// values. The returned cancel func MUST be called, unless `ctx` is cancelled,
// or the Writer is closed.
// WARNING: Sends to `target` are blocking, and callers must therefore always
// receive promptly - a stalled subscriber stalls the drain loop.
func (x *Writer[T]) Subscribe(ctx context.Context, target any) context.CancelFunc {
	return x.notifier.SubscribeCancel(ctx, nil, target)
}

func (x *Writer[T]) publish(ev Event) {
	x.notifier.PublishContext(x.ctx, nil, ev)
}
