package chunkstream

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultMaxPendingWrites is the number of unacknowledged downstream writes
// allowed at any one time, unless overridden via WithMaxPendingWrites.
const DefaultMaxPendingWrites = 4

// writerOptions holds configuration options for Writer creation.
type writerOptions struct {
	maxPendingWrites int
	logger           *logiface.Logger[logiface.Event]
	errorHandler     func(error)
}

// Option configures a Writer instance.
type Option interface {
	applyWriter(*writerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyWriterFunc func(*writerOptions) error
}

func (x *optionImpl) applyWriter(opts *writerOptions) error {
	return x.applyWriterFunc(opts)
}

// WithMaxPendingWrites sets the maximum number of downstream writes that may
// be in flight (written but not yet acknowledged) at any one time. The drain
// loop will not issue another downstream write while at the limit.
//
// Values <= 0 are invalid, and will cause New to fail.
func WithMaxPendingWrites(n int) Option {
	return &optionImpl{func(opts *writerOptions) error {
		if n <= 0 {
			return fmt.Errorf(`chunkstream: maxPendingWrites: %d (expected > 0)`, n)
		}
		opts.maxPendingWrites = n
		return nil
	}}
}

// WithLogger configures structured logging for the Writer. A nil logger (also
// the default) disables logging. Only cleanup and recovery failures are
// logged, e.g. an input that errors on close - everything caller-actionable
// is surfaced via the relevant Future instead.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *writerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithErrorHandler routes producer read failures further along the pipeline,
// e.g. to close the connection. The handler is always invoked on the owning
// execution context, in addition to (after) the corresponding write's Future
// being failed. The default handler logs at error level.
func WithErrorHandler(handler func(error)) Option {
	return &optionImpl{func(opts *writerOptions) error {
		opts.errorHandler = handler
		return nil
	}}
}

// resolveOptions applies Option instances to writerOptions.
func resolveOptions(opts []Option) (*writerOptions, error) {
	cfg := &writerOptions{
		maxPendingWrites: DefaultMaxPendingWrites,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // skip nil options gracefully
		}
		if err := opt.applyWriter(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
