package chunkstream

import (
	"errors"
)

// Standard errors.
var (
	// ErrConnectionClosed is the default cause used to fail pending writes
	// that are discarded because the connection became inactive before they
	// were fully delivered.
	ErrConnectionClosed = errors.New(`chunkstream: connection closed`)

	// ErrInputFinished is returned by QueueInput.Push once the input has been
	// finished or closed.
	ErrInputFinished = errors.New(`chunkstream: input already finished`)
)
