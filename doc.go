// Package chunkstream adds support for writing large or slow-to-produce data
// streams to a connection asynchronously, without buffering the whole payload
// in memory, and without starving the transport of forward progress.
//
// Outbound payloads are queued as either plain deliverables (Writer.Write) or
// chunked inputs (Writer.WriteInput), and drained to the transport in strict
// enqueue order, with a bounded number of unacknowledged downstream writes in
// flight at any one time. Every queued write's Future is resolved exactly
// once - by delivery, by failure, or by the discard sweep run when the
// connection becomes inactive.
//
// # Sending a stream which generates a chunk intermittently
//
// Some inputs generate a chunk on a certain event or timing. Such an Input
// implementation often has no chunk available when drained, resulting in an
// indefinitely suspended transfer. To resume the transfer when a new chunk is
// available, call Writer.ResumeTransfer - or use QueueInput, which does so
// for you.
package chunkstream
