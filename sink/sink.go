// Package sink persists reassembled event records on the receive side.
//
// A Sink sees records in arrival order, one call per reassembled event.
// The receive loop treats Store failures as countable, not fatal: it logs,
// increments the write-error counter and moves on, so implementations
// should return an error per failed record rather than poisoning the
// whole run.
package sink

import "context"

// Record is one reassembled event as handed over by the transport engine.
type Record struct {
	// Num is the event number assigned by the sender.
	Num uint64

	// DataID identifies the originating stream.
	DataID uint16

	// Data is the event payload. It is valid only for the duration of
	// Store; implementations that keep it must copy it.
	Data []byte
}

// Sink persists records. Implementations must be safe for concurrent use:
// the engine may run more than one receive thread.
type Sink interface {
	Store(ctx context.Context, rec Record) error
	Close() error
}
