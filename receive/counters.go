package receive

import "sync/atomic"

// Counters aggregates delivery accounting for a consumer. The fields are
// atomics because the engine may hand events over from more than one
// receive thread, and metrics collectors read them while the loop runs.
type Counters struct {
	received    atomic.Int64
	bytes       atomic.Int64
	writeErrors atomic.Int64
}

// Received returns the number of events delivered so far.
func (c *Counters) Received() int64 { return c.received.Load() }

// Bytes returns the payload bytes delivered so far.
func (c *Counters) Bytes() int64 { return c.bytes.Load() }

// WriteErrors returns the number of events that failed to persist.
func (c *Counters) WriteErrors() int64 { return c.writeErrors.Load() }

// Snapshot is a point-in-time copy of the counters, used by the progress
// printer and broadcast to monitor subscribers.
type Snapshot struct {
	Received    int64 `json:"received"`
	Bytes       int64 `json:"bytes"`
	WriteErrors int64 `json:"write_errors"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:    c.received.Load(),
		Bytes:       c.bytes.Load(),
		WriteErrors: c.writeErrors.Load(),
	}
}
