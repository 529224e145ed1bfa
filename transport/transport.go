package transport

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueFull reports that the segmenter's send queue had no room for the
// payload. It is the only transient enqueue failure: callers back off and
// retry, any other error is terminal for the stream.
var ErrQueueFull = errors.New("segmenter send queue full")

// SendConfig carries the engine parameters for the sending side.
type SendConfig struct {
	// DataID tags every frame so receivers can tell streams apart.
	DataID uint16
	// SourceID identifies this sender to the load balancer.
	SourceID uint32
	// MTU bounds the size of a single frame on the wire.
	MTU int
	// RateGbps paces the send side; zero disables pacing.
	RateGbps float64
}

// RecvConfig carries the engine parameters for the receiving side.
type RecvConfig struct {
	// ListenHost is the local address the engine binds for data frames.
	ListenHost string
	// Port is the base data port.
	Port int
	// Threads is the engine-internal receive parallelism.
	Threads int
	// EventTimeout is how long the engine waits for the remaining
	// fragments of a partially reassembled event before declaring it lost.
	EventTimeout time.Duration
}

// SendStats is a snapshot of the segmenter's wire-side counters.
type SendStats struct {
	// Frames is the number of frames the engine has put on the wire.
	Frames int64
	// Errors counts wire-level send failures. Queue-full rejections are
	// not errors; the caller retries those.
	Errors int64
}

// RecvStats is a snapshot of the reassembler's counters.
type RecvStats struct {
	Packets        int64 // data frames received
	Bytes          int64 // payload bytes delivered
	Delivered      int64 // events successfully reassembled and queued
	ReassemblyLoss int64 // events declared lost waiting for fragments
	EnqueueLoss    int64 // events dropped because the delivery queue was full
	DataErrors     int64 // malformed data frames
	ControlErrors  int64 // control-plane failures observed by the engine
}

// Segmenter is the sending half of the engine. Implementations must be safe
// for concurrent use; the pipeline shares one segmenter across all stream
// workers.
type Segmenter interface {
	// Enqueue hands payload to the engine under event number num.
	// entropy feeds the engine's port selection. release fires exactly
	// once when the engine no longer needs payload's memory; it is not
	// called when Enqueue returns an error. Returns ErrQueueFull when the
	// send queue is out of room.
	Enqueue(payload []byte, num uint64, entropy uint16, release func()) error
	Stats() SendStats
	// Close flushes queued payloads and shuts the send side down.
	Close() error
}

// Reassembler is the receiving half of the engine.
type Reassembler interface {
	// Receive blocks up to timeout for the next reassembled event.
	// ok is false when the timeout elapsed with nothing to deliver;
	// that is not an error.
	Receive(timeout time.Duration) (Delivery, bool, error)
	Stats() RecvStats
	// NextLostEvent pops the next loss report, if any. Drained by the
	// consumer when the run stops.
	NextLostEvent() (LostEvent, bool)
	Close() error
}

// LostEvent reports an event the engine gave up reassembling.
type LostEvent struct {
	Num    uint64
	DataID uint16
	// Frags is how many fragments had arrived before the event was
	// declared lost.
	Frags int
}

// Delivery is one reassembled event handed to the consumer. The engine owns
// Data until Release is called; copies of a Delivery share the same release
// token, so Release stays single-shot no matter which copy invokes it.
type Delivery struct {
	Num    uint64
	DataID uint16
	Data   []byte

	token *releaseToken
}

type releaseToken struct {
	done atomic.Bool
	fn   func()
}

// NewDelivery builds a Delivery whose Release invokes free exactly once.
// Engines call this; free may be nil for static payloads.
func NewDelivery(num uint64, dataID uint16, data []byte, free func()) Delivery {
	return Delivery{
		Num:    num,
		DataID: dataID,
		Data:   data,
		token:  &releaseToken{fn: free},
	}
}

// Release returns Data to the engine. The first call wins and reports true;
// later calls (from any copy of this Delivery) report false and do nothing.
func (d Delivery) Release() bool {
	if d.token == nil || !d.token.done.CompareAndSwap(false, true) {
		return false
	}
	if d.token.fn != nil {
		d.token.fn()
	}
	return true
}

// Released reports whether Release has already run.
func (d Delivery) Released() bool {
	return d.token != nil && d.token.done.Load()
}
