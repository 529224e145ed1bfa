// Package receive drives the consumer side of the pipeline: it polls the
// reassembly engine, persists every delivered event through a sink, and
// accounts for what the wire lost along the way.
package receive

import "sync/atomic"

// State tracks what the consumer loop is doing. The loop moves between
// Polling and Persisting for every delivery, enters Draining once the run
// context ends, and settles on Stopped when the summary is final.
type State int32

// Consumer loop states.
const (
	StateIdle State = iota
	StatePolling
	StatePersisting
	StateDraining
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StatePersisting:
		return "persisting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// atomicState holds a State readable from other goroutines, such as the
// health endpoint.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() State { return State(a.v.Load()) }

func (a *atomicState) store(s State) { a.v.Store(int32(s)) }
