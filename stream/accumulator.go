package stream

import (
	"fmt"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/event"
)

// BatchCapacity converts a buffer budget in mebibytes into the number of
// whole event frames a batch can hold.
func BatchCapacity(mb int) int {
	return mb << 20 / event.FrameSize
}

// Accumulator packs events into one batch at a time. It never flushes on
// its own: the worker checks Full and decides when to Take.
type Accumulator struct {
	stream   int
	capacity int
	slabs    *slabPool
	cur      []byte
	events   int
}

// NewAccumulator builds an accumulator for the given stream holding up to
// capacity events per batch.
func NewAccumulator(stream, capacity int) (*Accumulator, error) {
	if capacity < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("batch capacity %d cannot hold a %d-byte frame", capacity, event.FrameSize),
			"Accumulator", "NewAccumulator", "capacity validation")
	}
	return &Accumulator{
		stream:   stream,
		capacity: capacity,
		slabs:    newSlabPool(capacity * event.FrameSize),
	}, nil
}

// Capacity returns the events-per-batch limit.
func (a *Accumulator) Capacity() int { return a.capacity }

// Events returns how many events the current batch holds.
func (a *Accumulator) Events() int { return a.events }

// Full reports whether the current batch is at capacity.
func (a *Accumulator) Full() bool { return a.events >= a.capacity }

// Append encodes e into the current batch.
func (a *Accumulator) Append(e event.Event) error {
	if a.Full() {
		return errors.WrapInvalid(
			fmt.Errorf("batch already holds %d events", a.events),
			"Accumulator", "Append", "capacity check")
	}
	if a.cur == nil {
		a.cur = a.slabs.get()
	}
	a.cur = e.AppendTo(a.cur)
	a.events++
	return nil
}

// Take hands the current batch off under the given id and starts a fresh
// one. Returns nil when nothing has been appended; a short final batch is
// still produced.
func (a *Accumulator) Take(id uint64) *Batch {
	if a.events == 0 {
		return nil
	}
	b := &Batch{
		id:     id,
		stream: a.stream,
		data:   a.cur,
		events: a.events,
		home:   a.slabs,
	}
	a.cur = nil
	a.events = 0
	return b
}
