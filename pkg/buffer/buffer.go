// Package buffer provides a generic, thread-safe bounded ring with
// configurable overflow policies.
//
// The receive pipeline uses it to hold lost-event reports and recent
// progress snapshots: both are bounded lists where overflow should drop
// entries rather than grow without limit. Statistics are always collected
// so drops stay observable.
package buffer

// Buffer is a generic bounded buffer. Implementations are safe for
// concurrent use.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes one item from the buffer.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items from the buffer.
	ReadBatch(max int) []T

	// Drain retrieves and removes all buffered items.
	Drain() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer. Writes after Close fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// New creates a bounded ring buffer with the specified capacity and options.
// Capacity below 1 is clamped to 1.
func New[T any](capacity int, options ...Option[T]) Buffer[T] {
	return newRing(capacity, applyOptions(options...))
}
