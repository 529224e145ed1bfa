package stream

import (
	"sync"
	"sync/atomic"
)

// Batch is one transmit buffer holding whole event frames. Batches are
// immutable after Take hands them off; the only mutation left is Release,
// which returns the backing slab to its pool.
type Batch struct {
	id       uint64
	stream   int
	data     []byte
	events   int
	home     *slabPool
	released atomic.Bool
}

// ID returns the process-wide batch number.
func (b *Batch) ID() uint64 { return b.id }

// Stream returns the index of the stream that produced the batch.
func (b *Batch) Stream() int { return b.stream }

// Bytes returns the encoded payload. Invalid once Release has run.
func (b *Batch) Bytes() []byte { return b.data }

// Len returns the payload size in bytes.
func (b *Batch) Len() int { return len(b.data) }

// Events returns the number of frames in the batch.
func (b *Batch) Events() int { return b.events }

// Released reports whether the slab has been returned.
func (b *Batch) Released() bool { return b.released.Load() }

// Release returns the slab to the pool. The engine's free callback and the
// gateway's failure paths can both call it; the first caller wins and
// reports true.
func (b *Batch) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	if b.home != nil {
		b.home.put(b.data)
	}
	b.data = nil
	return true
}

// slabPool recycles equally sized batch buffers.
type slabPool struct {
	pool sync.Pool
	size int
}

func newSlabPool(size int) *slabPool {
	p := &slabPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return p
}

func (p *slabPool) get() []byte {
	return (*(p.pool.Get().(*[]byte)))[:0]
}

func (p *slabPool) put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}
