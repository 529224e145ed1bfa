// Package worker provides a bounded, generic worker pool.
//
// The processor fans payload analysis out over it: broker callbacks hand
// work off without blocking, and submissions beyond the queue bound are
// dropped and counted rather than stalling the subscription.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pool errors.
var (
	ErrQueueFull      = errors.New("worker queue full")
	ErrPoolClosed     = errors.New("worker pool closed")
	ErrAlreadyStarted = errors.New("worker pool already started")
)

// Func processes one item. It receives the context passed to Start; a
// non-nil return counts the item as failed.
type Func[T any] func(ctx context.Context, item T) error

// Config sizes the pool. Zero values get defaults.
type Config struct {
	// Workers is the number of processing goroutines. Below 1 is
	// clamped to 1.
	Workers int

	// Depth bounds the queue of items waiting for a worker. Below 1 is
	// clamped to 1.
	Depth int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Stats is a point-in-time reading of the pool counters. Processed and
// Failed partition the items the workers have finished.
type Stats struct {
	Workers   int
	Depth     int
	Pending   int
	Submitted int64
	Processed int64
	Failed    int64
	Dropped   int64
}

// Pool runs a fixed set of workers over a bounded queue. Submit never
// blocks: when the queue is full the item is dropped and counted. Items
// submitted before Start wait in the queue.
type Pool[T any] struct {
	fn      Func[T]
	queue   chan T
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New builds a pool around fn. Panics on a nil fn: a pool that cannot
// process can never drain.
func New[T any](fn Func[T], cfg Config) *Pool[T] {
	if fn == nil {
		panic("worker: nil process func")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Depth < 1 {
		cfg.Depth = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		fn:      fn,
		queue:   make(chan T, cfg.Depth),
		workers: cfg.Workers,
		logger:  logger.With("component", "worker"),
	}
}

// Start launches the workers. They run until ctx is cancelled or until
// Close has been called and the queue is drained.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	p.done.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work(ctx)
	}
	p.logger.Debug("pool started", "workers", p.workers, "depth", cap(p.queue))
	return nil
}

// work drains the queue. The cancellation pre-check keeps a cancelled
// worker from racing the queue case and draining more of the backlog.
func (p *Pool[T]) work(ctx context.Context) {
	defer p.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.fn(ctx, item); err != nil {
				p.failed.Add(1)
			} else {
				p.processed.Add(1)
			}
		}
	}
}

// Submit queues item without blocking. When the queue is at capacity the
// item is counted as dropped and ErrQueueFull comes back.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- item:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops intake and waits for the workers to drain the queue. If the
// Start context is already cancelled the workers exit without draining.
// Safe to call more than once.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.done.Wait()
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Depth:     cap(p.queue),
		Pending:   len(p.queue),
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
