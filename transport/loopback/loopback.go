// Package loopback implements the transport engine interfaces entirely in
// process. A Link is a named pair of send and receive queues: payloads
// enqueued on the segmenter side are paced, copied, and delivered on the
// reassembler side the way a real wire would, including queue-full
// backpressure, delivery-queue overflow, and lost-event reporting.
//
// The package serves two jobs: it is the engine the test suite runs the
// whole pipeline against, and it lets both halves of a pipeline run inside
// one process for demos and smoke runs. Failure injection (forced
// queue-full rejections, terminal enqueue errors, forced event loss) is
// scriptable per link.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/JeffersonLab/e2sar-utils/transport"
)

// Scheme is the URI scheme this driver registers under.
const Scheme = "loopback"

const (
	defaultCapacity = 2048
	defaultMTU      = 1500

	// Pacing is chunked so the limiter burst stays bounded no matter how
	// large a batch is.
	burstBytes = 1 << 20
)

// Options configure a Link at creation time.
type Options struct {
	// Capacity is the number of payloads the send queue holds before
	// Enqueue reports transport.ErrQueueFull. Also used for the delivery
	// queue unless RecvCapacity overrides it.
	Capacity int
	// RecvCapacity is the delivery queue depth; overflow counts as
	// enqueue loss, mirroring a reassembler whose consumer lags.
	RecvCapacity int
	// MTU sets the frame size used for packet accounting.
	MTU int
	// RateGbps paces the simulated wire; zero delivers as fast as the
	// consumer drains.
	RateGbps float64
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.RecvCapacity <= 0 {
		o.RecvCapacity = o.Capacity
	}
	if o.MTU <= 0 {
		o.MTU = defaultMTU
	}
	return o
}

type frame struct {
	num     uint64
	dataID  uint16
	payload []byte
	release func()
}

// Link is one in-process wire. All counters are updated atomically; the
// pump goroutine is the only writer to the delivery queue.
type Link struct {
	name string
	opts Options

	sendMu     sync.RWMutex
	sendClosed bool
	sendQ      chan frame

	recvQ    chan transport.Delivery
	pumpDone chan struct{}

	limiter *rate.Limiter
	bufs    sync.Pool

	frames     atomic.Int64
	sendErrors atomic.Int64

	packets        atomic.Int64
	bytes          atomic.Int64
	delivered      atomic.Int64
	reassemblyLoss atomic.Int64
	enqueueLoss    atomic.Int64
	dataErrors     atomic.Int64
	controlErrors  atomic.Int64

	queueFullBudget atomic.Int64
	lossBudget      atomic.Int64

	injectMu   sync.Mutex
	enqueueErr error

	lostMu sync.Mutex
	lost   []transport.LostEvent
}

// NewLink creates a standalone link. Links opened through the Driver share
// its registry by name; tests usually build one directly.
func NewLink(name string, opts Options) *Link {
	opts = opts.withDefaults()
	l := &Link{
		name:     name,
		opts:     opts,
		sendQ:    make(chan frame, opts.Capacity),
		recvQ:    make(chan transport.Delivery, opts.RecvCapacity),
		pumpDone: make(chan struct{}),
	}
	if opts.RateGbps > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.RateGbps*1e9/8), burstBytes)
	}
	go l.pump()
	return l
}

// Name returns the link name.
func (l *Link) Name() string { return l.name }

// InjectQueueFull makes the next n Enqueue calls report
// transport.ErrQueueFull regardless of queue room.
func (l *Link) InjectQueueFull(n int) {
	l.queueFullBudget.Add(int64(n))
}

// InjectEnqueueError makes the next Enqueue call fail with err. The engine
// counts it as a wire error.
func (l *Link) InjectEnqueueError(err error) {
	l.injectMu.Lock()
	l.enqueueErr = err
	l.injectMu.Unlock()
}

// InjectLoss declares the next n accepted payloads lost in reassembly
// instead of delivering them. Each produces a lost-event report.
func (l *Link) InjectLoss(n int) {
	l.lossBudget.Add(int64(n))
}

// Close shuts the send side down and waits for queued payloads to drain.
func (l *Link) Close() error {
	l.closeSend()
	<-l.pumpDone
	return nil
}

func (l *Link) closeSend() {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.sendClosed {
		return
	}
	l.sendClosed = true
	close(l.sendQ)
}

func (l *Link) takeQueueFull() bool {
	for {
		n := l.queueFullBudget.Load()
		if n <= 0 {
			return false
		}
		if l.queueFullBudget.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (l *Link) takeLoss() bool {
	for {
		n := l.lossBudget.Load()
		if n <= 0 {
			return false
		}
		if l.lossBudget.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (l *Link) takeEnqueueErr() error {
	l.injectMu.Lock()
	defer l.injectMu.Unlock()
	err := l.enqueueErr
	l.enqueueErr = nil
	return err
}

// pump moves frames from the send queue to the delivery queue, enforcing
// pacing and the scripted failures. It owns the copy from the caller's
// buffer into an engine buffer; the caller's release fires right after
// that copy, exactly like a segmenter that has finished with the memory.
func (l *Link) pump() {
	defer close(l.pumpDone)
	for f := range l.sendQ {
		n := len(f.payload)
		if l.limiter != nil {
			l.waitWire(n)
		}

		segs := int64(1)
		if n > l.opts.MTU {
			segs = int64((n + l.opts.MTU - 1) / l.opts.MTU)
		}
		l.frames.Add(segs)

		data := l.getBuf(n)
		copy(data, f.payload)
		if f.release != nil {
			f.release()
		}

		if l.takeLoss() {
			l.packets.Add(segs - 1)
			l.reassemblyLoss.Add(1)
			l.recordLost(transport.LostEvent{Num: f.num, DataID: f.dataID, Frags: int(segs - 1)})
			l.putBuf(data)
			continue
		}
		l.packets.Add(segs)

		d := transport.NewDelivery(f.num, f.dataID, data, func() { l.putBuf(data) })
		select {
		case l.recvQ <- d:
			l.delivered.Add(1)
			l.bytes.Add(int64(n))
		default:
			l.enqueueLoss.Add(1)
			l.putBuf(data)
		}
	}
}

func (l *Link) waitWire(n int) {
	for n > 0 {
		c := n
		if c > burstBytes {
			c = burstBytes
		}
		// Background context: the wire does not cancel mid frame.
		_ = l.limiter.WaitN(context.Background(), c)
		n -= c
	}
}

func (l *Link) recordLost(e transport.LostEvent) {
	l.lostMu.Lock()
	l.lost = append(l.lost, e)
	l.lostMu.Unlock()
}

func (l *Link) nextLost() (transport.LostEvent, bool) {
	l.lostMu.Lock()
	defer l.lostMu.Unlock()
	if len(l.lost) == 0 {
		return transport.LostEvent{}, false
	}
	e := l.lost[0]
	l.lost = l.lost[1:]
	return e, true
}

func (l *Link) getBuf(n int) []byte {
	if v := l.bufs.Get(); v != nil {
		if b := *(v.(*[]byte)); cap(b) >= n {
			return b[:n]
		}
	}
	return make([]byte, n)
}

func (l *Link) putBuf(b []byte) {
	b = b[:0]
	l.bufs.Put(&b)
}

func (l *Link) sendStats() transport.SendStats {
	return transport.SendStats{
		Frames: l.frames.Load(),
		Errors: l.sendErrors.Load(),
	}
}

func (l *Link) recvStats() transport.RecvStats {
	return transport.RecvStats{
		Packets:        l.packets.Load(),
		Bytes:          l.bytes.Load(),
		Delivered:      l.delivered.Load(),
		ReassemblyLoss: l.reassemblyLoss.Load(),
		EnqueueLoss:    l.enqueueLoss.Load(),
		DataErrors:     l.dataErrors.Load(),
		ControlErrors:  l.controlErrors.Load(),
	}
}
