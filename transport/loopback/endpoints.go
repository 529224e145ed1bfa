package loopback

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// Segmenter is the sending endpoint of a Link.
type Segmenter struct {
	link   *Link
	dataID uint16
}

var _ transport.Segmenter = (*Segmenter)(nil)

// Segmenter opens the sending endpoint. Open it before the first Enqueue;
// the send configuration (MTU, pacing) applies to the whole link.
func (l *Link) Segmenter(cfg transport.SendConfig) *Segmenter {
	if cfg.MTU > 0 {
		l.opts.MTU = cfg.MTU
	}
	if cfg.RateGbps > 0 && l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateGbps*1e9/8), burstBytes)
	}
	return &Segmenter{link: l, dataID: cfg.DataID}
}

// Enqueue accepts payload for delivery under event number num. The entropy
// hint is ignored; a loopback wire has a single path. release fires after
// the pump has copied payload, never on a failed call.
func (s *Segmenter) Enqueue(payload []byte, num uint64, _ uint16, release func()) error {
	l := s.link
	if err := l.takeEnqueueErr(); err != nil {
		l.sendErrors.Add(1)
		return err
	}
	if l.takeQueueFull() {
		return transport.ErrQueueFull
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.sendClosed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "loopback", "Enqueue", "segmenter closed")
	}
	select {
	case l.sendQ <- frame{num: num, dataID: s.dataID, payload: payload, release: release}:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// Stats returns the wire-side counters.
func (s *Segmenter) Stats() transport.SendStats { return s.link.sendStats() }

// Close stops accepting payloads and waits until everything queued has
// been pushed through the wire.
func (s *Segmenter) Close() error { return s.link.Close() }

// Reassembler is the receiving endpoint of a Link.
type Reassembler struct {
	link      *Link
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Reassembler = (*Reassembler)(nil)

// Reassembler opens the receiving endpoint. The receive configuration is
// accepted for interface parity; a loopback wire has no sockets to bind
// and never times out a partial event.
func (l *Link) Reassembler(_ transport.RecvConfig) *Reassembler {
	return &Reassembler{link: l, done: make(chan struct{})}
}

// Receive blocks up to timeout for the next delivery. A timeout is
// reported as ok=false with no error.
func (r *Reassembler) Receive(timeout time.Duration) (transport.Delivery, bool, error) {
	if r.closed.Load() {
		return transport.Delivery{}, false,
			errors.WrapInvalid(errors.ErrShuttingDown, "loopback", "Receive", "reassembler closed")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-r.link.recvQ:
		return d, true, nil
	case <-timer.C:
		return transport.Delivery{}, false, nil
	case <-r.done:
		return transport.Delivery{}, false,
			errors.WrapInvalid(errors.ErrShuttingDown, "loopback", "Receive", "reassembler closed")
	}
}

// Stats returns the receive-side counters.
func (r *Reassembler) Stats() transport.RecvStats { return r.link.recvStats() }

// NextLostEvent pops the next loss report in the order the engine
// recorded them.
func (r *Reassembler) NextLostEvent() (transport.LostEvent, bool) {
	return r.link.nextLost()
}

// Close wakes any blocked Receive and stops the endpoint. Loss reports
// stay readable so a consumer can drain them during shutdown.
func (r *Reassembler) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
	return nil
}
