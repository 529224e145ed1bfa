package stream

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/pkg/retry"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// Gateway retry defaults: a full send queue drains at wire rate, so the
// interval stays short and fixed while the budget is what bounds the wait.
const (
	DefaultRetryInterval = 100 * time.Microsecond
	DefaultMaxAttempts   = 10000
)

// GatewayConfig tunes the queue-full retry loop.
type GatewayConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// GatewayStats is a snapshot of the gateway's counters.
type GatewayStats struct {
	// Batches accepted by the engine.
	Batches int64 `json:"batches"`
	// Bytes of payload accepted by the engine.
	Bytes int64 `json:"bytes"`
	// QueueFull counts enqueue attempts rejected for queue room.
	QueueFull int64 `json:"queue_full"`
	// Failures counts batches that failed terminally.
	Failures int64 `json:"failures"`
}

// Gateway is the one place batches enter the engine. All stream workers
// share it; every counter is atomic and no lock is held across an engine
// call.
type Gateway struct {
	seg      transport.Segmenter
	retryCfg retry.Config
	attempts int
	logger   *slog.Logger

	batches   atomic.Int64
	bytes     atomic.Int64
	queueFull atomic.Int64
	failures  atomic.Int64
}

// NewGateway wraps seg. logger may be nil.
func NewGateway(seg transport.Segmenter, cfg GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if seg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "NewGateway", "segmenter validation")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		seg:      seg,
		retryCfg: retry.Backpressure(cfg.RetryInterval, cfg.MaxAttempts),
		attempts: cfg.MaxAttempts,
		logger:   logger,
	}, nil
}

// Send pushes b into the engine, retrying queue-full rejections on the
// fixed interval. On success the engine owns the slab and releases it
// through the batch's token; on any failure the gateway releases the slab
// itself and the returned error is terminal for the calling stream.
func (g *Gateway) Send(ctx context.Context, b *Batch) error {
	if b == nil || b.Events() == 0 {
		return errors.WrapInvalid(errors.ErrEmptyBatch, "Gateway", "Send", "batch validation")
	}

	payload := b.Bytes()
	size := int64(len(payload))
	entropy := uint16(b.Stream())

	err := retry.Do(ctx, g.retryCfg, func() error {
		err := g.seg.Enqueue(payload, b.ID(), entropy, func() { b.Release() })
		if err == nil {
			return nil
		}
		if goerrors.Is(err, transport.ErrQueueFull) {
			g.queueFull.Add(1)
			return err
		}
		return retry.NonRetryable(err)
	})
	if err == nil {
		g.batches.Add(1)
		g.bytes.Add(size)
		return nil
	}

	// The engine never took ownership on any failure path.
	g.failures.Add(1)
	b.Release()

	var nre *retry.NonRetryableError
	switch {
	case goerrors.As(err, &nre):
		g.logger.Error("engine rejected batch",
			"batch_id", b.ID(), "stream", b.Stream(), "err", nre.Err)
		return errors.WrapFatal(nre.Err, "Gateway", "Send",
			fmt.Sprintf("batch %d (stream %d) enqueue", b.ID(), b.Stream()))
	case goerrors.Is(err, transport.ErrQueueFull):
		g.logger.Error("send queue stayed full past the retry budget",
			"batch_id", b.ID(), "stream", b.Stream(), "attempts", g.attempts)
		return errors.WrapFatal(errors.ErrRetryExhausted, "Gateway", "Send",
			fmt.Sprintf("batch %d (stream %d) after %d attempts", b.ID(), b.Stream(), g.attempts))
	default:
		return errors.Wrap(err, "Gateway", "Send",
			fmt.Sprintf("batch %d (stream %d) enqueue", b.ID(), b.Stream()))
	}
}

// Stats returns the gateway counters.
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		Batches:   g.batches.Load(),
		Bytes:     g.bytes.Load(),
		QueueFull: g.queueFull.Load(),
		Failures:  g.failures.Load(),
	}
}

// EngineStats returns the wrapped segmenter's wire counters.
func (g *Gateway) EngineStats() transport.SendStats {
	return g.seg.Stats()
}
