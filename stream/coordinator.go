package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/source"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// DefaultDrainWait bounds the pause between the last Send returning and
// reading the engine's wire counters. Send returning means queued, not
// on the wire.
const DefaultDrainWait = 500 * time.Millisecond

// CoordinatorConfig wires a send run.
type CoordinatorConfig struct {
	// BatchCapacity is the events-per-batch limit for every stream.
	BatchCapacity int
	// DrainWait is the post-join pause before the engine stats are read.
	DrainWait time.Duration

	Printer *progress.Printer // optional
	Logger  *slog.Logger      // optional
	Notify  func(any)         // optional snapshot hook
}

// StreamResult is one stream's outcome.
type StreamResult struct {
	Stream int
	Stats  Stats
	Err    error
}

// Report is the aggregate outcome of a send run.
type Report struct {
	Streams   []StreamResult
	Totals    Stats
	Submitted uint64 // final value of the id sequence
	Gateway   GatewayStats
	Engine    transport.SendStats
	Duration  time.Duration
}

// Success reports whether every stream completed and the engine saw no
// wire errors. The process exit code follows this.
func (r Report) Success() bool {
	for _, s := range r.Streams {
		if s.Err != nil {
			return false
		}
	}
	return r.Engine.Errors == 0
}

// FirstError returns the first failed stream's error, if any.
func (r Report) FirstError() error {
	for _, s := range r.Streams {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Coordinator runs one worker per table against a shared gateway. The
// buffer-id sequence is shared too: ids are unique and monotonic across
// streams, and its final value is the total number of batches submitted.
type Coordinator struct {
	gw  *Gateway
	cfg CoordinatorConfig
	seq atomic.Uint64
}

// NewCoordinator validates the wiring and builds a coordinator.
func NewCoordinator(gw *Gateway, cfg CoordinatorConfig) (*Coordinator, error) {
	if gw == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "NewCoordinator", "gateway validation")
	}
	if cfg.BatchCapacity < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("batch capacity %d", cfg.BatchCapacity),
			"Coordinator", "NewCoordinator", "batch capacity validation")
	}
	if cfg.DrainWait <= 0 {
		cfg.DrainWait = DefaultDrainWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{gw: gw, cfg: cfg}, nil
}

// Run moves every table to completion and reports the aggregate outcome.
// A failed stream does not cancel its siblings: the group collects errors
// without propagating cancellation, so independent streams finish and keep
// their results.
func (c *Coordinator) Run(ctx context.Context, tables []source.Table) (Report, error) {
	if len(tables) == 0 {
		return Report{}, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "Run", "input tables validation")
	}

	start := time.Now()
	results := make([]StreamResult, len(tables))

	var g errgroup.Group
	for i, tbl := range tables {
		g.Go(func() error {
			results[i] = c.runStream(ctx, i, tbl)
			return results[i].Err
		})
	}
	if err := g.Wait(); err != nil {
		c.cfg.Logger.Error("send run had failed streams", "err", err)
	}

	// Bounded drain: give the engine a moment to put queued batches on
	// the wire so the final counters mean something.
	select {
	case <-time.After(c.cfg.DrainWait):
	case <-ctx.Done():
	}

	report := Report{
		Streams:   results,
		Submitted: c.seq.Load(),
		Gateway:   c.gw.Stats(),
		Engine:    c.gw.EngineStats(),
		Duration:  time.Since(start),
	}
	for _, r := range results {
		report.Totals.Merge(r.Stats)
	}
	c.printSummary(report)
	return report, nil
}

func (c *Coordinator) runStream(ctx context.Context, id int, tbl source.Table) StreamResult {
	res := StreamResult{Stream: id}

	reader, err := source.NewEventReader(tbl)
	if err != nil {
		res.Err = errors.Wrap(err, "Coordinator", "runStream", fmt.Sprintf("stream %d bind", id))
		return res
	}
	acc, err := NewAccumulator(id, c.cfg.BatchCapacity)
	if err != nil {
		res.Err = err
		return res
	}
	w, err := NewWorker(WorkerConfig{
		Stream:   id,
		Reader:   reader,
		Batch:    acc,
		Gateway:  c.gw,
		Sequence: &c.seq,
		Printer:  c.cfg.Printer,
		Logger:   c.cfg.Logger,
		Notify:   c.cfg.Notify,
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Stats, res.Err = w.Run(ctx)
	return res
}

func (c *Coordinator) printSummary(r Report) {
	for _, s := range r.Streams {
		if s.Err != nil {
			c.cfg.Printer.Printf("stream %d FAILED after %d events: %v", s.Stream, s.Stats.Events, s.Err)
		}
	}
	c.cfg.Printer.Printf(
		"send complete: %d events in %d batches (%.1f MiB) across %d streams in %s\nengine: %d frames on the wire, %d errors; %d buffers submitted, %d queue-full retries",
		r.Totals.Events, r.Totals.Batches, float64(r.Totals.Bytes)/(1<<20), len(r.Streams),
		r.Duration.Round(time.Millisecond),
		r.Engine.Frames, r.Engine.Errors, r.Submitted, r.Gateway.QueueFull)
}
