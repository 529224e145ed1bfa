package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/event"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/source"
)

// Progress cadences.
const (
	rowProgressInterval   = 500_000
	batchProgressInterval = 10
)

// WorkerConfig wires one stream worker.
type WorkerConfig struct {
	Stream   int
	Reader   *source.EventReader
	Batch    *Accumulator
	Gateway  *Gateway
	Sequence *atomic.Uint64

	Printer *progress.Printer // optional console progress
	Logger  *slog.Logger      // optional
	Notify  func(any)         // optional snapshot hook for the monitor
}

// Worker reads one table sequentially, batches its events, and sends the
// batches through the shared gateway.
type Worker struct {
	id      int
	reader  *source.EventReader
	acc     *Accumulator
	gw      *Gateway
	seq     *atomic.Uint64
	printer *progress.Printer
	logger  *slog.Logger
	notify  func(any)

	stats Stats
	first event.Event
	seen  bool
}

// NewWorker validates the wiring and builds a worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Reader == nil || cfg.Batch == nil || cfg.Gateway == nil || cfg.Sequence == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Worker", "NewWorker", "reader, batch, gateway, and sequence validation")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:      cfg.Stream,
		reader:  cfg.Reader,
		acc:     cfg.Batch,
		gw:      cfg.Gateway,
		seq:     cfg.Sequence,
		printer: cfg.Printer,
		logger:  logger.With("stream", cfg.Stream),
		notify:  cfg.Notify,
	}, nil
}

// Run moves the whole table. It returns the worker's counters along with
// the first terminal error, if any; cancellation is observed once per row.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	total := w.reader.Entries()
	for {
		select {
		case <-ctx.Done():
			w.logger.Warn("stream interrupted", "rows_read", w.stats.Events, "err", ctx.Err())
			return w.stats, errors.WrapFatal(errors.ErrStreamAborted, "Worker", "Run",
				fmt.Sprintf("stream %d interrupted after %d rows", w.id, w.stats.Events))
		default:
		}

		e, ok, err := w.reader.Next()
		if err != nil {
			return w.stats, errors.Wrap(err, "Worker", "Run",
				fmt.Sprintf("stream %d row %d read", w.id, w.stats.Events))
		}
		if !ok {
			break
		}
		if !w.seen {
			w.first, w.seen = e, true
		}

		if err := w.acc.Append(e); err != nil {
			return w.stats, err
		}
		w.stats.Events++
		if w.stats.Events%rowProgressInterval == 0 {
			w.printer.Printf("stream %d: read %d / %d rows", w.id, w.stats.Events, total)
		}

		if w.acc.Full() {
			if err := w.flush(ctx); err != nil {
				return w.stats, err
			}
		}
	}

	// Stream end: a short batch still ships.
	if w.acc.Events() > 0 {
		if err := w.flush(ctx); err != nil {
			return w.stats, err
		}
	}
	w.echoFirst()
	return w.stats, nil
}

func (w *Worker) flush(ctx context.Context) error {
	b := w.acc.Take(w.seq.Add(1))
	if b == nil {
		return nil
	}
	size := int64(b.Len())
	if err := w.gw.Send(ctx, b); err != nil {
		return err
	}
	w.stats.Batches++
	w.stats.Bytes += size
	if w.stats.Batches%batchProgressInterval == 0 {
		w.printer.Printf("stream %d: sent %d batches (%d events, %.1f MiB)",
			w.id, w.stats.Batches, w.stats.Events, float64(w.stats.Bytes)/(1<<20))
		w.publish()
	}
	return nil
}

func (w *Worker) publish() {
	if w.notify == nil {
		return
	}
	w.notify(Snapshot{
		Stream:  w.id,
		Events:  w.stats.Events,
		Batches: w.stats.Batches,
		Bytes:   w.stats.Bytes,
	})
}

// echoFirst prints the first event of the stream once the stream is done,
// a quick eyeball check that the columns were bound in the right order.
func (w *Worker) echoFirst() {
	if !w.seen {
		return
	}
	w.printer.Printf("stream %d first event:\n  pi+    %s\n  pi-    %s\n  gamma1 %s\n  gamma2 %s",
		w.id, fmtVec(w.first.PiPlus), fmtVec(w.first.PiMinus),
		fmtVec(w.first.Gamma1), fmtVec(w.first.Gamma2))
}

func fmtVec(v event.FourVec) string {
	return fmt.Sprintf("E=%-10.6g px=%-10.6g py=%-10.6g pz=%-10.6g", v.E, v.Px, v.Py, v.Pz)
}
