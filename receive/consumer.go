package receive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JeffersonLab/e2sar-utils/control"
	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/pkg/buffer"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/sink"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

const (
	// DefaultPollInterval bounds one Receive call; a timeout just loops.
	DefaultPollInterval = 1000 * time.Millisecond

	// DefaultProgressInterval paces the progress printer.
	DefaultProgressInterval = 5 * time.Second

	// DefaultLostCapacity bounds the lost-event ring. Older reports are
	// dropped first when a very lossy run overflows it.
	DefaultLostCapacity = 1024

	deregisterTimeout = 5 * time.Second
)

// ConsumerConfig wires a Consumer.
type ConsumerConfig struct {
	PollInterval     time.Duration
	ProgressInterval time.Duration
	LostCapacity     int

	// Identity and Registrar connect the worker to the control plane.
	// A nil Registrar (or control.Noop) skips registration entirely.
	Identity  control.Identity
	Registrar control.Registrar

	Printer *progress.Printer
	Logger  *slog.Logger

	// Notify, when set, receives every progress snapshot.
	Notify func(Snapshot)
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.LostCapacity <= 0 {
		c.LostCapacity = DefaultLostCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Summary is the final receive report.
type Summary struct {
	Received    int64
	Bytes       int64
	WriteErrors int64
	Lost        []transport.LostEvent
	Engine      transport.RecvStats
	Duration    time.Duration
}

// Success reports whether every delivered event was persisted. Wire losses
// do not count against the receiver; write errors do.
func (s Summary) Success() bool {
	return s.WriteErrors == 0
}

// AvgMbps returns the mean delivered payload rate over the run.
func (s Summary) AvgMbps() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / 1e6 / s.Duration.Seconds()
}

// FormatLost renders loss reports as <num:dataID/frags> entries.
func FormatLost(lost []transport.LostEvent) string {
	parts := make([]string, len(lost))
	for i, le := range lost {
		parts[i] = fmt.Sprintf("<%d:%d/%d>", le.Num, le.DataID, le.Frags)
	}
	return strings.Join(parts, " ")
}

// Consumer polls a reassembler and persists each delivery through a sink.
type Consumer struct {
	rea     transport.Reassembler
	sink    sink.Sink
	cfg     ConsumerConfig
	logger  *slog.Logger
	printer *progress.Printer

	state    atomicState
	counters Counters
	lost     buffer.Buffer[transport.LostEvent]
}

// NewConsumer wires a consumer. The reassembler and sink are required; the
// consumer does not close either, that stays with whoever opened them.
func NewConsumer(rea transport.Reassembler, s sink.Sink, cfg ConsumerConfig) (*Consumer, error) {
	if rea == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Consumer", "NewConsumer", "reassembler check")
	}
	if s == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Consumer", "NewConsumer", "sink check")
	}
	cfg = cfg.withDefaults()

	return &Consumer{
		rea:     rea,
		sink:    s,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "receive"),
		printer: cfg.Printer,
		lost: buffer.New[transport.LostEvent](cfg.LostCapacity,
			buffer.WithOverflowPolicy[transport.LostEvent](buffer.DropOldest)),
	}, nil
}

// State reports what the consumer loop is currently doing.
func (c *Consumer) State() State {
	return c.state.load()
}

// Counters exposes the live counters for metrics collectors.
func (c *Consumer) Counters() *Counters {
	return &c.counters
}

// Run polls until ctx is cancelled, then drains the engine's loss reports,
// prints the summary and deregisters from the control plane as the last
// step. The summary's Success tells the caller whether every delivered
// event made it to the sink; a non-nil error means the engine itself broke.
func (c *Consumer) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	if c.cfg.Registrar != nil {
		// Worker registration is best effort on the receive side; the
		// run proceeds either way.
		if err := c.cfg.Registrar.Register(ctx, c.cfg.Identity); err != nil {
			c.logger.Warn("control plane registration failed", "error", err)
		}
	}

	ticker := time.NewTicker(c.cfg.ProgressInterval)
	defer ticker.Stop()

	var runErr error
	c.state.store(StatePolling)
	for ctx.Err() == nil {
		select {
		case <-ticker.C:
			c.progress()
		default:
		}

		d, ok, err := c.rea.Receive(c.cfg.PollInterval)
		if err != nil {
			runErr = errors.Wrap(err, "Consumer", "Run", "receive poll")
			c.logger.Error("receive poll failed", "error", err)
			break
		}
		if !ok {
			continue
		}

		c.state.store(StatePersisting)
		c.persist(ctx, d)
		c.state.store(StatePolling)
	}

	return c.finish(start), runErr
}

// persist stores one delivery and always releases it, persisted or not.
func (c *Consumer) persist(ctx context.Context, d transport.Delivery) {
	defer d.Release()

	c.counters.received.Add(1)
	c.counters.bytes.Add(int64(len(d.Data)))

	rec := sink.Record{Num: d.Num, DataID: d.DataID, Data: d.Data}
	if err := c.sink.Store(ctx, rec); err != nil {
		c.counters.writeErrors.Add(1)
		c.logger.Error("event persist failed", "event", d.Num, "error", err)
	}
}

func (c *Consumer) progress() {
	snap := c.counters.Snapshot()
	c.printer.Printf("received %d events (%.1f MiB), %d write errors",
		snap.Received, float64(snap.Bytes)/(1<<20), snap.WriteErrors)
	if c.cfg.Notify != nil {
		c.cfg.Notify(snap)
	}
}

func (c *Consumer) finish(start time.Time) Summary {
	c.state.store(StateDraining)
	for {
		le, ok := c.rea.NextLostEvent()
		if !ok {
			break
		}
		_ = c.lost.Write(le)
	}

	s := Summary{
		Received:    c.counters.Received(),
		Bytes:       c.counters.Bytes(),
		WriteErrors: c.counters.WriteErrors(),
		Lost:        c.lost.Drain(),
		Engine:      c.rea.Stats(),
		Duration:    time.Since(start),
	}
	c.printSummary(s)

	if c.cfg.Registrar != nil {
		// Deregister last so the balancer keeps the worker live until
		// the final stats are on record.
		dctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
		defer cancel()
		if err := c.cfg.Registrar.Deregister(dctx); err != nil {
			c.logger.Warn("control plane deregistration failed", "error", err)
		}
	}

	c.state.store(StateStopped)
	return s
}

func (c *Consumer) printSummary(s Summary) {
	c.printer.Printf("receive complete: %d events (%.1f MiB) in %s, %d write errors, avg %.1f Mbps",
		s.Received, float64(s.Bytes)/(1<<20), s.Duration.Round(time.Millisecond),
		s.WriteErrors, s.AvgMbps())
	e := s.Engine
	c.printer.Printf("engine: %d packets, %d bytes, %d delivered, %d reassembly loss, %d enqueue loss, %d data errors, %d control errors",
		e.Packets, e.Bytes, e.Delivered, e.ReassemblyLoss, e.EnqueueLoss,
		e.DataErrors, e.ControlErrors)
	if len(s.Lost) > 0 {
		c.printer.Printf("lost events: %s", FormatLost(s.Lost))
	}
}
