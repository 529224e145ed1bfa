// Package main implements evtproc, the analysis end of the pipeline. It
// subscribes to the subjects the bridge publishes on, fans each payload out
// to a bounded worker pool that walks it with the event codec and applies
// the three-pion kinematic selection, keeping running pass/fail counts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JeffersonLab/e2sar-utils/config"
	"github.com/JeffersonLab/e2sar-utils/event"
	"github.com/JeffersonLab/e2sar-utils/metric"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/pkg/worker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "evtproc"
)

const (
	connectTimeout   = 10 * time.Second
	progressInterval = 5 * time.Second
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Run failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cli, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	if cli.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, srv := startMetrics(cfg)
	defer stopMetrics(srv)

	client, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	a := &analyzer{
		logger:  logger.With("component", "analysis"),
		printer: progress.NewPrinter(os.Stdout),
	}

	// The pool gets its own context so a signal stops intake but still
	// drains the backlog before the summary.
	poolCtx, poolStop := context.WithCancel(context.Background())
	defer poolStop()
	pool := worker.New(a.process, worker.Config{
		Workers: cfg.Proc.Workers,
		Depth:   cfg.Proc.QueueDepth,
		Logger:  logger,
	})
	if err := pool.Start(poolCtx); err != nil {
		return err
	}

	if reg != nil {
		if err := registerAnalysisCollectors(reg, a); err != nil {
			return err
		}
		if err := metric.RegisterPoolCollectors(reg, pool.Stats); err != nil {
			return err
		}
		if err := metric.RegisterBrokerCollectors(reg, client); err != nil {
			return err
		}
	}

	stopConsume, err := subscribe(ctx, cfg, client, pool)
	if err != nil {
		return err
	}

	slog.Info("processor started",
		"broker", cfg.Broker.URL,
		"subject", cfg.Broker.SubjectPrefix+".>",
		"queue", cfg.Broker.Queue,
		"jetstream", cfg.Broker.JetStream,
		"workers", cfg.Proc.Workers)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopConsume()
			_ = pool.Close()
			a.summary(pool.Stats())
			return nil
		case <-ticker.C:
			a.progress(pool.Stats())
		}
	}
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting evtproc", "version", Version, "build_time", BuildTime)

	return cliCfg, logger, false, nil
}

func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cli.ConfigPath != "" {
		loaded, err := config.Load(cli.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cli.mergeInto(cfg)

	if err := cfg.ValidateBroker(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateProc(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startMetrics starts the metrics server when a port is configured.
func startMetrics(cfg *config.Config) (*metric.Registry, *metric.Server) {
	if !cfg.Metrics.Enabled() {
		return nil, nil
	}
	reg := metric.NewRegistry()
	srv := metric.NewServer(cfg.Metrics, reg)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("metrics server listening", "address", srv.Address())
	return reg, srv
}

func stopMetrics(srv *metric.Server) {
	if srv == nil {
		return
	}
	if err := srv.Stop(); err != nil {
		slog.Warn("metrics server stop failed", "error", err)
	}
}

// connectBroker builds the managed NATS client and waits for the first
// connection.
func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(cfg.Broker.URL,
		natsclient.WithName(appName),
		natsclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// subscribe attaches the pool to the event subjects. JetStream mode
// consumes from the configured stream; core mode uses a queue subscription
// when a queue group is set so multiple processors share the load.
func subscribe(ctx context.Context, cfg *config.Config, client *natsclient.Client, pool *worker.Pool[[]byte]) (func(), error) {
	subject := cfg.Broker.SubjectPrefix + ".>"

	// Overflow is counted by the pool and shows up in the progress line
	// and the dropped_total metric.
	submit := func(data []byte) { _ = pool.Submit(data) }

	if cfg.Broker.JetStream {
		if cfg.Broker.Stream == "" {
			return nil, fmt.Errorf("jetstream consumption requires a stream name")
		}
		stopConsume, err := client.ConsumeStream(ctx, cfg.Broker.Stream, subject,
			func(m jetstream.Msg) { submit(m.Data()) })
		if err != nil {
			return nil, fmt.Errorf("consume stream %s: %w", cfg.Broker.Stream, err)
		}
		return stopConsume, nil
	}

	handler := func(m *nats.Msg) { submit(m.Data) }
	var sub *nats.Subscription
	var err error
	if cfg.Broker.Queue != "" {
		sub, err = client.QueueSubscribe(subject, cfg.Broker.Queue, handler)
	} else {
		sub, err = client.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Drain() }, nil
}

// analyzer walks batch payloads and applies the kinematic selection. The
// counters are atomics; process runs on pool workers while the main loop
// reads them for progress lines.
type analyzer struct {
	logger  *slog.Logger
	printer *progress.Printer
	mass    prometheus.Histogram // nil without metrics

	batches   atomic.Int64
	events    atomic.Int64
	passed    atomic.Int64
	malformed atomic.Int64
}

// process walks one payload. A payload that is not a whole number of frames
// is counted and dropped; per-event decode never fails after that check.
func (a *analyzer) process(_ context.Context, data []byte) error {
	n, err := event.FrameCount(data)
	if err != nil {
		a.malformed.Add(1)
		a.logger.Warn("dropping malformed payload", "bytes", len(data), "error", err)
		return err
	}
	a.batches.Add(1)

	for i := 0; i < n; i++ {
		e, err := event.At(data, i)
		if err != nil {
			a.malformed.Add(1)
			a.logger.Warn("dropping payload tail", "frame", i, "error", err)
			return err
		}
		inv := event.Analyze(e)
		if a.mass != nil {
			a.mass.Observe(inv.MPi0)
		}
		a.events.Add(1)
		if inv.Pass() {
			a.passed.Add(1)
		}
	}
	return nil
}

func (a *analyzer) passFraction() float64 {
	events := a.events.Load()
	if events == 0 {
		return 0
	}
	return 100 * float64(a.passed.Load()) / float64(events)
}

func (a *analyzer) progress(st worker.Stats) {
	a.printer.Printf("analyzed %d events in %d batches: %d passed (%.1f%%), %d malformed payloads, %d dropped",
		a.events.Load(), a.batches.Load(), a.passed.Load(), a.passFraction(), a.malformed.Load(), st.Dropped)
}

func (a *analyzer) summary(st worker.Stats) {
	a.printer.Printf("analysis complete: %d events in %d batches, %d passed the kinematic cut (%.1f%%), %d malformed payloads, %d dropped",
		a.events.Load(), a.batches.Load(), a.passed.Load(), a.passFraction(), a.malformed.Load(), st.Dropped)
}

// registerAnalysisCollectors publishes the analyzer's counters and wires the
// pi0 mass histogram into it.
func registerAnalysisCollectors(reg *metric.Registry, a *analyzer) error {
	counters := []struct {
		name string
		help string
		read func() float64
	}{
		{"batches_total", "Payloads walked by the analyzer.", func() float64 { return float64(a.batches.Load()) }},
		{"events_total", "Events analyzed.", func() float64 { return float64(a.events.Load()) }},
		{"passed_total", "Events passing the kinematic cut.", func() float64 { return float64(a.passed.Load()) }},
		{"malformed_total", "Payloads dropped as malformed.", func() float64 { return float64(a.malformed.Load()) }},
	}
	for _, c := range counters {
		cf := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "e2sar",
			Subsystem: "analysis",
			Name:      c.name,
			Help:      c.help,
		}, c.read)
		if err := reg.RegisterCounterFunc("analysis", c.name, cf); err != nil {
			return err
		}
	}

	a.mass = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "e2sar",
		Subsystem: "analysis",
		Name:      "pi0_mass_gev",
		Help:      "Reconstructed two-photon invariant mass.",
		Buckets:   prometheus.LinearBuckets(0.05, 0.01, 15),
	})
	return reg.RegisterHistogram("analysis", "pi0_mass_gev", a.mass)
}
