// Package main implements evtmover, the event mover CLI. One binary serves
// both ends of the pipeline: --send streams event tables through a
// segmentation engine toward the destination URI, --recv reassembles events
// from the engine and persists each one to its own numbered file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/JeffersonLab/e2sar-utils/config"
	"github.com/JeffersonLab/e2sar-utils/control"
	"github.com/JeffersonLab/e2sar-utils/event"
	"github.com/JeffersonLab/e2sar-utils/metric"
	"github.com/JeffersonLab/e2sar-utils/monitor"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/receive"
	"github.com/JeffersonLab/e2sar-utils/sink/file"
	"github.com/JeffersonLab/e2sar-utils/source"
	"github.com/JeffersonLab/e2sar-utils/source/colfile"
	"github.com/JeffersonLab/e2sar-utils/stream"
	"github.com/JeffersonLab/e2sar-utils/transport"
	"github.com/JeffersonLab/e2sar-utils/transport/loopback"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "evtmover"
)

const deregisterTimeout = 5 * time.Second

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

	registry := transport.NewRegistry()
	if err := loopback.Register(registry); err != nil {
		return fmt.Errorf("register drivers: %w", err)
	}
	slog.Debug("transport drivers registered", "schemes", registry.Schemes())

	obs, err := startObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer obs.stop()

	if cli.Recv {
		return runRecv(ctx, cfg, registry, obs, logger)
	}
	return runSend(ctx, cfg, registry, obs, logger)
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

	slog.Info("Starting evtmover",
		"version", Version,
		"build_time", BuildTime,
		"mode", cliCfg.mode())

	return cliCfg, logger, false, nil
}

// loadConfig builds the effective configuration: the file (when given) over
// the defaults, then the command line over the file, then the mode's
// validation rules.
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

	if cli.Recv {
		if err := cfg.ValidateRecv(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	} else if err := cfg.ValidateSend(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// observability bundles the optional metrics server and websocket hub.
type observability struct {
	registry *metric.Registry
	server   *metric.Server
	hub      *monitor.Hub
}

// startObservability starts the metrics server when a port is configured and
// mounts the monitor hub on it when enabled. Both are optional; a run with
// neither gets a zero-value bundle and no listener.
func startObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability, error) {
	obs := &observability{}
	if !cfg.Metrics.Enabled() {
		if cfg.Monitor.Enabled {
			slog.Warn("monitor enabled without a metrics port; nothing to mount /ws on")
		}
		return obs, nil
	}

	obs.registry = metric.NewRegistry()
	obs.server = metric.NewServer(cfg.Metrics, obs.registry)

	if cfg.Monitor.Enabled {
		obs.hub = monitor.NewHub(logger)
		go obs.hub.Run(ctx)
		obs.server.Handle("/ws", obs.hub)
		if err := metric.RegisterMonitorCollectors(obs.registry, obs.hub); err != nil {
			return nil, err
		}
	}

	go func() {
		if err := obs.server.Start(); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("metrics server listening", "address", obs.server.Address())
	return obs, nil
}

func (o *observability) stop() {
	if o.server == nil {
		return
	}
	if err := o.server.Stop(); err != nil {
		slog.Warn("metrics server stop failed", "error", err)
	}
}

// notify returns a snapshot hook publishing to the hub, or nil when the
// monitor is off so callers skip the wrapping entirely.
func (o *observability) notify(eventName string) func(any) {
	if o.hub == nil {
		return nil
	}
	return func(v any) { o.hub.Publish(eventName, v) }
}

// runSend moves every input table to the destination and reports the
// aggregate outcome through the exit code.
func runSend(ctx context.Context, cfg *config.Config, registry *transport.Registry, obs *observability, logger *slog.Logger) error {
	uri, err := cfg.ParseURI()
	if err != nil {
		return err
	}

	registrar, err := registerSender(ctx, cfg, uri, logger)
	if err != nil {
		return err
	}
	if registrar != nil {
		defer deregister(registrar, logger)
	}

	seg, err := registry.OpenSegmenter(ctx, cfg.Transport.URI, transport.SendConfig{
		DataID:   cfg.Transport.DataID,
		SourceID: cfg.Transport.SourceID,
		MTU:      cfg.Transport.MTU,
		RateGbps: paced(cfg.Transport.RateGbps),
	})
	if err != nil {
		return fmt.Errorf("open segmenter: %w", err)
	}
	defer func() { _ = seg.Close() }()

	tables, closeTables, err := openTables(cfg.Send.Files)
	if err != nil {
		return err
	}
	defer closeTables()

	gw, err := stream.NewGateway(seg, stream.GatewayConfig{}, logger)
	if err != nil {
		return err
	}
	if obs.registry != nil {
		if err := metric.RegisterSendCollectors(obs.registry, gw); err != nil {
			return err
		}
	}

	capacity := batchCapacity(cfg.Send.BufSizeMB)
	slog.Info("send starting",
		"streams", len(tables),
		"batch_capacity", capacity,
		"destination", uri.String(),
		"data_id", cfg.Transport.DataID)

	coord, err := stream.NewCoordinator(gw, stream.CoordinatorConfig{
		BatchCapacity: capacity,
		DrainWait:     cfg.Send.DrainWait,
		Printer:       progress.NewPrinter(os.Stdout),
		Logger:        logger,
		Notify:        obs.notify("send"),
	})
	if err != nil {
		return err
	}

	report, err := coord.Run(ctx, tables)
	if err != nil {
		return err
	}
	if !report.Success() {
		if ferr := report.FirstError(); ferr != nil {
			return fmt.Errorf("send failed: %w", ferr)
		}
		return fmt.Errorf("send failed: %d wire errors", report.Engine.Errors)
	}
	return nil
}

// runRecv persists reassembled events until interrupted. Exit status follows
// the summary: wire losses are reported but only write errors fail the run.
func runRecv(ctx context.Context, cfg *config.Config, registry *transport.Registry, obs *observability, logger *slog.Logger) error {
	uri, err := cfg.ParseURI()
	if err != nil {
		return err
	}

	rea, err := registry.OpenReassembler(ctx, cfg.Transport.URI, transport.RecvConfig{
		ListenHost:   cfg.Recv.ListenIP,
		Port:         cfg.Recv.Port,
		Threads:      cfg.Recv.Threads,
		EventTimeout: cfg.Recv.EventTimeout,
	})
	if err != nil {
		return fmt.Errorf("open reassembler: %w", err)
	}
	defer func() { _ = rea.Close() }()

	fsink, err := file.New(cfg.Sink.File, logger)
	if err != nil {
		return err
	}
	defer func() { _ = fsink.Close() }()

	identity, registrar, err := workerIdentity(cfg, uri, logger)
	if err != nil {
		return err
	}

	var notify func(receive.Snapshot)
	if obs.hub != nil {
		notify = func(s receive.Snapshot) { obs.hub.Publish("receive", s) }
	}

	consumer, err := receive.NewConsumer(rea, fsink, receive.ConsumerConfig{
		PollInterval: cfg.Recv.PollInterval,
		Identity:     identity,
		Registrar:    registrar,
		Printer:      progress.NewPrinter(os.Stdout),
		Logger:       logger,
		Notify:       notify,
	})
	if err != nil {
		return err
	}
	if obs.registry != nil {
		if err := metric.RegisterReceiveCollectors(obs.registry, consumer.Counters(), rea); err != nil {
			return err
		}
	}

	slog.Info("receive starting",
		"listen", cfg.Recv.ListenIP,
		"port", cfg.Recv.Port,
		"threads", cfg.Recv.Threads,
		"directory", cfg.Sink.File.Directory)

	summary, err := consumer.Run(ctx)
	if err != nil {
		return err
	}
	if !summary.Success() {
		return fmt.Errorf("receive failed: %d write errors", summary.WriteErrors)
	}
	return nil
}

// registerSender announces the sender to the control plane before any
// traffic flows. Failure here is fatal: the balancer will not steer for a
// sender it has never heard of.
func registerSender(ctx context.Context, cfg *config.Config, uri transport.URI, logger *slog.Logger) (control.Registrar, error) {
	if !cfg.Transport.ControlPlane || uri.ControlAddr == "" {
		return nil, nil
	}
	registrar, err := control.NewHTTP(uri, cfg.Transport.TLS, logger)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	if err := registrar.Register(ctx, control.Identity{Name: host, Host: host}); err != nil {
		return nil, fmt.Errorf("register sender: %w", err)
	}
	slog.Info("sender registered with control plane", "name", host)
	return registrar, nil
}

// workerIdentity builds the receive side's control plane wiring. The
// consumer registers it best effort and deregisters on exit; without the
// control plane both stay nil and the consumer skips registration.
func workerIdentity(cfg *config.Config, uri transport.URI, logger *slog.Logger) (control.Identity, control.Registrar, error) {
	if !cfg.Transport.ControlPlane || uri.ControlAddr == "" {
		return control.Identity{}, nil, nil
	}
	registrar, err := control.NewHTTP(uri, cfg.Transport.TLS, logger)
	if err != nil {
		return control.Identity{}, nil, err
	}
	host, _ := os.Hostname()
	return control.Identity{
		Name: host,
		Host: cfg.Recv.ListenIP,
		Port: cfg.Recv.Port,
	}, registrar, nil
}

// deregister is best effort on the way out.
func deregister(registrar control.Registrar, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	if err := registrar.Deregister(ctx); err != nil {
		logger.Warn("control plane deregistration failed", "error", err)
	}
}

// openTables opens every input as a column-file table. All inputs are opened
// before any traffic flows so a bad path fails the run up front.
func openTables(files []string) ([]source.Table, func(), error) {
	tables := make([]source.Table, 0, len(files))
	closeAll := func() {
		for _, t := range tables {
			_ = t.Close()
		}
	}
	for _, path := range files {
		t, err := colfile.Open(path, "")
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open table %s: %w", path, err)
		}
		tables = append(tables, t)
	}
	return tables, closeAll, nil
}

// batchCapacity converts the MiB budget into whole events per batch.
func batchCapacity(bufSizeMB int) int {
	return bufSizeMB * 1024 * 1024 / event.FrameSize
}

// paced maps the CLI rate convention (negative = no limit) onto the engine
// convention (zero = no pacing).
func paced(gbps float64) float64 {
	if gbps < 0 {
		return 0
	}
	return gbps
}
