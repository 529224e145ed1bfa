// Package main implements evtbridge, the transport-to-NATS bridge. It sits
// where a receiver would, but instead of writing files it republishes every
// reassembled event to a NATS subject so downstream processors can fan out
// without touching the data plane. With --archive-bucket it also keeps a
// copy of every event in a JetStream object store.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JeffersonLab/e2sar-utils/config"
	"github.com/JeffersonLab/e2sar-utils/control"
	"github.com/JeffersonLab/e2sar-utils/metric"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/pkg/progress"
	"github.com/JeffersonLab/e2sar-utils/receive"
	"github.com/JeffersonLab/e2sar-utils/sink"
	natssink "github.com/JeffersonLab/e2sar-utils/sink/nats"
	"github.com/JeffersonLab/e2sar-utils/sink/object"
	"github.com/JeffersonLab/e2sar-utils/transport"
	"github.com/JeffersonLab/e2sar-utils/transport/loopback"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "evtbridge"
)

const connectTimeout = 10 * time.Second

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

	nsink, err := natssink.New(ctx, client, cfg.Broker.Config)
	if err != nil {
		return fmt.Errorf("build NATS sink: %w", err)
	}

	// The archive rides the same broker connection, so a publish and its
	// archival copy share fate on connection loss.
	var dest sink.Sink = nsink
	var archive *object.Sink
	if cfg.Sink.Object.Enabled() {
		archive, err = object.New(ctx, client, cfg.Sink.Object, logger)
		if err != nil {
			return fmt.Errorf("build archive sink: %w", err)
		}
		dest = sink.NewMulti(nsink, archive)
		slog.Info("archiving events", "bucket", cfg.Sink.Object.Bucket)
	}
	defer func() { _ = dest.Close() }()

	registry := transport.NewRegistry()
	if err := loopback.Register(registry); err != nil {
		return fmt.Errorf("register drivers: %w", err)
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

	identity, registrar, err := workerIdentity(cfg, logger)
	if err != nil {
		return err
	}

	consumer, err := receive.NewConsumer(rea, dest, receive.ConsumerConfig{
		PollInterval: cfg.Recv.PollInterval,
		Identity:     identity,
		Registrar:    registrar,
		Printer:      progress.NewPrinter(os.Stdout),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if reg != nil {
		if err := metric.RegisterReceiveCollectors(reg, consumer.Counters(), rea); err != nil {
			return err
		}
		if err := metric.RegisterBrokerCollectors(reg, client); err != nil {
			return err
		}
		if err := registerBridgeCollectors(reg, nsink, archive); err != nil {
			return err
		}
	}

	slog.Info("bridge starting",
		"listen", cfg.Recv.ListenIP,
		"port", cfg.Recv.Port,
		"broker", cfg.Broker.URL,
		"subject_prefix", cfg.Broker.SubjectPrefix,
		"jetstream", cfg.Broker.JetStream)

	summary, err := consumer.Run(ctx)
	stopped := []any{"published", nsink.Published()}
	if archive != nil {
		stopped = append(stopped, "archived", archive.Stored())
	}
	slog.Info("bridge stopped", stopped...)
	if err != nil {
		return err
	}
	if !summary.Success() {
		return fmt.Errorf("bridge failed: %d events not published", summary.WriteErrors)
	}
	return nil
}

// registerBridgeCollectors exposes the sink-side counters. The archive
// counter registers only when the archive is on.
func registerBridgeCollectors(reg *metric.Registry, nsink *natssink.Sink, archive *object.Sink) error {
	published := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "e2sar",
		Subsystem: "bridge",
		Name:      "published_total",
		Help:      "Events published to the broker.",
	}, func() float64 { return float64(nsink.Published()) })
	if err := reg.RegisterCounterFunc("bridge", "published_total", published); err != nil {
		return err
	}

	if archive == nil {
		return nil
	}
	archived := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "e2sar",
		Subsystem: "bridge",
		Name:      "archived_total",
		Help:      "Events archived to the object store.",
	}, func() float64 { return float64(archive.Stored()) })
	return reg.RegisterCounterFunc("bridge", "archived_total", archived)
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

	slog.Info("Starting evtbridge", "version", Version, "build_time", BuildTime)

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

	if err := cfg.ValidateRecv(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateBroker(); err != nil {
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
// connection. No broker, no bridge: a connect failure is fatal.
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

// workerIdentity builds the control plane wiring for the bridge's receive
// side; nil without --withcp or on URIs that carry no control address.
func workerIdentity(cfg *config.Config, logger *slog.Logger) (control.Identity, control.Registrar, error) {
	uri, err := cfg.ParseURI()
	if err != nil {
		return control.Identity{}, nil, err
	}
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
