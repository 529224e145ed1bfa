package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JeffersonLab/e2sar-utils/config"
)

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
)

// CLIConfig holds the command line.
type CLIConfig struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	URI          string
	WithCP       bool
	RecvIP       string
	RecvPort     int
	RecvThreads  int
	EventTimeout time.Duration

	NATSURL       string
	Subject       string
	JetStream     bool
	Stream        string
	ArchiveBucket string

	MetricsPort int

	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	set map[string]bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{set: make(map[string]bool)}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		config.Env("E2SAR_CONFIG", ""),
		"Path to YAML configuration file, optional (env: E2SAR_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		config.Env("E2SAR_CONFIG", ""),
		"Path to YAML configuration file, optional (env: E2SAR_CONFIG)")

	flag.StringVar(&cfg.URI, "uri",
		config.Env("EJFAT_URI", ""),
		"Destination URI the bridge receives from (env: EJFAT_URI)")

	flag.BoolVar(&cfg.WithCP, "withcp",
		config.EnvBool("E2SAR_WITHCP", false),
		"Register the worker with the control plane (env: E2SAR_WITHCP)")

	flag.StringVar(&cfg.RecvIP, "recv-ip",
		config.Env("E2SAR_RECV_IP", ""),
		"Data plane listen address, required on ejfat URIs (env: E2SAR_RECV_IP)")

	flag.IntVar(&cfg.RecvPort, "recv-port",
		config.EnvInt("E2SAR_RECV_PORT", config.DefaultRecvPort),
		"First data plane UDP port (env: E2SAR_RECV_PORT)")

	flag.IntVar(&cfg.RecvThreads, "recv-threads",
		config.EnvInt("E2SAR_RECV_THREADS", config.DefaultRecvThreads),
		"Engine reassembly threads (env: E2SAR_RECV_THREADS)")

	flag.DurationVar(&cfg.EventTimeout, "event-timeout",
		config.EnvDuration("E2SAR_EVENT_TIMEOUT", config.DefaultEventTimeout),
		"How long a partial event waits for its fragments (env: E2SAR_EVENT_TIMEOUT)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		config.Env("E2SAR_NATS_URL", config.DefaultBrokerURL),
		"NATS server URL (env: E2SAR_NATS_URL)")

	flag.StringVar(&cfg.Subject, "subject",
		config.Env("E2SAR_SUBJECT", config.DefaultSubject),
		"Subject prefix; events publish to <prefix>.<dataid> (env: E2SAR_SUBJECT)")

	flag.BoolVar(&cfg.JetStream, "jetstream",
		config.EnvBool("E2SAR_JETSTREAM", false),
		"Publish through JetStream and wait for acks (env: E2SAR_JETSTREAM)")

	flag.StringVar(&cfg.Stream, "stream",
		config.Env("E2SAR_STREAM", ""),
		"JetStream stream to ensure at startup (env: E2SAR_STREAM)")

	flag.StringVar(&cfg.ArchiveBucket, "archive-bucket",
		config.Env("E2SAR_ARCHIVE_BUCKET", ""),
		"Object store bucket to archive events in, empty to disable (env: E2SAR_ARCHIVE_BUCKET)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		config.EnvInt("E2SAR_METRICS_PORT", 0),
		"Prometheus /metrics port, 0 to disable (env: E2SAR_METRICS_PORT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		config.Env("E2SAR_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: E2SAR_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		config.Env("E2SAR_LOG_FORMAT", "json"),
		"Log format: json, text (env: E2SAR_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage
	flag.Usage = printDetailedHelp

	flag.Parse()

	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

// mergeInto lays the command line over cfg. A flag wins when it was passed
// explicitly or its environment variable is set.
func (c *CLIConfig) mergeInto(cfg *config.Config) {
	if c.overrides("uri", "EJFAT_URI") {
		cfg.Transport.URI = c.URI
	}
	if c.overrides("withcp", "E2SAR_WITHCP") {
		cfg.Transport.ControlPlane = c.WithCP
	}
	if c.overrides("recv-ip", "E2SAR_RECV_IP") {
		cfg.Recv.ListenIP = c.RecvIP
	}
	if c.overrides("recv-port", "E2SAR_RECV_PORT") {
		cfg.Recv.Port = c.RecvPort
	}
	if c.overrides("recv-threads", "E2SAR_RECV_THREADS") {
		cfg.Recv.Threads = c.RecvThreads
	}
	if c.overrides("event-timeout", "E2SAR_EVENT_TIMEOUT") {
		cfg.Recv.EventTimeout = c.EventTimeout
	}
	if c.overrides("nats-url", "E2SAR_NATS_URL") {
		cfg.Broker.URL = c.NATSURL
	}
	if c.overrides("subject", "E2SAR_SUBJECT") {
		cfg.Broker.SubjectPrefix = c.Subject
	}
	if c.overrides("jetstream", "E2SAR_JETSTREAM") {
		cfg.Broker.JetStream = c.JetStream
	}
	if c.overrides("stream", "E2SAR_STREAM") {
		cfg.Broker.Stream = c.Stream
	}
	if c.overrides("archive-bucket", "E2SAR_ARCHIVE_BUCKET") {
		cfg.Sink.Object.Bucket = c.ArchiveBucket
	}
	if c.overrides("metrics-port", "E2SAR_METRICS_PORT") {
		cfg.Metrics.Port = c.MetricsPort
	}
}

func (c *CLIConfig) overrides(name, envKey string) bool {
	return c.set[name] || os.Getenv(envKey) != ""
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - transport to NATS bridge

Usage: %s [options]

Receives reassembled events from the data plane and republishes each one
to <subject>.<dataid> with the event number in a header.

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Bridge the in-process engine to a local NATS server
  %s --uri "loopback:demo" --nats-url nats://127.0.0.1:4222 --subject events

  # Durable bridge: ensure a stream and publish with acks
  %s --uri "ejfat://token@lb:18020/lb/36" --recv-ip 10.1.1.5 --jetstream --stream EVENTS

  # Keep an archival copy of every event in an object store bucket
  %s --uri "loopback:demo" --subject events --archive-bucket RUN42

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
