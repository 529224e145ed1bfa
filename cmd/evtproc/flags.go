package main

import (
	"flag"
	"fmt"
	"os"

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

	NATSURL   string
	Subject   string
	Queue     string
	JetStream bool
	Stream    string

	Workers    int
	QueueDepth int

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

	flag.StringVar(&cfg.NATSURL, "nats-url",
		config.Env("E2SAR_NATS_URL", config.DefaultBrokerURL),
		"NATS server URL (env: E2SAR_NATS_URL)")

	flag.StringVar(&cfg.Subject, "subject",
		config.Env("E2SAR_SUBJECT", config.DefaultSubject),
		"Subject prefix; the processor subscribes to <prefix>.> (env: E2SAR_SUBJECT)")

	flag.StringVar(&cfg.Queue, "queue",
		config.Env("E2SAR_QUEUE", ""),
		"Queue group; processors sharing it split the events (env: E2SAR_QUEUE)")

	flag.BoolVar(&cfg.JetStream, "jetstream",
		config.EnvBool("E2SAR_JETSTREAM", false),
		"Consume from a JetStream stream instead of core subjects (env: E2SAR_JETSTREAM)")

	flag.StringVar(&cfg.Stream, "stream",
		config.Env("E2SAR_STREAM", ""),
		"JetStream stream to consume, with --jetstream (env: E2SAR_STREAM)")

	flag.IntVar(&cfg.Workers, "workers",
		config.EnvInt("E2SAR_WORKERS", config.DefaultProcWorkers),
		"Analysis worker goroutines (env: E2SAR_WORKERS)")

	flag.IntVar(&cfg.QueueDepth, "queue-depth",
		config.EnvInt("E2SAR_QUEUE_DEPTH", config.DefaultProcQueue),
		"Payloads queued ahead of the workers; overflow is dropped (env: E2SAR_QUEUE_DEPTH)")

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

	if cfg.JetStream && cfg.Stream == "" {
		return fmt.Errorf("--jetstream requires --stream")
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
	if c.overrides("nats-url", "E2SAR_NATS_URL") {
		cfg.Broker.URL = c.NATSURL
	}
	if c.overrides("subject", "E2SAR_SUBJECT") {
		cfg.Broker.SubjectPrefix = c.Subject
	}
	if c.overrides("queue", "E2SAR_QUEUE") {
		cfg.Broker.Queue = c.Queue
	}
	if c.overrides("jetstream", "E2SAR_JETSTREAM") {
		cfg.Broker.JetStream = c.JetStream
	}
	if c.overrides("stream", "E2SAR_STREAM") {
		cfg.Broker.Stream = c.Stream
	}
	if c.overrides("workers", "E2SAR_WORKERS") {
		cfg.Proc.Workers = c.Workers
	}
	if c.overrides("queue-depth", "E2SAR_QUEUE_DEPTH") {
		cfg.Proc.QueueDepth = c.QueueDepth
	}
	if c.overrides("metrics-port", "E2SAR_METRICS_PORT") {
		cfg.Metrics.Port = c.MetricsPort
	}
}

func (c *CLIConfig) overrides(name, envKey string) bool {
	return c.set[name] || os.Getenv(envKey) != ""
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - kinematic analysis processor

Usage: %s [options]

Subscribes to the subjects the bridge publishes on, decodes each payload,
and applies the three-pion selection: sqrt(s(pi+pi-)) >= 0.278 GeV and the
two-photon mass inside the pi0 window [0.08, 0.15] GeV.

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Analyze everything the bridge publishes
  %s --nats-url nats://127.0.0.1:4222 --subject events

  # Two processors splitting the load, eight workers each
  %s --subject events --queue dalitz --workers 8 &
  %s --subject events --queue dalitz --workers 8

  # Replay a durable stream
  %s --jetstream --stream EVENTS --subject events

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
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
