package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JeffersonLab/e2sar-utils/config"
	"github.com/JeffersonLab/e2sar-utils/sink/file"
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

	Send bool
	Recv bool

	URI       string
	DataID    int
	SourceID  int
	MTU       int
	Rate      float64
	WithCP    bool
	BufSizeMB int

	RecvIP        string
	RecvPort      int
	RecvThreads   int
	EventTimeout  time.Duration
	OutputDir     string
	OutputPattern string

	MetricsPort int
	Monitor     bool

	Files []string

	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	set map[string]bool
}

func (c *CLIConfig) mode() string {
	if c.Recv {
		return "recv"
	}
	return "send"
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

	flag.BoolVar(&cfg.Send, "send", false, "Send event tables to the destination")
	flag.BoolVar(&cfg.Recv, "recv", false, "Receive events and write one file each")

	flag.StringVar(&cfg.URI, "uri",
		config.Env("EJFAT_URI", ""),
		"Destination URI, e.g. ejfat://token@host:port/lb/id?data=... (env: EJFAT_URI)")

	flag.IntVar(&cfg.DataID, "dataid",
		config.EnvInt("E2SAR_DATA_ID", config.DefaultDataID),
		"Data id tagged on every frame (env: E2SAR_DATA_ID)")

	flag.IntVar(&cfg.SourceID, "eventsrcid",
		config.EnvInt("E2SAR_SOURCE_ID", config.DefaultSourceID),
		"Event source id announced to the balancer (env: E2SAR_SOURCE_ID)")

	flag.IntVar(&cfg.BufSizeMB, "bufsize-mb",
		config.EnvInt("E2SAR_BUFSIZE_MB", config.DefaultBufSizeMB),
		"Batch buffer budget in MiB (env: E2SAR_BUFSIZE_MB)")

	flag.IntVar(&cfg.MTU, "mtu",
		config.EnvInt("E2SAR_MTU", config.DefaultMTU),
		"Data plane MTU (env: E2SAR_MTU)")

	flag.Float64Var(&cfg.Rate, "rate",
		config.EnvFloat("E2SAR_RATE_GBPS", config.DefaultRateGbps),
		"Send pacing in Gbps, negative for no limit (env: E2SAR_RATE_GBPS)")

	flag.BoolVar(&cfg.WithCP, "withcp",
		config.EnvBool("E2SAR_WITHCP", false),
		"Register with the load balancer control plane (env: E2SAR_WITHCP)")

	flag.StringVar(&cfg.RecvIP, "recv-ip",
		config.Env("E2SAR_RECV_IP", ""),
		"Data plane listen address, required with --recv on ejfat URIs (env: E2SAR_RECV_IP)")

	flag.IntVar(&cfg.RecvPort, "recv-port",
		config.EnvInt("E2SAR_RECV_PORT", config.DefaultRecvPort),
		"First data plane UDP port (env: E2SAR_RECV_PORT)")

	flag.IntVar(&cfg.RecvThreads, "recv-threads",
		config.EnvInt("E2SAR_RECV_THREADS", config.DefaultRecvThreads),
		"Engine reassembly threads (env: E2SAR_RECV_THREADS)")

	flag.DurationVar(&cfg.EventTimeout, "event-timeout",
		config.EnvDuration("E2SAR_EVENT_TIMEOUT", config.DefaultEventTimeout),
		"How long a partial event waits for its fragments (env: E2SAR_EVENT_TIMEOUT)")

	flag.StringVar(&cfg.OutputDir, "output-dir",
		config.Env("E2SAR_OUTPUT_DIR", "."),
		"Directory received event files are written to (env: E2SAR_OUTPUT_DIR)")

	flag.StringVar(&cfg.OutputPattern, "output-pattern",
		config.Env("E2SAR_OUTPUT_PATTERN", file.DefaultPattern),
		"File name pattern with a {:0Nd} event number placeholder (env: E2SAR_OUTPUT_PATTERN)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		config.EnvInt("E2SAR_METRICS_PORT", 0),
		"Prometheus /metrics port, 0 to disable (env: E2SAR_METRICS_PORT)")

	flag.BoolVar(&cfg.Monitor, "monitor",
		config.EnvBool("E2SAR_MONITOR", false),
		"Mount the websocket progress hub at /ws on the metrics server (env: E2SAR_MONITOR)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		config.Env("E2SAR_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: E2SAR_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		config.Env("E2SAR_LOG_FORMAT", "text"),
		"Log format: json, text (env: E2SAR_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage
	flag.Usage = printDetailedHelp

	flag.Parse()

	cfg.Files = flag.Args()
	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.Send == cfg.Recv {
		return fmt.Errorf("exactly one of --send or --recv is required")
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
// explicitly or its environment variable is set; otherwise the file value
// (or default) stands.
func (c *CLIConfig) mergeInto(cfg *config.Config) {
	if c.overrides("uri", "EJFAT_URI") {
		cfg.Transport.URI = c.URI
	}
	if c.overrides("dataid", "E2SAR_DATA_ID") {
		cfg.Transport.DataID = uint16(c.DataID)
	}
	if c.overrides("eventsrcid", "E2SAR_SOURCE_ID") {
		cfg.Transport.SourceID = uint32(c.SourceID)
	}
	if c.overrides("bufsize-mb", "E2SAR_BUFSIZE_MB") {
		cfg.Send.BufSizeMB = c.BufSizeMB
	}
	if c.overrides("mtu", "E2SAR_MTU") {
		cfg.Transport.MTU = c.MTU
	}
	if c.overrides("rate", "E2SAR_RATE_GBPS") {
		cfg.Transport.RateGbps = c.Rate
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
	if c.overrides("output-dir", "E2SAR_OUTPUT_DIR") {
		cfg.Sink.File.Directory = c.OutputDir
	}
	if c.overrides("output-pattern", "E2SAR_OUTPUT_PATTERN") {
		cfg.Sink.File.Pattern = c.OutputPattern
	}
	if c.overrides("metrics-port", "E2SAR_METRICS_PORT") {
		cfg.Metrics.Port = c.MetricsPort
	}
	if c.overrides("monitor", "E2SAR_MONITOR") {
		cfg.Monitor.Enabled = c.Monitor
	}
	if len(c.Files) > 0 {
		cfg.Send.Files = c.Files
	}
}

func (c *CLIConfig) overrides(name, envKey string) bool {
	return c.set[name] || os.Getenv(envKey) != ""
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - event mover

Usage: %s --send [options] table [table ...]
       %s --recv [options]

Each table is a directory of little-endian float64 column files
(<branch>.f64), one row per event.

Options:
`, appName, os.Args[0], os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Send two tables in 10 MiB batches over the in-process engine
  %s --send --uri "loopback:demo" run_018311 run_018321

  # Send through a load balancer with control plane registration
  %s --send --withcp --uri "ejfat://token@lb:18020/lb/36?data=10.1.1.5" run_018311

  # Receive into numbered files under ./events
  %s --recv --uri "ejfat://token@lb:18020/lb/36" --recv-ip 10.1.1.5 --output-dir events

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
