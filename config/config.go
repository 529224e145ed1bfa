package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/metric"
	"github.com/JeffersonLab/e2sar-utils/pkg/tlsutil"
	"github.com/JeffersonLab/e2sar-utils/sink/file"
	natssink "github.com/JeffersonLab/e2sar-utils/sink/nats"
	"github.com/JeffersonLab/e2sar-utils/sink/object"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// Defaults shared by the binaries.
const (
	DefaultDataID       = 1
	DefaultSourceID     = 1
	DefaultMTU          = 1500
	DefaultRateGbps     = 1.0
	DefaultBufSizeMB    = 10
	DefaultRecvPort     = 19522
	DefaultRecvThreads  = 1
	DefaultEventTimeout = 500 * time.Millisecond
	DefaultPollInterval = time.Second
	DefaultDrainWait    = 500 * time.Millisecond
	DefaultBrokerURL    = "nats://127.0.0.1:4222"
	DefaultSubject      = "events"
	DefaultProcWorkers  = 4
	DefaultProcQueue    = 256
)

// MTU bounds accepted by the data plane.
const (
	MinMTU = 576
	MaxMTU = 9000
)

// TransportConfig describes the wire and the control plane, shared by the
// send and receive sides.
type TransportConfig struct {
	// URI is the destination descriptor: an ejfat:// URI, or another
	// registered driver scheme such as loopback: for in-process runs.
	URI string `yaml:"uri"`

	// DataID tags every frame; the receiver reports losses per data id.
	DataID uint16 `yaml:"data_id"`

	// SourceID identifies this sender to the load balancer.
	SourceID uint32 `yaml:"source_id"`

	// MTU bounds the frame size on the wire.
	MTU int `yaml:"mtu"`

	// RateGbps paces the send side. Negative means unpaced.
	RateGbps float64 `yaml:"rate_gbps"`

	// ControlPlane enables worker registration against the URI's control
	// address. Off, both sides run with control.Noop.
	ControlPlane bool `yaml:"control_plane"`

	TLS tlsutil.ClientConfig `yaml:"tls"`
}

// SendConfig drives the batching sender.
type SendConfig struct {
	// Files lists the source tables, one stream per entry.
	Files []string `yaml:"files"`

	// BufSizeMB is the per-stream batch budget in MiB.
	BufSizeMB int `yaml:"bufsize_mb"`

	// DrainWait is the pause between the last send and the final engine
	// counter read.
	DrainWait time.Duration `yaml:"drain_wait"`
}

// RecvConfig drives the reassembly receiver.
type RecvConfig struct {
	// ListenIP is the data plane listen address. Required for ejfat
	// URIs; loopback runs ignore it.
	ListenIP string `yaml:"listen_ip"`

	// Port is the first UDP port; each extra thread takes the next one.
	Port int `yaml:"port"`

	// Threads is the reassembly thread count handed to the engine.
	Threads int `yaml:"threads"`

	// EventTimeout bounds how long a partially assembled event waits for
	// its remaining fragments.
	EventTimeout time.Duration `yaml:"event_timeout"`

	// PollInterval is the consumer's per-Receive wait.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SinkConfig selects where received events go.
type SinkConfig struct {
	File file.Config `yaml:"file"`

	// Object archives events to a JetStream object store when a bucket
	// is named. The bridge stores alongside its publishes.
	Object object.Config `yaml:"object"`
}

// BrokerConfig configures the NATS leg used by the bridge and processor.
type BrokerConfig struct {
	// URL of the NATS server.
	URL string `yaml:"url"`

	// Queue is the processor's queue group. Empty means every processor
	// instance sees every event; set it to share the load round-robin.
	Queue string `yaml:"queue"`

	natssink.Config `yaml:",inline"`
}

// ProcConfig sizes the processor's analysis pool.
type ProcConfig struct {
	// Workers is the number of goroutines decoding and analyzing
	// payloads.
	Workers int `yaml:"workers"`

	// QueueDepth bounds payloads waiting for a worker. The broker
	// callback drops past it rather than block the subscription.
	QueueDepth int `yaml:"queue_depth"`
}

// MonitorConfig controls the websocket hub.
type MonitorConfig struct {
	// Enabled mounts the hub at /ws on the metrics server.
	Enabled bool `yaml:"enabled"`
}

// Config is the complete configuration for one binary. Sections a binary
// does not use are ignored by its mode validation.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Send      SendConfig      `yaml:"send"`
	Recv      RecvConfig      `yaml:"recv"`
	Sink      SinkConfig      `yaml:"sink"`
	Broker    BrokerConfig    `yaml:"broker"`
	Proc      ProcConfig      `yaml:"proc"`
	Metrics   metric.Config   `yaml:"metrics"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// DefaultConfig returns the configuration every run starts from.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			DataID:   DefaultDataID,
			SourceID: DefaultSourceID,
			MTU:      DefaultMTU,
			RateGbps: DefaultRateGbps,
		},
		Send: SendConfig{
			BufSizeMB: DefaultBufSizeMB,
			DrainWait: DefaultDrainWait,
		},
		Recv: RecvConfig{
			Port:         DefaultRecvPort,
			Threads:      DefaultRecvThreads,
			EventTimeout: DefaultEventTimeout,
			PollInterval: DefaultPollInterval,
		},
		Sink: SinkConfig{
			File: file.Config{Directory: ".", Pattern: file.DefaultPattern},
		},
		Broker: BrokerConfig{
			URL:    DefaultBrokerURL,
			Config: natssink.Config{SubjectPrefix: DefaultSubject},
		},
		Proc: ProcConfig{
			Workers:    DefaultProcWorkers,
			QueueDepth: DefaultProcQueue,
		},
	}
}

// Load overlays the YAML file at path onto the defaults. Unknown keys are
// an error; an empty file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("open %s", path))
	}
	defer func() { _ = f.Close() }()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg, nil
		}
		return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("parse %s", path))
	}

	return cfg, nil
}

// Validate checks the rules every binary shares.
func (c *Config) Validate() error {
	if c.Transport.MTU < MinMTU || c.Transport.MTU > MaxMTU {
		return errors.WrapInvalid(
			fmt.Errorf("mtu %d out of range [%d, %d]", c.Transport.MTU, MinMTU, MaxMTU),
			"Config", "Validate", "mtu validation")
	}
	if c.Send.BufSizeMB < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("bufsize_mb %d", c.Send.BufSizeMB),
			"Config", "Validate", "batch budget validation")
	}
	if c.Recv.EventTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("event_timeout %s", c.Recv.EventTimeout),
			"Config", "Validate", "event timeout validation")
	}
	if c.Recv.PollInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("poll_interval %s", c.Recv.PollInterval),
			"Config", "Validate", "poll interval validation")
	}
	if err := c.Sink.File.Validate(); err != nil {
		return err
	}
	if err := c.Sink.Object.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateSend adds the sender's requirements: a parseable URI and at least
// one input table.
func (c *Config) ValidateSend() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := c.ParseURI(); err != nil {
		return err
	}
	if len(c.Send.Files) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "ValidateSend", "input files validation")
	}
	return nil
}

// ValidateRecv adds the receiver's requirements. The listen address is only
// required for ejfat URIs; in-process drivers carry their endpoint in the
// URI itself.
func (c *Config) ValidateRecv() error {
	if err := c.Validate(); err != nil {
		return err
	}
	u, err := c.ParseURI()
	if err != nil {
		return err
	}
	if (u.Scheme == "ejfat" || u.Scheme == "ejfats") && c.Recv.ListenIP == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "ValidateRecv", "listen address validation")
	}
	if c.Recv.Port < 1 || c.Recv.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d", c.Recv.Port),
			"Config", "ValidateRecv", "listen port validation")
	}
	if c.Recv.Threads < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("threads %d", c.Recv.Threads),
			"Config", "ValidateRecv", "thread count validation")
	}
	return nil
}

// ValidateBroker checks the NATS leg.
func (c *Config) ValidateBroker() error {
	if c.Broker.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "ValidateBroker", "broker url validation")
	}
	return c.Broker.Config.Validate()
}

// ValidateProc checks the processor's pool sizing.
func (c *Config) ValidateProc() error {
	if c.Proc.Workers < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("workers %d", c.Proc.Workers),
			"Config", "ValidateProc", "worker count validation")
	}
	if c.Proc.QueueDepth < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("queue_depth %d", c.Proc.QueueDepth),
			"Config", "ValidateProc", "queue depth validation")
	}
	return nil
}

// ParseURI parses the transport URI.
func (c *Config) ParseURI() (transport.URI, error) {
	if c.Transport.URI == "" {
		return transport.URI{}, errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "ParseURI", "transport uri validation")
	}
	return transport.ParseURI(c.Transport.URI)
}
