// Package nats publishes each event record to a broker subject derived
// from the stream id, with the event number carried in a header. Core
// publishes are fire-and-forget; JetStream mode waits for the ack.
package nats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/sink"
)

// Headers carried on every published record.
const (
	HeaderEventNumber = "Ejfat-Event-Number"
	HeaderDataID      = "Ejfat-Data-Id"
)

// Config holds configuration for the NATS sink.
type Config struct {
	// SubjectPrefix forms the subject as <prefix>.<dataID>.
	SubjectPrefix string `yaml:"subject_prefix"`

	// JetStream publishes through JetStream and waits for each ack,
	// trading throughput for durability.
	JetStream bool `yaml:"jetstream"`

	// Stream names the JetStream stream ensured at startup when
	// JetStream is on. Empty skips stream creation.
	Stream string `yaml:"stream"`
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " \t*>") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must be a literal subject prefix")
	}
	if c.Stream != "" && !c.JetStream {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream requires jetstream mode")
	}
	return nil
}

// Sink publishes one message per record over a shared client. The client's
// lifecycle stays with whoever opened it.
type Sink struct {
	client    *natsclient.Client
	cfg       Config
	published atomic.Int64
}

// New wires the sink. With JetStream on and a stream name set, the stream
// is created (or updated) to cover <prefix>.> before anything publishes.
func New(ctx context.Context, client *natsclient.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "New", "client check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.JetStream && cfg.Stream != "" {
		_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
		})
		if err != nil {
			return nil, errors.Wrap(err, "Sink", "New", "ensure stream")
		}
	}

	return &Sink{client: client, cfg: cfg}, nil
}

// Store publishes rec to <prefix>.<dataID>.
func (s *Sink) Store(ctx context.Context, rec sink.Record) error {
	msg := nats.NewMsg(fmt.Sprintf("%s.%d", s.cfg.SubjectPrefix, rec.DataID))
	msg.Data = rec.Data
	msg.Header.Set(HeaderEventNumber, strconv.FormatUint(rec.Num, 10))
	msg.Header.Set(HeaderDataID, strconv.Itoa(int(rec.DataID)))

	var err error
	if s.cfg.JetStream {
		err = s.client.PublishToStream(ctx, msg)
	} else {
		err = s.client.PublishMsg(msg)
	}
	if err != nil {
		return errors.Wrap(err, "Sink", "Store",
			fmt.Sprintf("publish event %d", rec.Num))
	}
	s.published.Add(1)
	return nil
}

// Published returns the number of records published so far.
func (s *Sink) Published() int64 {
	return s.published.Load()
}

// Close flushes pending publishes so nothing sits in the client buffer.
func (s *Sink) Close() error {
	return s.client.Flush()
}
