// Package object archives each event record in a JetStream object store,
// keyed by stream and event number so completed runs can be browsed and
// fetched without access to the receiver's filesystem.
//
// Keys look like 5/00000042: the data id, a slash, the zero-padded event
// number. The event number and data id also ride along as object headers,
// so a listing carries enough to identify a record without parsing keys.
package object

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/sink"
	natssink "github.com/JeffersonLab/e2sar-utils/sink/nats"
)

// bucketRe is the JetStream bucket name grammar.
var bucketRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds configuration for the object store sink.
type Config struct {
	// Bucket names the object store. Empty disables the archive.
	Bucket string `yaml:"bucket"`

	// Description is set on the bucket when it is first created.
	Description string `yaml:"description"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

// Validate checks the configuration for errors. An empty bucket is valid
// and means the archive is off.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return nil
	}
	if !bucketRe.MatchString(c.Bucket) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("bucket %q must match %s", c.Bucket, bucketRe))
	}
	return nil
}

// Sink puts one object per record. The client's lifecycle stays with
// whoever opened it.
type Sink struct {
	store  jetstream.ObjectStore
	logger *slog.Logger
	stored atomic.Int64
}

// New ensures the bucket exists and returns a ready sink.
func New(ctx context.Context, client *natsclient.Client, cfg Config, logger *slog.Logger) (*Sink, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "New", "client check")
	}
	if !cfg.Enabled() {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "New", "bucket check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	js, err := client.JetStream()
	if err != nil {
		return nil, err
	}
	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: cfg.Description,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Sink", "New",
			fmt.Sprintf("ensure bucket %s", cfg.Bucket))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger.With("component", "objectsink")}, nil
}

// Key returns the object name for a record: <dataID>/<8-digit event number>.
func Key(dataID uint16, num uint64) string {
	return fmt.Sprintf("%d/%08d", dataID, num)
}

// Store archives rec under its key. Duplicate deliveries of an event
// number overwrite the previous object.
func (s *Sink) Store(ctx context.Context, rec sink.Record) error {
	hdr := nats.Header{}
	hdr.Set(natssink.HeaderEventNumber, strconv.FormatUint(rec.Num, 10))
	hdr.Set(natssink.HeaderDataID, strconv.Itoa(int(rec.DataID)))

	meta := jetstream.ObjectMeta{
		Name:    Key(rec.DataID, rec.Num),
		Headers: hdr,
	}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(rec.Data)); err != nil {
		return errors.Wrap(err, "Sink", "Store",
			fmt.Sprintf("archive event %d", rec.Num))
	}
	s.stored.Add(1)
	return nil
}

// Stored returns the number of records archived so far.
func (s *Sink) Stored() int64 {
	return s.stored.Load()
}

// Close is a no-op: puts are synchronous and the client is shared.
func (s *Sink) Close() error { return nil }
