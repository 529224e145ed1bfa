// Package file persists each event record to its own file, named from the
// event number by a width-formatted pattern such as event_{:08d}.dat.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/sink"
)

// DefaultPattern names files by zero-padded event number.
const DefaultPattern = "event_{:08d}.dat"

var (
	placeholderRe = regexp.MustCompile(`\{:0(\d+)d\}`)
	printfRe      = regexp.MustCompile(`%0\d+d`)
)

// Config holds configuration for the file sink.
type Config struct {
	// Directory receives the event files. Created if missing.
	Directory string `yaml:"directory"`

	// Pattern is the file name template. It must contain exactly one
	// event number placeholder, either {:0Nd} or printf-style %0Nd; the
	// number is padded to N digits.
	Pattern string `yaml:"pattern"`

	// Fsync forces every record to stable storage before Store returns.
	Fsync bool `yaml:"fsync"`
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"directory is required")
	}
	if c.Pattern != "" {
		if _, err := compilePattern(c.Pattern); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "pattern check")
		}
	}
	return nil
}

// Sink writes one file per record.
type Sink struct {
	dir    string
	format string // printf form of the pattern, e.g. event_%08d.dat
	fsync  bool
	logger *slog.Logger

	written atomic.Int64
	closed  atomic.Bool
}

// New creates the output directory and returns a ready sink.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := compilePattern(cfg.Pattern)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "New", "pattern check")
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, errors.WrapFatal(err, "Sink", "New", "create output directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		dir:    cfg.Directory,
		format: format,
		fsync:  cfg.Fsync,
		logger: logger.With("component", "filesink"),
	}, nil
}

// compilePattern converts a {:0Nd} or %0Nd placeholder pattern into a
// printf format string. Literal percent signs survive the conversion.
func compilePattern(pattern string) (string, error) {
	if strings.ContainsAny(pattern, "/\\") {
		return "", fmt.Errorf("pattern %q must not contain path separators", pattern)
	}
	braces := placeholderRe.FindAllStringSubmatchIndex(pattern, -1)
	printfs := printfRe.FindAllStringIndex(pattern, -1)
	if len(braces)+len(printfs) == 0 {
		return "", fmt.Errorf("pattern %q has no {:0Nd} event number placeholder", pattern)
	}
	if len(braces)+len(printfs) > 1 {
		return "", fmt.Errorf("pattern %q has more than one placeholder", pattern)
	}

	var m []int
	var verb string
	if len(braces) == 1 {
		m = braces[0]
		verb = "%0" + pattern[m[2]:m[3]] + "d"
	} else {
		m = printfs[0]
		verb = pattern[m[0]:m[1]]
	}
	head := strings.ReplaceAll(pattern[:m[0]], "%", "%%")
	tail := strings.ReplaceAll(pattern[m[1]:], "%", "%%")
	return head + verb + tail, nil
}

// Store writes rec.Data to its own file. Duplicate deliveries of an event
// number overwrite the previous file.
func (s *Sink) Store(_ context.Context, rec sink.Record) error {
	if s.closed.Load() {
		return errors.WrapInvalid(errors.ErrSinkClosed, "Sink", "Store", "closed sink check")
	}

	name := fmt.Sprintf(s.format, rec.Num)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "Sink", "Store", fmt.Sprintf("create %s", name))
	}

	_, werr := f.Write(rec.Data)
	if werr == nil && s.fsync {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr != nil {
		return errors.Wrap(werr, "Sink", "Store", fmt.Sprintf("write %s", name))
	}
	if cerr != nil {
		return errors.Wrap(cerr, "Sink", "Store", fmt.Sprintf("close %s", name))
	}

	s.written.Add(1)
	return nil
}

// Written returns the number of records persisted so far.
func (s *Sink) Written() int64 {
	return s.written.Load()
}

// Close marks the sink closed. Subsequent Store calls fail.
func (s *Sink) Close() error {
	s.closed.Store(true)
	return nil
}
