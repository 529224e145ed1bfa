package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// Driver opens engine endpoints for one URI scheme. Drivers register
// explicitly on a Registry; there is no init-time magic.
type Driver interface {
	OpenSegmenter(ctx context.Context, uri URI, cfg SendConfig) (Segmenter, error)
	OpenReassembler(ctx context.Context, uri URI, cfg RecvConfig) (Reassembler, error)
}

// Registry maps URI schemes to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register binds scheme to driver. Registering a scheme twice is a
// configuration error.
func (r *Registry) Register(scheme string, driver Driver) error {
	if scheme == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "scheme validation")
	}
	if driver == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "driver validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[scheme]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("scheme %q is already registered", scheme),
			"Registry", "Register", "duplicate scheme check")
	}
	r.drivers[scheme] = driver
	return nil
}

// Driver returns the driver registered for scheme.
func (r *Registry) Driver(scheme string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[scheme]
	return d, ok
}

// Schemes lists the registered schemes in stable order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for s := range r.drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OpenSegmenter parses rawURI, resolves its driver, and opens the sending
// half of the engine. Failures here are fatal for the process: nothing has
// been sent yet and nothing can be.
func (r *Registry) OpenSegmenter(ctx context.Context, rawURI string, cfg SendConfig) (Segmenter, error) {
	uri, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	d, ok := r.Driver(uri.Scheme)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("no driver registered for scheme %q", uri.Scheme),
			"Registry", "OpenSegmenter", "driver lookup")
	}
	seg, err := d.OpenSegmenter(ctx, uri, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenSegmenter", "open engine")
	}
	return seg, nil
}

// OpenReassembler parses rawURI, resolves its driver, and opens the
// receiving half of the engine.
func (r *Registry) OpenReassembler(ctx context.Context, rawURI string, cfg RecvConfig) (Reassembler, error) {
	uri, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	d, ok := r.Driver(uri.Scheme)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("no driver registered for scheme %q", uri.Scheme),
			"Registry", "OpenReassembler", "driver lookup")
	}
	rea, err := d.OpenReassembler(ctx, uri, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenReassembler", "open engine")
	}
	return rea, nil
}
