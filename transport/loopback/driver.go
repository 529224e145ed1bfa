package loopback

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// Driver resolves loopback URIs to named links so that the send and
// receive halves opened through the same registry pair up in process.
type Driver struct {
	mu    sync.Mutex
	links map[string]*Link
}

var _ transport.Driver = (*Driver)(nil)

// NewDriver creates a driver with an empty link table.
func NewDriver() *Driver {
	return &Driver{links: make(map[string]*Link)}
}

// Register registers the driver under the loopback scheme.
func Register(r *transport.Registry) error {
	return r.Register(Scheme, NewDriver())
}

// Link returns the named link if an endpoint has opened it.
func (d *Driver) Link(name string) (*Link, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.links[name]
	return l, ok
}

// link creates or reuses the named link. Options come from the URI query
// of whichever endpoint opens the link first.
func (d *Driver) link(uri transport.URI) (*Link, error) {
	if uri.Name == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("loopback URI needs a link name, e.g. loopback:demo"),
			"loopback", "link", "validate URI")
	}
	opts, err := optionsFromQuery(uri)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.links[uri.Name]; ok {
		return l, nil
	}
	l := NewLink(uri.Name, opts)
	d.links[uri.Name] = l
	return l, nil
}

func optionsFromQuery(uri transport.URI) (Options, error) {
	var opts Options
	if v := uri.Params.Get("capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errors.WrapInvalid(
				fmt.Errorf("capacity %q must be a positive integer", v),
				"loopback", "optionsFromQuery", "parse capacity")
		}
		opts.Capacity = n
	}
	if v := uri.Params.Get("rate"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil || g < 0 {
			return opts, errors.WrapInvalid(
				fmt.Errorf("rate %q must be a non-negative number of Gbps", v),
				"loopback", "optionsFromQuery", "parse rate")
		}
		opts.RateGbps = g
	}
	return opts, nil
}

// OpenSegmenter opens the sending half of the named link.
func (d *Driver) OpenSegmenter(_ context.Context, uri transport.URI, cfg transport.SendConfig) (transport.Segmenter, error) {
	l, err := d.link(uri)
	if err != nil {
		return nil, err
	}
	return l.Segmenter(cfg), nil
}

// OpenReassembler opens the receiving half of the named link.
func (d *Driver) OpenReassembler(_ context.Context, uri transport.URI, cfg transport.RecvConfig) (transport.Reassembler, error) {
	l, err := d.link(uri)
	if err != nil {
		return nil, err
	}
	return l.Reassembler(cfg), nil
}
