package sink

import (
	"context"
	"errors"
)

// Multi fans every record out to a fixed list of sinks. All sinks see
// every record even when an earlier one fails; the failures are joined
// into one error so the receive loop still counts one write error per
// record.
type Multi struct {
	sinks []Sink
}

// NewMulti wires a fan-out sink. Nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{sinks: kept}
}

// Store hands rec to every sink in order.
func (m *Multi) Store(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Store(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
