// Package progress serializes human-readable console output. Stream
// workers and the receive loop report through one Printer so lines from
// concurrent goroutines never interleave; structured diagnostics go to
// slog separately.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Printer writes whole lines under a mutex.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a printer writing to w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

// Printf formats one report. A trailing newline is added when missing, so
// multi-line blocks stay atomic: pass them as a single call.
func (p *Printer) Printf(format string, args ...any) {
	if p == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, msg)
}
