package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintfAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Printf("plain line")
	p.Printf("already terminated\n")
	assert.Equal(t, "plain line\nalready terminated\n", buf.String())
}

func TestNilPrinterIsSilent(t *testing.T) {
	var p *Printer
	p.Printf("dropped %d", 1)
}

func TestConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Printf("worker %02d line %02d", n, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 16*50)
	for _, l := range lines {
		assert.Regexp(t, `^worker \d{2} line \d{2}$`, l)
	}
}
