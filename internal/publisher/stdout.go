package publisher

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"sync"
)

// Stdout writes outputs to a writer, os.Stdout by default
type Stdout struct {
	mu  sync.Mutex
	w   io.Writer
	hex bool
}

// NewStdout creates a Stdout publisher. A nil writer means os.Stdout.
func NewStdout(w io.Writer, hexDump bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w, hex: hexDump}
}

// Open is a no-op
func (p *Stdout) Open(ctx context.Context) error {
	return nil
}

// Output writes data, hex dumped when configured
func (p *Stdout) Output(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hex {
		_, err := io.WriteString(p.w, hex.Dump(data))
		return err
	}
	_, err := p.w.Write(data)
	return err
}

// Input is not supported
func (p *Stdout) Input(ctx context.Context) ([]byte, error) {
	return nil, ErrNoInput
}

// Close is a no-op
func (p *Stdout) Close() error {
	return nil
}
