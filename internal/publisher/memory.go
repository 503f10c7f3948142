package publisher

import (
	"context"
	"sync"
)

// Memory records outputs and serves queued inputs. Outputs accumulate across
// iterations until Reset.
type Memory struct {
	mu      sync.Mutex
	outputs [][]byte
	inputs  [][]byte
	opened  int
	closed  int
}

// NewMemory creates an empty Memory publisher
func NewMemory() *Memory {
	return &Memory{}
}

// Open counts the iteration
func (p *Memory) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened++
	return nil
}

// Output records a copy of data
func (p *Memory) Output(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs = append(p.outputs, append([]byte(nil), data...))
	return nil
}

// Input returns the next queued input, or ErrNoInput when the queue is empty
func (p *Memory) Input(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inputs) == 0 {
		return nil, ErrNoInput
	}
	in := p.inputs[0]
	p.inputs = p.inputs[1:]
	return in, nil
}

// Close counts the iteration end
func (p *Memory) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Queue adds data to be returned by Input
func (p *Memory) Queue(data ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, data...)
}

// Outputs returns every recorded output in order
func (p *Memory) Outputs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.outputs))
	copy(out, p.outputs)
	return out
}

// Sessions returns how many times the publisher was opened and closed
func (p *Memory) Sessions() (opened, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened, p.closed
}

// Reset drops recorded outputs and queued inputs
func (p *Memory) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs = nil
	p.inputs = nil
}
