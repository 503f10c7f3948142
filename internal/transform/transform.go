// Package transform defines value-encoding transformers applied to element
// values on output. Transformers are write-mostly: a unit that cannot decode
// reports ErrUnsupportedDirection instead of a generic failure.
package transform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Direction of a transformation
type Direction string

const (
	Encode Direction = "encode"
	Decode Direction = "decode"
)

// Transformer converts raw element bytes to and from their wire form
type Transformer interface {
	// Name returns the registered class name
	Name() string

	// Encode converts raw bytes to their output form
	Encode(data []byte) ([]byte, error)

	// Decode reverses Encode
	Decode(data []byte) ([]byte, error)
}

// TransformError wraps a failure of a transformer in one direction
type TransformError struct {
	Transformer string
	Direction   Direction
	Err         error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transformer %s: %s: %v", e.Transformer, e.Direction, e.Err)
}

// Unwrap returns the underlying cause
func (e *TransformError) Unwrap() error {
	return e.Err
}

// Unsupported reports a direction the transformer cannot perform
func Unsupported(name string, dir Direction) *TransformError {
	return &TransformError{Transformer: name, Direction: dir, Err: errdefs.ErrUnsupportedDirection}
}

// IsUnsupported reports whether err is an unsupported-direction condition
func IsUnsupported(err error) bool {
	return errors.Is(err, errdefs.ErrUnsupportedDirection)
}

// --- IntToHex ---

// IntToHex renders a little-endian 32-bit integer as upper-case hex text
type IntToHex struct{}

// Name returns the transformer name
func (IntToHex) Name() string {
	return "IntToHex"
}

// Encode reads the first four bytes as a signed little-endian integer
func (t IntToHex) Encode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, &TransformError{
			Transformer: t.Name(),
			Direction:   Encode,
			Err:         errdefs.InvalidArgument("need 4 bytes, got %d", len(data)),
		}
	}
	// two's complement rendering, so -1 encodes as FFFFFFFF
	v := binary.LittleEndian.Uint32(data)
	return []byte(strings.ToUpper(strconv.FormatUint(uint64(v), 16))), nil
}

// Decode is not supported
func (t IntToHex) Decode(data []byte) ([]byte, error) {
	return nil, Unsupported(t.Name(), Decode)
}

// --- Registry ---

// Factory builds a transformer
type Factory func() Transformer

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		"IntToHex":      func() Transformer { return IntToHex{} },
		"type.IntToHex": func() Transformer { return IntToHex{} },
	}
)

// Register adds a transformer class
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New returns the transformer registered as name
func New(name string) (Transformer, error) {
	mu.RLock()
	defer mu.RUnlock()

	f, ok := factories[name]
	if !ok {
		return nil, errdefs.NotFound("transformer", name)
	}
	return f(), nil
}
