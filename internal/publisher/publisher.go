// Package publisher provides the I/O adapters a state model uses to talk to
// the target: Stdout, Memory and HTTP.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// Publisher moves data between the fuzzer and the target
type Publisher interface {
	// Open prepares the publisher for one iteration
	Open(ctx context.Context) error

	// Output sends data to the target
	Output(ctx context.Context, data []byte) error

	// Input reads the next piece of data from the target
	Input(ctx context.Context) ([]byte, error)

	// Close ends the iteration
	Close() error
}

var (
	// ErrUnreachable is matched by TargetErrors caused by a target that did
	// not accept the connection or the data
	ErrUnreachable = errors.New("target unreachable")

	// ErrNoInput is returned by publishers that cannot read from the target
	ErrNoInput = errors.New("publisher does not support input")
)

// TargetError reports a failure observed on the target side of a publisher.
// The state model turns it into a fault instead of an iteration error.
type TargetError struct {
	Op          string
	Unreachable bool
	Err         error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *TargetError) Unwrap() error {
	return e.Err
}

// Is reports ErrUnreachable for unreachable targets
func (e *TargetError) Is(target error) bool {
	return target == ErrUnreachable && e.Unreachable
}

// Registry holds the publisher classes run definitions can name
var Registry = plugin.NewRegistry[Publisher]("publisher")

func init() {
	Registry.Register(plugin.Spec[Publisher]{
		Name:        "Stdout",
		Description: "Write every output to standard output",
		Params: []plugin.Parameter{
			{Name: "hex", Type: plugin.TypeBool, Default: "false", Description: "Hex dump outputs instead of writing raw bytes"},
		},
		New: func(args plugin.Args) (Publisher, error) {
			return NewStdout(nil, args.Bool("hex")), nil
		},
	})
	Registry.Register(plugin.Spec[Publisher]{
		Name:        "Memory",
		Description: "Record outputs in memory and serve queued inputs",
		New: func(plugin.Args) (Publisher, error) {
			return NewMemory(), nil
		},
	})
	Registry.Register(plugin.Spec[Publisher]{
		Name:        "Http",
		Description: "Send every output as the body of an HTTP request",
		Params: []plugin.Parameter{
			{Name: "url", Type: plugin.TypeString, Required: true, Description: "Target URL"},
			{Name: "method", Type: plugin.TypeString, Default: "POST", Description: "Request method"},
			{Name: "content_type", Type: plugin.TypeString, Default: "application/octet-stream"},
			{Name: "timeout", Type: plugin.TypeDuration, Default: "10", Description: "Request timeout"},
			{Name: "rate", Type: plugin.TypeFloat, Default: "0", Description: "Maximum requests per second, 0 for unlimited"},
			{Name: "fault_on_status", Type: plugin.TypeInt, Default: "500", Description: "Lowest status code reported as a fault, 0 to disable"},
		},
		New: func(args plugin.Args) (Publisher, error) {
			status := args.Int("fault_on_status")
			if status == 0 {
				status = -1
			}
			return NewHTTP(&HTTPOptions{
				URL:           args.String("url"),
				Method:        args.String("method"),
				ContentType:   args.String("content_type"),
				Timeout:       args.Duration("timeout"),
				Rate:          args.Float("rate"),
				FaultOnStatus: status,
			})
		},
	})
}
