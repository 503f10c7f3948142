// Package errdefs defines the error taxonomy shared by the fuzzing core.
//
// Errors are grouped by who has to act on them: configuration errors stop a
// run before the first iteration, mutator and transformer errors describe a
// broken unit of corruption logic, and collaborator errors are attached to a
// single iteration unless they are escalated with Fatal.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel conditions, matched with errors.Is
var (
	ErrConfig               = errors.New("configuration error")
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnsupportedDirection = errors.New("unsupported direction")
	ErrContractViolation    = errors.New("mutator contract violation")
	ErrFatal                = errors.New("fatal collaborator failure")
)

// ConfigError describes a problem found while loading or preparing a run
type ConfigError struct {
	Subject string // element, test, plugin, ... the error is about
	Reason  string
	Err     error
}

// Config creates a new ConfigError
func Config(subject, format string, args ...any) *ConfigError {
	return &ConfigError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// WrapConfig wraps err as a configuration error about subject
func WrapConfig(subject string, err error) *ConfigError {
	return &ConfigError{Subject: subject, Reason: err.Error(), Err: err}
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Subject, e.Reason)
}

// Unwrap returns the wrapped cause
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is reports ErrConfig for every ConfigError
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// NotFoundError is returned when a path or name cannot be resolved
type NotFoundError struct {
	Kind string
	Name string
}

// NotFound creates a new NotFoundError
func NotFound(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is reports ErrNotFound for every NotFoundError
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MutatorError is raised when a mutator breaks its contract
type MutatorError struct {
	Mutator string
	Element string
	Reason  string
}

func (e *MutatorError) Error() string {
	return fmt.Sprintf("mutator %s on %s: %s", e.Mutator, e.Element, e.Reason)
}

// Is reports ErrContractViolation for every MutatorError
func (e *MutatorError) Is(target error) bool {
	return target == ErrContractViolation
}

// InvalidArgument creates an error matching ErrInvalidArgument
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Fatal marks a collaborator failure as fatal for the whole run
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return "fatal: " + e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func (e *fatalError) Is(target error) bool {
	return target == ErrFatal
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsFatal reports whether err was escalated with Fatal
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
