package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an invocation failure. Its string value is stable and
// is used verbatim on every wire (HTTP, MCP, LLM tool results).
type ErrorKind string

const (
	// ErrUnknownTool is returned when the requested tool is not registered.
	ErrUnknownTool ErrorKind = "unknown_tool"

	// ErrMissingArgument is returned when a declared parameter is absent.
	ErrMissingArgument ErrorKind = "missing_argument"

	// ErrInvalidArgument is returned when an argument cannot be coerced to its
	// declared kind, or when an undeclared argument is supplied.
	ErrInvalidArgument ErrorKind = "invalid_argument"

	// ErrDivisionByZero is returned by divide when the divisor is zero.
	ErrDivisionByZero ErrorKind = "division_by_zero"

	// ErrInternal is returned when a tool panics or fails unexpectedly.
	ErrInternal ErrorKind = "internal_error"
)

// Error implements error so that kinds can be used as sentinels with
// [errors.Is].
func (k ErrorKind) Error() string { return string(k) }

// Failure is a structured invocation failure.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	stack []byte
}

// Fail builds a [*Failure] with a formatted message.
func Fail(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// Stack returns the goroutine stack captured when a tool panicked, or nil.
func (f *Failure) Stack() []byte { return f.stack }

// Unwrap exposes the kind so errors.Is(f, ErrDivisionByZero) holds.
func (f *Failure) Unwrap() error { return f.Kind }

// KindOf extracts the [ErrorKind] carried by err. Errors that carry no kind
// are reported as [ErrInternal]; a nil error yields "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return ErrInternal
}

// asFailure converts an error returned by a tool callable into a Failure.
func asFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var k ErrorKind
	if errors.As(err, &k) {
		msg := err.Error()
		if msg == string(k) {
			msg = ""
		}
		return &Failure{Kind: k, Message: msg}
	}
	return &Failure{Kind: ErrInternal, Message: err.Error()}
}
