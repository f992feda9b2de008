// Package errkind defines the closed set of error kinds shared across the
// chat fabric. Every fallible operation in this module returns an error
// that, when non-nil and produced locally, wraps to a *Fault — callers use
// errors.As to recover the Kind and decide how to render it at whatever
// boundary they sit behind (HTTP status, RPC sentinel, socket close).
package errkind

import "fmt"

// Kind is one of the named failure categories from the design's error
// handling section. It is a closed, small set — do not add ad-hoc kinds.
type Kind string

const (
	BadRequest          Kind = "BAD_REQUEST"
	BadCredentials      Kind = "BAD_CREDENTIALS"
	AlreadyExists       Kind = "ALREADY_EXISTS"
	Conflict            Kind = "CONFLICT"
	NotFound            Kind = "NOT_FOUND"
	Unauthenticated     Kind = "UNAUTHENTICATED"
	FrameTooLarge       Kind = "FRAME_TOO_LARGE"
	ProtocolError       Kind = "PROTOCOL_ERROR"
	ConnectionClosed    Kind = "CONNECTION_CLOSED"
	UpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	NoBackendAvailable  Kind = "NO_BACKEND_AVAILABLE"
	PoolStopped         Kind = "POOL_STOPPED"
	ClockRegression     Kind = "CLOCK_REGRESSION"
	Internal            Kind = "INTERNAL"
)

// Fault is the concrete error type carrying a Kind plus an optional
// underlying cause. It implements Unwrap so errors.Is/As chain normally.
type Fault struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Cause)
	}
	if f.Msg != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
	}
	return string(f.Kind)
}

func (f *Fault) Unwrap() error { return f.Cause }

// New builds a Fault with no underlying cause.
func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg}
}

// Wrap builds a Fault around an existing error.
func Wrap(kind Kind, msg string, cause error) *Fault {
	return &Fault{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	if As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// As is a small local alias kept so callers don't need a second import for
// the common case of pulling the Kind out of an error chain.
func As(err error, target **Fault) bool {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			*target = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
