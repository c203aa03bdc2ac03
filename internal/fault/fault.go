// Package fault defines the error taxonomy shared by the meeting core.
// Components classify remote and device failures into kinds so retry,
// circuit-breaker, and surfacing decisions can be made uniformly.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

const (
	AudioError       Kind = "AUDIO_ERROR"
	ConnectionFailed Kind = "CONNECTION_FAILED"
	Timeout          Kind = "TIMEOUT"
	RateLimit        Kind = "RATE_LIMIT"
	AuthFailed       Kind = "AUTH_FAILED"
	QuotaExceeded    Kind = "QUOTA_EXCEEDED"
	ProcessingError  Kind = "PROCESSING_ERROR"
	CircuitOpen      Kind = "CIRCUIT_OPEN"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error class is worth retrying. Rate limits,
// timeouts, and transient connection failures are; auth and quota failures
// are terminal. Unclassified errors are treated as transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case AuthFailed, QuotaExceeded, CircuitOpen, AudioError:
		return false
	case RateLimit, Timeout, ConnectionFailed, ProcessingError:
		return true
	default:
		return err != nil
	}
}
