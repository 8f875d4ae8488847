// Package errs defines the error taxonomy shared by the Starcrew core.
//
// Every error that crosses a subsystem boundary is classified into exactly
// one [Kind]. The classification drives recovery policy:
//
//   - [Transient] errors are retried inside the worker with backoff.
//   - [Validation] errors are retried by the validation engine.
//   - [PhaseFailure] triggers a state-machine rollback to the last stable
//     phase and a single retry.
//   - [Permission] and [Fatal] always propagate to the GM adapter.
//   - [ConfigError] is fatal at startup.
//
// Use the constructor functions to wrap causes, and [KindOf] / errors.Is
// to classify at recovery points.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery-policy purposes.
type Kind int

const (
	// KindUnknown is the zero value; errors without a taxonomy wrapper.
	KindUnknown Kind = iota

	// KindTransient covers LLM rate limits, timeouts, connection failures,
	// and retryable backend I/O. Recovered locally with exponential backoff.
	KindTransient

	// KindValidation covers narrative overreach and schema failures in
	// character output. Recovered by the validation retry loop.
	KindValidation

	// KindPhaseFailure marks a phase node that exhausted its local recovery.
	// Resolved by checkpoint restore and one retry.
	KindPhaseFailure

	// KindPermission marks a cross-layer access attempt, e.g. a character
	// reading OOC traffic. Never recovered.
	KindPermission

	// KindConfig marks invalid or missing configuration. Fatal at startup.
	KindConfig

	// KindFatal marks unrecoverable conditions: missing checkpoints,
	// corrupted persistence, broken campaign invariants. The session halts
	// with state preserved for operator review.
	KindFatal
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindPhaseFailure:
		return "phase_failure"
	case KindPermission:
		return "permission"
	case KindConfig:
		return "config"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target carries the same [Kind]. This lets callers write
// errors.Is(err, errs.Transient("")) style checks against sentinel kinds;
// prefer [KindOf] for readability.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// Transient wraps err as a transient failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// Transientf creates a transient failure with a formatted message.
func Transientf(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

// Validation wraps err as a validation failure.
func Validation(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Err: err}
}

// PhaseFailure wraps err as a phase failure requiring rollback.
func PhaseFailure(msg string, err error) *Error {
	return &Error{Kind: KindPhaseFailure, Msg: msg, Err: err}
}

// Permission creates a permission violation. The message should name the
// caller, the channel or scope, and the denied operation.
func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

// Config wraps err as a configuration error.
func Config(msg string, err error) *Error {
	return &Error{Kind: KindConfig, Msg: msg, Err: err}
}

// Fatal wraps err as an unrecoverable failure.
func Fatal(msg string, err error) *Error {
	return &Error{Kind: KindFatal, Msg: msg, Err: err}
}

// KindOf returns the taxonomy kind of err, or [KindUnknown] when err carries
// no classification anywhere in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err should be retried by a worker:
// only transient errors qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
