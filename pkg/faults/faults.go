// Package faults defines the engine's error taxonomy. Every blocked or failed
// action carries a machine-readable kind and code so the audit trail can be
// consumed without parsing messages.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault by how the engine must react to it.
type Kind string

const (
	// DataUnavailable: stale or missing market data. Skip the cycle for that
	// symbol, never fabricate values.
	DataUnavailable Kind = "data_unavailable"

	// InsufficientSample: expectancy window below minimum. A sizing policy
	// branch, not a failure.
	InsufficientSample Kind = "insufficient_sample"

	// ValidationRejected: the rule layer vetoed a draft signal. Produces WAIT.
	ValidationRejected Kind = "validation_rejected"

	// ComplianceViolation: a safety or portfolio rule blocked this trade.
	// Never fatal to the engine.
	ComplianceViolation Kind = "compliance_violation"

	// ExecutionFailure: an external order call failed. Reported to the
	// circuit breaker after bounded retry.
	ExecutionFailure Kind = "execution_failure"

	// IntegrityFault: an internal invariant broke (negative size, state
	// corruption). Always fatal, forces SHUTDOWN.
	IntegrityFault Kind = "integrity_fault"
)

// Fault is a kinded error with a stable reason code.
type Fault struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s(%s): %s: %v", f.Kind, f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s(%s): %s", f.Kind, f.Code, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault with a kind, stable code and human-readable message.
func New(kind Kind, code, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and code to an underlying error.
func Wrap(err error, kind Kind, code, message string) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the kind of an error, or empty string for untyped errors.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// CodeOf extracts the stable reason code of an error.
func CodeOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
