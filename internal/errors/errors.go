package errors

import (
	"errors"
	"fmt"
)

// Kind classifies the failures surfaced by the query pipeline.
type Kind string

const (
	// KindNotFound means the geocoding provider returned zero matches.
	KindNotFound Kind = "not_found"
	// KindNoChipCovers means no chip footprint contains the point. This is
	// a legitimate, non-retryable outcome, not an infrastructure failure.
	KindNoChipCovers Kind = "no_chip_covers"
	// KindEmptyCorpus means fewer than 2 chips exist for scoring.
	KindEmptyCorpus Kind = "empty_corpus"
	// KindUpstream means a provider or the storage engine was unreachable,
	// timed out, or returned a malformed payload.
	KindUpstream Kind = "upstream"
	// KindCompute is a generic failure surfaced from a cache computation.
	KindCompute Kind = "compute"

	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindTimeout       Kind = "timeout"
)

// StructuredError carries a failure kind plus the operation that produced
// it. The orchestrator forwards kinds unchanged; nothing downgrades a
// failure into an empty success.
type StructuredError struct {
	Kind      Kind
	Operation string
	Message   string
	Cause     error
}

func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, e.Message)
}

func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error.
func New(kind Kind, operation, message string) *StructuredError {
	return &StructuredError{Kind: kind, Operation: operation, Message: message}
}

// Newf creates a new structured error with a formatted message.
func Newf(kind Kind, operation, format string, args ...any) *StructuredError {
	return &StructuredError{Kind: kind, Operation: operation, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an existing error. Returns nil if
// err is nil.
func Wrap(err error, kind Kind, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}
	return &StructuredError{Kind: kind, Operation: operation, Message: message, Cause: err}
}

// KindOf extracts the failure kind from an error chain. Errors that carry
// no kind report KindCompute, the generic computation failure.
func KindOf(err error) Kind {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindCompute
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// NewNotFound reports a geocode query with zero upstream matches.
func NewNotFound(operation, message string) *StructuredError {
	return New(KindNotFound, operation, message)
}

// NewNoChipCovers reports a point outside every chip footprint.
func NewNoChipCovers(operation, message string) *StructuredError {
	return New(KindNoChipCovers, operation, message)
}

// NewEmptyCorpus reports a corpus too small to score against.
func NewEmptyCorpus(operation, message string) *StructuredError {
	return New(KindEmptyCorpus, operation, message)
}

// NewUpstream reports an unreachable or misbehaving upstream.
func NewUpstream(operation, message string) *StructuredError {
	return New(KindUpstream, operation, message)
}

// WrapUpstream wraps a transport or storage failure.
func WrapUpstream(err error, operation, message string) *StructuredError {
	return Wrap(err, KindUpstream, operation, message)
}

// WrapCompute wraps a generic computation failure.
func WrapCompute(err error, operation, message string) *StructuredError {
	return Wrap(err, KindCompute, operation, message)
}

// NewValidation reports malformed caller input.
func NewValidation(operation, message string) *StructuredError {
	return New(KindValidation, operation, message)
}
