// Package derrors defines coded domain errors. Services return these so
// callers (transport, bots, bulk loaders) can translate outcomes into
// specific user-facing messages without string matching.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are part of the API surface: callers
// branch on them, so renaming one is a breaking change.
type Code string

const (
	// CodeInvalidInput marks caller-correctable field problems found before
	// any storage work.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks a missing referenced entity (usually a unit).
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness violation.
	CodeConflict Code = "conflict"
	// CodeQuotaExceeded marks the pending-records ceiling on a unit.
	CodeQuotaExceeded Code = "quota_exceeded"
	// CodeCollision marks contradictory identity linkage between supplied
	// fields and an existing record. Carries MetaFields.
	CodeCollision Code = "collision"
	// CodeLocked marks a rejected self-service edit on a validated record.
	// Carries MetaEscalation.
	CodeLocked Code = "locked"
	// CodeRateLimited marks an over-limit submission. Carries MetaRetryAfter.
	CodeRateLimited Code = "rate_limited"
	// CodeCryptoUnavailable marks missing or unusable key material. Fatal at
	// startup; the process must refuse to serve without it.
	CodeCryptoUnavailable Code = "crypto_unavailable"
	// CodeInvariantViolation marks a broken model invariant at construction.
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal"
)

// Well-known metadata keys.
const (
	// MetaFields holds a comma-separated list of conflicting field names.
	MetaFields = "fields"
	// MetaEscalation holds a comma-separated escalation contact list.
	MetaEscalation = "escalation"
	// MetaRetryAfter holds whole seconds until the caller may retry.
	MetaRetryAfter = "retry_after"
)

// Error is a coded domain error with optional structured metadata.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// With records a metadata key on the error and returns it for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]string, 2)
	}
	e.Meta[key] = value
	return e
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MetaValue returns a metadata value from the outermost domain error, or ""
// when absent.
func MetaValue(err error, key string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Meta[key]
	}
	return ""
}
