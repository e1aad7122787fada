// Package errs provides the structured error taxonomy shared across the
// platform. Every error that crosses a component boundary carries a Kind so
// callers can map failures to their own policies (retry, degrade, surface)
// without string matching. Errors support errors.Is/As and wrap their causes.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the platform-wide categories. The
// categories drive surfacing behaviour: user-facing kinds map to HTTP-style
// statuses at the (external) transport layer, transient kinds degrade at
// verification and retrieval boundaries, and internal kinds fail jobs.
type Kind int

const (
	// KindInternal is the default for unclassified failures, including model
	// provider errors inside long-running jobs.
	KindInternal Kind = iota
	// KindNotFound marks a requested entity absent for the caller's tenant.
	KindNotFound
	// KindValidation marks malformed or inconsistent input, including bad
	// state transitions and model outputs that fail schema validation.
	KindValidation
	// KindConflict marks unique-constraint violations (duplicate URI, email).
	KindConflict
	// KindPermissionDenied marks a caller lacking the required capability.
	KindPermissionDenied
	// KindTransient marks connection or timeout failures against upstreams.
	// Verification degrades these to unverified; retrieval workers return
	// empty results.
	KindTransient
	// KindUpstream marks a non-2xx response from an upstream service.
	KindUpstream
)

// String returns the stable code used in logs and persisted error blobs.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "upstream_transient"
	case KindUpstream:
		return "upstream_service"
	default:
		return "internal"
	}
}

// Error is the platform error type. It pairs a Kind with a human-readable
// message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around a cause. The cause is
// reachable through errors.Unwrap so errors.Is/As keep working.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether the error chain contains a not-found error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsValidation reports whether the error chain contains a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsConflict reports whether the error chain contains a conflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsTransient reports whether the error chain contains a transient upstream
// failure (connection or timeout).
func IsTransient(err error) bool { return is(err, KindTransient) }

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
