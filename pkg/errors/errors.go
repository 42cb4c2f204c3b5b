// Package errors defines the error kinds used across codemode and helpers
// for constructing and classifying them.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds
const (
	// KindNotFound is returned when a tool, skill, artifact, or dependency is absent
	KindNotFound = "not_found"

	// KindAlreadyExists is returned on duplicate registration
	KindAlreadyExists = "already_exists"

	// KindInvalidName is returned for path-traversal, reserved, or malformed names
	KindInvalidName = "invalid_name"

	// KindInvalidSource is returned when skill source fails to parse or lacks run()
	KindInvalidSource = "invalid_source"

	// KindCallFailed is returned when a tool adapter or skill invocation fails
	KindCallFailed = "call_failed"

	// KindTimeout is returned when an execution exceeds its deadline
	KindTimeout = "timeout"

	// KindInterpreterDied is returned when the interpreter process dies mid-run
	KindInterpreterDied = "interpreter_died"

	// KindAuthRequired is returned when credentials are missing
	KindAuthRequired = "auth_required"

	// KindAuthInvalid is returned when credentials are present but wrong
	KindAuthInvalid = "auth_invalid"

	// KindMisconfigured is returned when the server configuration is inconsistent
	KindMisconfigured = "misconfigured"

	// KindUnavailable is returned when the server is not yet initialized
	KindUnavailable = "unavailable"

	// KindInternal is returned for unexpected internal failures
	KindInternal = "internal"
)

// Error represents a classified error in the application
type Error struct {
	// Kind is the error kind, one of the Kind* constants
	Kind string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given kind
func New(kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf creates a new error with a formatted message and no cause
func Newf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal if err carries no kind.
// Returns the empty string for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind checks whether err (or anything it wraps) has the given kind
func IsKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// NewNotFound creates a new not found error
func NewNotFound(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// NewAlreadyExists creates a new already exists error
func NewAlreadyExists(message string, cause error) *Error {
	return New(KindAlreadyExists, message, cause)
}

// NewInvalidName creates a new invalid name error
func NewInvalidName(message string, cause error) *Error {
	return New(KindInvalidName, message, cause)
}

// NewInvalidSource creates a new invalid source error
func NewInvalidSource(message string, cause error) *Error {
	return New(KindInvalidSource, message, cause)
}

// NewCallFailed creates a new call failed error
func NewCallFailed(message string, cause error) *Error {
	return New(KindCallFailed, message, cause)
}

// NewTimeout creates a new timeout error
func NewTimeout(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

// NewInterpreterDied creates a new interpreter died error
func NewInterpreterDied(message string, cause error) *Error {
	return New(KindInterpreterDied, message, cause)
}

// NewAuthRequired creates a new auth required error
func NewAuthRequired(message string, cause error) *Error {
	return New(KindAuthRequired, message, cause)
}

// NewAuthInvalid creates a new auth invalid error
func NewAuthInvalid(message string, cause error) *Error {
	return New(KindAuthInvalid, message, cause)
}

// NewMisconfigured creates a new misconfigured error
func NewMisconfigured(message string, cause error) *Error {
	return New(KindMisconfigured, message, cause)
}

// NewUnavailable creates a new unavailable error
func NewUnavailable(message string, cause error) *Error {
	return New(KindUnavailable, message, cause)
}

// NewInternal creates a new internal error
func NewInternal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsAlreadyExists checks if the error is an already exists error
func IsAlreadyExists(err error) bool {
	return IsKind(err, KindAlreadyExists)
}

// IsInvalidName checks if the error is an invalid name error
func IsInvalidName(err error) bool {
	return IsKind(err, KindInvalidName)
}

// IsInvalidSource checks if the error is an invalid source error
func IsInvalidSource(err error) bool {
	return IsKind(err, KindInvalidSource)
}

// IsCallFailed checks if the error is a call failed error
func IsCallFailed(err error) bool {
	return IsKind(err, KindCallFailed)
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// IsInterpreterDied checks if the error is an interpreter died error
func IsInterpreterDied(err error) bool {
	return IsKind(err, KindInterpreterDied)
}

// IsAuthRequired checks if the error is an auth required error
func IsAuthRequired(err error) bool {
	return IsKind(err, KindAuthRequired)
}

// IsAuthInvalid checks if the error is an auth invalid error
func IsAuthInvalid(err error) bool {
	return IsKind(err, KindAuthInvalid)
}

// IsMisconfigured checks if the error is a misconfigured error
func IsMisconfigured(err error) bool {
	return IsKind(err, KindMisconfigured)
}

// IsUnavailable checks if the error is an unavailable error
func IsUnavailable(err error) bool {
	return IsKind(err, KindUnavailable)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return IsKind(err, KindInternal)
}
