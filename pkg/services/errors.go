// Package services implements the use cases behind the HTTP API:
// workflow CRUD with validation and trigger preparation, and the
// execution lifecycle operations. Service failures carry a typed kind
// so transport layers classify without parsing messages.
package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a service failure. HTTP layers map kinds to
// status codes instead of scanning error strings.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindConflict     ErrorKind = "conflict"
	KindInternal     ErrorKind = "internal"
)

// HTTPStatus returns the status code a kind maps to.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the service-layer error type. Message is safe to show to
// API callers; Err carries the underlying cause for logs.
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error

	// Details lists the individual violations behind a validation
	// failure so transport layers can return all of them at once.
	Details []string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a service error with full control over its fields.
func NewError(op string, kind ErrorKind, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// NewValidationError reports invalid caller input.
func NewValidationError(op, message string) *Error {
	return &Error{Op: op, Kind: KindValidation, Message: message}
}

// NewValidationErrors reports a failed validation with every violation
// attached.
func NewValidationErrors(op string, details []string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindValidation,
		Message: "workflow validation failed",
		Details: details,
	}
}

// NewNotFoundError reports an unresolved resource. The message keeps
// the "not found" vocabulary webhook callers classify on.
func NewNotFoundError(op, message string) *Error {
	return &Error{Op: op, Kind: KindNotFound, Message: message}
}

// NewUnauthorizedError reports a resource the caller may not use. The
// message keeps the "authentication" vocabulary webhook callers
// classify on.
func NewUnauthorizedError(op, message string) *Error {
	return &Error{Op: op, Kind: KindUnauthorized, Message: message}
}

// NewConflictError reports an operation invalid in the resource's
// current state, like cancelling a finished execution.
func NewConflictError(op, message string) *Error {
	return &Error{Op: op, Kind: KindConflict, Message: message}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// KindOf extracts the kind from an error chain. Errors that are not
// service errors classify as internal.
func KindOf(err error) ErrorKind {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}

	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
