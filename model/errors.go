package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Triage-specific error codes.
const (
	// ErrStoreError marks a persistence failure. Assessment durability is
	// the one non-negotiable step, so this propagates synchronously.
	ErrStoreError = "STORE_ERROR"
	// ErrInvalidTransition marks a disallowed case status move.
	ErrInvalidTransition = "INVALID_TRANSITION"
	// ErrInvariantViolation marks a skipped operation that would have broken
	// a case invariant, e.g. a duplicate escalation for an unchanged
	// critical result. Logged and skipped, never surfaced to callers.
	ErrInvariantViolation = "INVARIANT_VIOLATION"
	// ErrDispatchFailed and ErrDispatchTimeout are recorded on scheduled
	// actions; they never propagate out of the asynchronous dispatch path.
	ErrDispatchFailed  = "DISPATCH_FAILED"
	ErrDispatchTimeout = "DISPATCH_TIMEOUT"
	// ErrBackendUnavailable covers collaborator outages (directory,
	// delivery transport, booking) including an open circuit breaker.
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// ErrorEnvelope is the standard error type returned across package
// boundaries. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStoreError wraps a persistence failure.
func NewStoreError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStoreError, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInvariantViolationError returns an INVARIANT_VIOLATION error.
func NewInvariantViolationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvariantViolation, Message: msg}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBackendUnavailable, Message: msg}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBackendTimeout, Message: msg}
}

// IsCode reports whether err is an ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
