package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Lifecycle error codes. Timeout and explicit failure are ordinary terminal
// outcomes of a session; they surface as errors only to the waiter blocked
// on that session.
const (
	ErrInvalidState        ErrorCode = "INVALID_STATE"
	ErrSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrInterventionTimeout ErrorCode = "INTERVENTION_TIMEOUT"
	ErrInterventionFailed  ErrorCode = "INTERVENTION_FAILED"
	ErrRunCancelled        ErrorCode = "RUN_CANCELLED"
	ErrRunNotFound         ErrorCode = "RUN_NOT_FOUND"
)

// Input and infrastructure error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrDetectionInput   ErrorCode = "DETECTION_INPUT"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	SessionID  string    `json:"session_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSessionID attaches the intervention session the error refers to.
func (e *Error) WithSessionID(id string) *Error {
	e.SessionID = id
	return e
}

// IsRetryable checks if an error, anywhere in its chain, is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
