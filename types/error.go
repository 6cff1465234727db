package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error class. It is the code field of API error responses.
type ErrorCode string

// Request and upstream errors.
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Agent catalog and handoff errors.
const (
	ErrAgentNotFound  ErrorCode = "AGENT_NOT_FOUND"
	ErrInvalidAgent   ErrorCode = "INVALID_AGENT"
	ErrInvalidHandoff ErrorCode = "INVALID_HANDOFF"
	ErrProviderNotSet ErrorCode = "PROVIDER_NOT_SET"
)

// Workflow and task errors.
const (
	ErrInvalidGraph    ErrorCode = "INVALID_GRAPH"
	ErrWorkflowFailed  ErrorCode = "WORKFLOW_FAILED"
	ErrTaskNotFound    ErrorCode = "TASK_NOT_FOUND"
	ErrInvalidTaskMove ErrorCode = "INVALID_TASK_TRANSITION"
)

// retryableCodes lists codes for which resending the same request may succeed.
var retryableCodes = map[ErrorCode]bool{
	ErrRateLimited:        true,
	ErrTimeout:            true,
	ErrUpstreamError:      true,
	ErrServiceUnavailable: true,
}

// Error is a structured error with a code. A zero HTTPStatus is derived from
// the code by the API layer.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an error whose Retryable flag defaults from the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableCodes[code]}
}

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode returns the code of the first *Error in err's chain, or "".
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
