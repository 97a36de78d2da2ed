// Package errors defines structured error types for the taskgate service.
// Every error carries a machine readable code and the HTTP status it maps to.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/taskgate/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// AppError represents a structured error with additional metadata
type AppError interface {
	error

	// Code returns the machine readable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AppError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AppError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Description() string { return e.description }

func (e *baseError) Unwrap() error { return e.cause }

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) AppError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// NewError creates a new AppError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) AppError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrValidation reports a missing or malformed input such as an empty user id.
// It is surfaced to the caller and never retried internally.
func ErrValidation(message string) AppError {
	return NewError(
		constants.ErrCodeValidation,
		http.StatusBadRequest,
		"The request is missing a required parameter or includes an invalid parameter value.",
		message,
	)
}

// ErrRateLimited is a control signal: the caller should retry after the given delay.
func ErrRateLimited(message string, retryAfterMs int64) AppError {
	return NewError(
		constants.ErrCodeRateLimited,
		http.StatusTooManyRequests,
		"The admission rate for this user has been exceeded.",
		message,
	).WithMetadata("retry_after_ms", retryAfterMs)
}

// ErrStoreUnavailable wraps a failed store round-trip.
func ErrStoreUnavailable(op string, cause error) AppError {
	return NewError(
		constants.ErrCodeStoreUnavailable,
		http.StatusInternalServerError,
		"The backing store could not complete the operation.",
		fmt.Sprintf("store operation %q failed", op),
	).WithCause(cause).WithMetadata("operation", op)
}

// ErrWorkUnitFailure reports a failed task execution. Pacing still advances.
func ErrWorkUnitFailure(userID string, cause error) AppError {
	return NewError(
		constants.ErrCodeWorkUnitFailure,
		http.StatusInternalServerError,
		"The unit of work failed to complete.",
		"work unit failed",
	).WithCause(cause).WithMetadata("user_id", userID)
}

// ErrUnauthorized is returned by the admin authentication layer.
func ErrUnauthorized(message string) AppError {
	return NewError(
		constants.ErrCodeUnauthorized,
		http.StatusUnauthorized,
		"The request lacks valid authentication credentials.",
		message,
	)
}

// ErrConflict reports a duplicate submission that is still in progress.
func ErrConflict(message string) AppError {
	return NewError(
		constants.ErrCodeConflict,
		http.StatusConflict,
		"The request conflicts with one that is still being processed.",
		message,
	)
}

// ErrInternal creates a generic server error
func ErrInternal(message string) AppError {
	return NewError(
		constants.ErrCodeInternal,
		http.StatusInternalServerError,
		"The server encountered an unexpected condition.",
		message,
	)
}

// ================================================================================
// Error Inspection Utilities
// ================================================================================

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if goerrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasCode(err error, code constants.ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code() == code
	}
	return false
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return hasCode(err, constants.ErrCodeValidation) }

// IsRateLimited checks if an error is a rate limit signal
func IsRateLimited(err error) bool { return hasCode(err, constants.ErrCodeRateLimited) }

// IsStoreUnavailable checks if an error came from the store
func IsStoreUnavailable(err error) bool { return hasCode(err, constants.ErrCodeStoreUnavailable) }

// IsWorkUnitFailure checks if an error is a failed work unit
func IsWorkUnitFailure(err error) bool { return hasCode(err, constants.ErrCodeWorkUnitFailure) }

// ShouldLogError determines if an error should be logged based on severity
func ShouldLogError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus() >= 500
	}
	return true
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string                 `json:"error"`
	Code             string                 `json:"code,omitempty"`
	ErrorDescription string                 `json:"error_description,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse. Server errors never leak
// their cause to the client.
func ToErrorResponse(err error) *ErrorResponse {
	appErr, ok := AsAppError(err)
	if !ok || appErr.HTTPStatus() >= 500 {
		return &ErrorResponse{
			Error: "Internal server error",
			Code:  string(constants.ErrCodeInternal),
		}
	}
	return &ErrorResponse{
		Error:            appErr.Error(),
		Code:             string(appErr.Code()),
		ErrorDescription: appErr.Description(),
		Metadata:         appErr.Metadata(),
	}
}

// HTTPStatusOf returns the status code an error maps to.
func HTTPStatusOf(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
