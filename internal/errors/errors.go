// Package errors defines the service error type used across the HTTP surface.
// A ServiceError carries the HTTP status and machine-readable code that the
// transport layer renders; lower layers wrap plain errors and let the handlers
// translate them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeValidation        ErrorCode = "VALIDATION_FAILED"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeUnprocessable     ErrorCode = "UNPROCESSABLE_ENTITY"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
	CodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
)

// ServiceError is an error with transport metadata attached.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError.
func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap creates a ServiceError around an underlying cause.
func Wrap(err error, code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func Validation(message string) *ServiceError {
	return New(CodeValidation, message, http.StatusUnprocessableEntity)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Not authenticated"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// InvalidToken reports a token that failed signature, expiry or scope checks.
func InvalidToken(err error) *ServiceError {
	return Wrap(err, CodeInvalidToken, "Could not validate credentials", http.StatusUnauthorized)
}

func NotFound(message string) *ServiceError {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, message, http.StatusConflict)
}

// Unprocessable reports well-formed input that cannot be acted on, such as a
// token issued for another purpose.
func Unprocessable(message string, err error) *ServiceError {
	return Wrap(err, CodeUnprocessable, message, http.StatusUnprocessableEntity)
}

// RateLimitExceeded reports a throttled request.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "Too Many Requests", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(err, CodeInternal, message, http.StatusInternalServerError)
}

func Unavailable(message string, err error) *ServiceError {
	return Wrap(err, CodeUnavailable, message, http.StatusServiceUnavailable)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the status carried by err, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
