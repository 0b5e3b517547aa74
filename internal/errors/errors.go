// Package errors defines the typed errors returned across service boundaries
// and their HTTP status mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a ServiceError.
type Code string

const (
	CodeNotConfigured Code = "NOT_CONFIGURED"
	CodeUpstream      Code = "UPSTREAM_ERROR"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeInternal      Code = "INTERNAL"
)

// ServiceError carries a machine-readable code and the HTTP status a handler
// should answer with.
type ServiceError struct {
	Code       Code
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

// WithDetail attaches a key/value detail and returns e.
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotConfigured reports a missing setting required to serve the request.
func NotConfigured(setting string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotConfigured,
		Message:    setting + " is not configured",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Upstream wraps a failure talking to an external API.
func Upstream(service string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUpstream,
		Message:    service + " request failed",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Unavailable reports that no usable data could be produced.
func Unavailable(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnavailable,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// InvalidInput reports a malformed request parameter.
func InvalidInput(field, reason string) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidInput,
		Message:    fmt.Sprintf("%s %s", field, reason),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// As returns the first ServiceError in err's chain.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Is reports whether err's chain holds a ServiceError with code.
func Is(err error, code Code) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// HTTPStatusOf maps err to a response status. Untyped errors are 500.
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if se, ok := As(err); ok && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
