package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeTransport       ErrorCode = "TRANSPORT"
	ErrCodeProtocol        ErrorCode = "PROTOCOL"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodePrecondition    ErrorCode = "PRECONDITION"
	ErrCodePlugin          ErrorCode = "PLUGIN"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// NewTransportError reports a non-2xx response or a dead connection.
func NewTransportError(status int, body string) *AppError {
	return NewAppError(ErrCodeTransport, fmt.Sprintf("unexpected status %d: %s", status, body), http.StatusBadGateway).
		WithContext("status", status)
}

// WrapTransportError wraps a network failure.
func WrapTransportError(err error, op string) *AppError {
	return WrapError(err, ErrCodeTransport, op+" failed", http.StatusBadGateway)
}

// NewProtocolError reports an error envelope or a malformed response.
func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message, http.StatusBadGateway)
}

// NewTimeoutError names the condition that was awaited.
func NewTimeoutError(description string) *AppError {
	return NewAppError(ErrCodeTimeout, description, http.StatusGatewayTimeout)
}

// NewPreconditionError wraps a domain sentinel so errors.Is keeps working.
func NewPreconditionError(cause error, message string) *AppError {
	return WrapError(cause, ErrCodePrecondition, message, http.StatusConflict)
}

// NewExternalServiceError reports a failing STT/LLM/TTS call.
func NewExternalServiceError(service string, status int, body string) *AppError {
	return NewAppError(ErrCodeExternalService, fmt.Sprintf("%s error %d: %s", service, status, body), http.StatusBadGateway).
		WithContext("service", service).
		WithContext("status", status)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
