package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an application error
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Status carries the upstream HTTP status when Code is ErrUpstream.
	Status int   `json:"-"`
	Err    error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error onto the HTTP status served to the browser.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrPrecondition, ErrSuperseded:
		return http.StatusConflict
	case ErrUpstream:
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return http.StatusBadGateway
	case ErrTransport, ErrDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrPrecondition
	ErrTransport
	ErrUpstream
	ErrDecode
	ErrSuperseded
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Validation reports malformed identifiers or missing required fields.
func Validation(message string) *AppError {
	return &AppError{Code: ErrValidation, Message: message}
}

// Precondition reports an action that the current request state does not allow.
func Precondition(message string) *AppError {
	return &AppError{Code: ErrPrecondition, Message: message}
}

// Transport wraps a network level failure talking to the clinic API.
func Transport(op string, err error) *AppError {
	return &AppError{
		Code:    ErrTransport,
		Message: fmt.Sprintf("%s: clinic api unreachable", op),
		Err:     err,
	}
}

// Upstream carries a non-2xx answer from the clinic API with its message.
func Upstream(status int, message string) *AppError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &AppError{Code: ErrUpstream, Status: status, Message: message}
}

// Decode reports a response whose shape deviates from the endpoint contract.
func Decode(op string, err error) *AppError {
	return &AppError{
		Code:    ErrDecode,
		Message: fmt.Sprintf("%s: unexpected response shape", op),
		Err:     err,
	}
}

// Superseded reports a list query replaced by a newer one.
func Superseded() *AppError {
	return &AppError{Code: ErrSuperseded, Message: "query superseded by a newer one"}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As extracts the AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
