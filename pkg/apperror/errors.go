// Package apperror defines the typed errors returned by services and mapped
// to HTTP responses by handlers.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Code represents the kind of failure
type Code int

const (
	CodeInternal Code = iota + 1000
	CodeInvalidInput
	CodeNotFound
	CodeAlreadyExists
	CodeLimitExceeded
	CodeInsufficientCredits
)

const (
	CodeUnauthorized Code = iota + 2000
	CodeForbidden
)

var codeNames = map[Code]string{
	CodeInternal:            "internal",
	CodeInvalidInput:        "invalid_input",
	CodeNotFound:            "not_found",
	CodeAlreadyExists:       "already_exists",
	CodeLimitExceeded:       "limit_exceeded",
	CodeInsufficientCredits: "insufficient_credits",
	CodeUnauthorized:        "unauthorized",
	CodeForbidden:           "forbidden",
}

// String returns the snake_case name of the code
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error is a service error carrying a code and an optional cause
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithField attaches a field-level message
func (e *Error) WithField(field, message string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// New creates an Error
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with a code and message
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Invalid(message string) *Error       { return New(CodeInvalidInput, message) }
func NotFound(what string) *Error         { return Newf(CodeNotFound, "%s not found", what) }
func Conflict(message string) *Error      { return New(CodeAlreadyExists, message) }
func Forbidden(message string) *Error     { return New(CodeForbidden, message) }
func Unauthorized(message string) *Error  { return New(CodeUnauthorized, message) }
func LimitExceeded(message string) *Error { return New(CodeLimitExceeded, message) }

// DB converts a gorm error into a service error. Record-not-found becomes
// CodeNotFound for what; everything else is internal.
func DB(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Wrap(err, CodeNotFound, what+" not found")
	}
	return Wrap(err, CodeInternal, "database error")
}

// CodeOf returns the code of err, CodeInternal for foreign errors
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

var httpStatuses = map[Code]int{
	CodeInvalidInput:        http.StatusBadRequest,
	CodeNotFound:            http.StatusNotFound,
	CodeAlreadyExists:       http.StatusConflict,
	CodeLimitExceeded:       http.StatusUnprocessableEntity,
	CodeInsufficientCredits: http.StatusPaymentRequired,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
}

// HTTPStatus returns the response status for err, 500 for internal and
// foreign errors
func HTTPStatus(err error) int {
	if status, ok := httpStatuses[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
