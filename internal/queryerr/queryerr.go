// Package queryerr defines the typed errors surfaced by the query engine.
// Every error carries a stable machine-readable code and a human message.
package queryerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

// Error codes
const (
	InvalidSources       Code = "InvalidSources"
	InvalidGroupBy       Code = "InvalidGroupBy"
	InvalidDateRange     Code = "InvalidDateRange"
	ChartRequiresGroupBy Code = "ChartRequiresGroupBy"
	ExecutionFailed      Code = "ExecutionFailed"
	NotMultiTenant       Code = "NotMultiTenant"
	Forbidden            Code = "Forbidden"
	InvalidRequest       Code = "InvalidRequest"
	Internal             Code = "Internal"
)

// Error is a query engine error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return Internal
}

// MessageOf returns the human message for err. Unclassified errors get a generic message.
func MessageOf(err error) string {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Message
	}
	return "internal error"
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the status code used by the transport layer.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case InvalidSources, InvalidGroupBy, InvalidDateRange, InvalidRequest:
		return http.StatusBadRequest
	case ChartRequiresGroupBy:
		return http.StatusUnprocessableEntity
	case Forbidden:
		return http.StatusForbidden
	case NotMultiTenant:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
