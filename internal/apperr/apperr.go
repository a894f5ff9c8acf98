// Package apperr defines the coded error type returned across service boundaries.
//
// Every error that reaches a caller of the search, activation, or loader
// services either is an *Error or implements Coder, so transports (HTTP, MCP,
// CLI) can report a stable code without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeIAMDenied     Code = "IAM_DENIED"
	CodeConfiguration Code = "CONFIGURATION"
	CodeConnectivity  Code = "CONNECTIVITY"
	CodeTimeout       Code = "TIMEOUT"
	CodeInternal      Code = "INTERNAL"
)

// Coder is implemented by errors that carry their own code.
type Coder interface {
	ErrorCode() Code
}

// Error is a coded error with optional structured context.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode implements Coder.
func (e *Error) ErrorCode() Code { return e.Code }

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates an Error that wraps err.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// With returns a copy of e with key set in its context.
func (e *Error) With(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	cp := *e
	cp.Context = ctx
	return &cp
}

// InvalidInput is shorthand for New(CodeInvalidInput, msg).
func InvalidInput(msg string) *Error { return New(CodeInvalidInput, msg) }

// NotFound is shorthand for New(CodeNotFound, msg).
func NotFound(msg string) *Error { return New(CodeNotFound, msg) }

// CodeOf extracts the code of err. Errors without a code map to CodeInternal;
// nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ContextOf returns the structured context of the first *Error in err's chain.
func ContextOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// HTTPStatus maps a code to the HTTP status used by the REST API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeIAMDenied:
		return http.StatusForbidden
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeConnectivity:
		return http.StatusBadGateway
	case CodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
