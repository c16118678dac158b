// Package errors provides the structured error system shared by every
// component of the orchestrator: a code, a category, and enough context
// to decide retryability and HTTP status without inspecting a message
// string.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Code is a stable, machine-checkable error identifier.
type Code string

// The taxonomy of spec.md §7, plus the provider-boundary codes of §4.1.
// These are the only kinds that cross component boundaries.
const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeConflict            Code = "CONFLICT"
	CodeOverloaded          Code = "OVERLOADED"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeTransient           Code = "TRANSIENT"
	CodeInternal            Code = "INTERNAL"

	// Provider adapter boundary (§4.1); the Migration Engine translates
	// these into per-file FileTransfer failures or retries them.
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeSourceMissing      Code = "SOURCE_MISSING"
	CodeDestExistsConflict Code = "DEST_EXISTS_CONFLICT"
	CodeUnavailable        Code = "UNAVAILABLE"
)

// Category groups codes for logging and dashboards.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryClient   Category = "client"
	CategoryProvider Category = "provider"
	CategoryEngine   Category = "engine"
	CategoryInternal Category = "internal"
)

// Error is a structured error carrying enough context to be logged,
// retried, or translated into an HTTP response without string matching.
type Error struct {
	Code       Code                   `json:"code"`
	Category   Category               `json:"category"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Component  string                 `json:"component,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	Cause      error                  `json:"-"`
	Timestamp  time.Time              `json:"timestamp"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code, so errors.Is(err, New(CodeNotFound, "")) works
// without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an Error with defaults derived from its code.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Category:   categoryFor(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Retryable:  retryableByDefault(code),
		HTTPStatus: httpStatusFor(code),
	}
}

// Wrap creates an Error around an existing cause.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithComponent sets the originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the originating operation.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithDetail attaches a structured detail.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// JSON renders the error as a JSON document, safe to hand back to a
// client (Cause is deliberately excluded from the json tags above).
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"INTERNAL","message":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

func categoryFor(code Code) Category {
	switch code {
	case CodeUnauthenticated, CodeForbidden:
		return CategoryAuth
	case CodeNotFound, CodeInvalidArgument, CodeConflict:
		return CategoryClient
	case CodePermissionDenied, CodeQuotaExceeded, CodeSourceMissing,
		CodeDestExistsConflict, CodeUnavailable, CodeProviderUnavailable:
		return CategoryProvider
	case CodeOverloaded, CodeTransient:
		return CategoryEngine
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code Code) bool {
	switch code {
	case CodeTransient, CodeQuotaExceeded, CodeOverloaded, CodeProviderUnavailable:
		return true
	default:
		return false
	}
}

func httpStatusFor(code Code) int {
	switch code {
	case CodeUnauthenticated:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeInvalidArgument:
		return 400
	case CodeConflict:
		return 409
	case CodeOverloaded:
		return 429
	case CodeQuotaExceeded:
		return 429
	case CodeProviderUnavailable, CodeUnavailable:
		return 503
	case CodeTransient:
		return 504
	default:
		return 500
	}
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf extracts the Code from err, or CodeInternal if err is not one
// of ours. Used at the Control API boundary (§7 Propagation policy).
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	if strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded") {
		return CodeTransient
	}
	return CodeInternal
}
