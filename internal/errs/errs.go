// Package errs defines the mesh core's stable wire-level error taxonomy:
// a closed set of codes returned verbatim in API error bodies, each
// mapped to an HTTP status and carrying an optional wrapped cause.
package errs

import (
	"errors"
	"net/http"
)

// Code is one of the stable wire error names the router and its callers
// surface to clients. These strings are part of the external contract;
// do not rename.
type Code string

const (
	Unauthorized       Code = "unauthorized"
	MissingField       Code = "missing_field"
	InvalidField       Code = "invalid_field"
	NotFound           Code = "not_found"
	NameTaken          Code = "name_taken"
	ExternalProvider   Code = "external_provider"
	RateLimited        Code = "rate_limited"
	PayloadTooLarge    Code = "payload_too_large"
	DuplicateMessage   Code = "duplicate_message"
	OrganizationNotSet Code = "organization_not_set"
	InvalidRequest     Code = "invalid_request"
	InternalError      Code = "internal_error"
)

// httpStatus maps each wire code to the HTTP status the webhttp surface
// answers with.
var httpStatus = map[Code]int{
	Unauthorized:       http.StatusUnauthorized,
	MissingField:       http.StatusBadRequest,
	InvalidField:       http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	NameTaken:          http.StatusConflict,
	ExternalProvider:   http.StatusBadRequest,
	RateLimited:        http.StatusTooManyRequests,
	PayloadTooLarge:    http.StatusRequestEntityTooLarge,
	DuplicateMessage:   http.StatusConflict,
	OrganizationNotSet: http.StatusPreconditionRequired,
	InvalidRequest:     http.StatusBadRequest,
	InternalError:      http.StatusInternalServerError,
}

// Error is the mesh core's error type: a stable wire Code, a
// human-readable message, an optional wrapped cause, and any extra
// fields a specific code needs in its JSON body (e.g. name_taken's
// suggestions).
type Error struct {
	Code    Code
	Message string
	Err     error
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code this error should be answered with.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error with the given code wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// WithFields attaches extra JSON fields (e.g. suggestions for
// name_taken) and returns the same *Error for chaining.
func (e *Error) WithFields(fields map[string]any) *Error {
	e.Fields = fields
	return e
}

// CodeOf extracts the wire Code from err, defaulting to internal_error
// for errors not produced by this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
