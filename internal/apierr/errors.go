// Package apierr is the data plane's error taxonomy. Every error an HTTP
// handler can return is one of these codes; handlers map a Code to a
// status line without inspecting error text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of request failure.
type Code string

const (
	// Authentication failures (spec §4.1, §7).
	CodeMissingAuth  Code = "missing_auth"
	CodeInvalidToken Code = "invalid_token"
	CodeRevoked      Code = "revoked"
	CodeExpired      Code = "expired"
	CodeTrialExpired Code = "trial_expired"

	// Authorization failures.
	CodeWrongSeller  Code = "wrong_seller"
	CodeNotApproved  Code = "not_approved"

	// Not-found failures.
	CodeShareNotFound   Code = "share_not_found"
	CodeTableNotFound   Code = "table_not_found"
	CodeDatasetNotFound Code = "dataset_not_found"

	// Request validation failures (spec §4.2).
	CodeBadPredicate   Code = "bad_predicate"
	CodeUnknownColumn  Code = "unknown_column"
	CodeLimitOverflow  Code = "limit_overflow"
	CodeNoColumns      Code = "no_columns"

	// Server-side failures.
	CodeSchemaMismatch Code = "schema_mismatch"
	CodeInternal       Code = "internal"
)

// statusByCode mirrors the status codes the seller's FastAPI server
// raised for the same conditions (delta_sharing_utils.py,
// predicate_parser.py, server.py).
var statusByCode = map[Code]int{
	CodeMissingAuth:     http.StatusUnauthorized,
	CodeInvalidToken:    http.StatusUnauthorized,
	CodeRevoked:         http.StatusUnauthorized,
	CodeExpired:         http.StatusUnauthorized,
	CodeTrialExpired:    http.StatusUnauthorized,
	CodeWrongSeller:     http.StatusForbidden,
	CodeNotApproved:     http.StatusForbidden,
	CodeShareNotFound:   http.StatusNotFound,
	CodeTableNotFound:   http.StatusNotFound,
	CodeDatasetNotFound: http.StatusNotFound,
	CodeBadPredicate:    http.StatusBadRequest,
	CodeUnknownColumn:   http.StatusBadRequest,
	CodeLimitOverflow:   http.StatusBadRequest,
	CodeNoColumns:       http.StatusBadRequest,
	CodeSchemaMismatch:  http.StatusInternalServerError,
	CodeInternal:        http.StatusInternalServerError,
}

// Error is a request failure carrying both a machine-readable Code and a
// human-readable message. It satisfies the error interface.
type Error struct {
	Code    Code
	Message string
	// Err, when set, is the underlying cause. Wrapped, not swallowed, so
	// logs retain the root cause even though clients only see Message.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As reports whether err (or anything it wraps) is an *Error, and returns
// it. Thin wrapper around errors.As for call-site brevity in handlers.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for err: the wrapped *Error's status
// if there is one, otherwise 500.
func StatusFor(err error) int {
	if apiErr, ok := As(err); ok {
		return apiErr.Status()
	}
	return http.StatusInternalServerError
}
