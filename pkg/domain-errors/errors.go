// Package domainerrors provides coded errors for domain and service layers.
//
// Services translate infrastructure sentinels (pkg/platform/sentinel) and
// validation failures into coded errors; transport layers map codes to HTTP
// statuses via ToHTTPStatus. Codes are part of the API contract: handlers
// return the code string in the error envelope, never the internal message.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies an error for transport mapping and caller recovery logic.
type Code string

const (
	// CodeValidation: input violates a domain rule (recoverable by caller).
	CodeValidation Code = "validation_error"
	// CodeInvalidInput: input is malformed at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest: request cannot be processed as submitted.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound: referenced resource does not exist.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized: actor identity missing or not established.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: actor identity established but capability denied.
	CodeForbidden Code = "forbidden"
	// CodeConflict: concurrent modification detected and retry exhausted.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation: an internal invariant would be broken; the
	// operation is refused regardless of caller input.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal: unexpected infrastructure or programming failure.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. It wraps an optional cause for errors.Is
// chains while keeping the code inspectable via HasCode.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// A nil err returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
		de = nil
	}
	return false
}

// Is delegates to the standard errors.Is for sentinel comparisons.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// GetCode returns the outermost code carried by err, or CodeInternal when err
// carries none.
func GetCode(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status the transport layer returns.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
