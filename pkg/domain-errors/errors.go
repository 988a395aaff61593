// Package domainerrors defines the coded error type shared by services and transports.
//
// Services return errors built with New or Wrap; the HTTP layer maps the Code to a status
// and a stable machine-readable error string. Infrastructure facts (not found, conflict)
// live in pkg/platform/sentinel and are translated into coded errors at the service layer.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeInternal             Code = "internal_error"
	CodeInvariantViolation   Code = "invariant_violation"
	CodeValidation           Code = "validation_error"
	CodeBadRequest           Code = "bad_request"
	CodeInvalidInput         Code = "invalid_input"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeInvalidState         Code = "invalid_state"
	CodeComplianceRequired   Code = "compliance_required"
	CodeVerificationRequired Code = "verification_required"
	CodeRateLimited          Code = "rate_limited"
	CodeUnavailable          Code = "service_unavailable"
	CodeTimeout              Code = "timeout"
)

// Error is a coded domain error. Message is safe to show to API callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and caller-facing message to an underlying error.
// Wrapping a nil error returns nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any coded error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost caller-facing message.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
