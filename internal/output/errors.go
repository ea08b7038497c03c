package output

import (
	"errors"
	"fmt"
)

// Rejection reasons reported by the final credential exchange.
const (
	ReasonInvalidGameToken = "invalid game credential"
	ReasonObsoleteVersion  = "stale client version"
	ReasonNotRegistered    = "account not provisioned"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Reason     string // set for CodeAuthRejected
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(kind string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("token not found: %s", kind),
	}
}

func ErrAttestation(provider string, cause error) *Error {
	return &Error{
		Code:      CodeAttestation,
		Message:   fmt.Sprintf("attestation provider %s failed", provider),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAttestExhausted(tried int) *Error {
	return &Error{
		Code:    CodeAttestExhausted,
		Message: fmt.Sprintf("all %d attestation providers failed", tried),
	}
}

func ErrProtocol(msg string) *Error {
	return &Error{Code: CodeProtocol, Message: msg}
}

func ErrProtocolStatus(status int, msg string) *Error {
	return &Error{
		Code:       CodeProtocol,
		Message:    msg,
		HTTPStatus: status,
	}
}

func ErrAuthRejected(reason string, status int) *Error {
	return &Error{
		Code:       CodeAuthRejected,
		Message:    "credentials rejected: " + reason,
		Reason:     reason,
		HTTPStatus: status,
	}
}

func ErrProbeFailed(status int) *Error {
	return &Error{
		Code:       CodeProbeFailed,
		Message:    "probe still failing after full regeneration",
		HTTPStatus: status,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeProtocol,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
