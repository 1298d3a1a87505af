// Package errors provides structured error types for cratescan.
//
// This package defines error codes and types that enable:
//   - A closed failure taxonomy for the scan pipeline
//   - Machine-readable codes that double as skip reasons in reports
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Only [ErrCodeRegistry] is fatal to a run. Every other pipeline code is
// scoped to a single package or file: the unit is skipped and the code is
// counted in the final report via [Reason].
//
//   - REGISTRY_ERROR: the package listing could not be obtained
//   - FETCH_ERROR: a package archive could not be downloaded
//   - ARCHIVE_ERROR: a downloaded archive is corrupt, unsafe or fails verification
//   - PARSE_ERROR / READ_ERROR / OVERSIZED: a single source file was skipped
//   - MATCHER_INTERNAL: a matcher met a shape it cannot classify
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "top-n must be positive, got %d", n)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeFetch, origErr, "download %s", url)
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput   Code = "INVALID_INPUT"
	ErrCodeInvalidPackage Code = "INVALID_PACKAGE"
	ErrCodeInvalidPath    Code = "INVALID_PATH"
	ErrCodeInvalidConfig  Code = "INVALID_CONFIG"

	// Pipeline errors
	ErrCodeRegistry  Code = "REGISTRY_ERROR"
	ErrCodeFetch     Code = "FETCH_ERROR"
	ErrCodeArchive   Code = "ARCHIVE_ERROR"
	ErrCodeParse     Code = "PARSE_ERROR"
	ErrCodeRead      Code = "READ_ERROR"
	ErrCodeOversized Code = "OVERSIZED"
	ErrCodeMatcher   Code = "MATCHER_INTERNAL"
	ErrCodeCancelled Code = "CANCELLED"

	// Network errors
	ErrCodeRateLimited Code = "RATE_LIMITED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message and its cause without the code
// prefix. For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + UserMessage(e.Cause)
	}
	return e.Message
}

// Reason converts an error into the skip reason shown in reports:
// the lower-cased, dash-separated code of the outermost *Error
// (FETCH_ERROR becomes "fetch-error"). Errors without a code map to fallback.
func Reason(err error, fallback Code) string {
	code := GetCode(err)
	if code == "" {
		code = fallback
	}
	return strings.ReplaceAll(strings.ToLower(string(code)), "_", "-")
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
