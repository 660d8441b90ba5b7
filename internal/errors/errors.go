// Package errors provides structured errors for rs_recon setup and scan
// failures. Transient capture errors and unparseable frames never surface
// here; they are absorbed by the capture loop.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a failure.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeInterface     ErrorCode = "INTERFACE"
	CodePermission    ErrorCode = "PERMISSION"

	CodeWorkerFailed  ErrorCode = "WORKER_FAILED"
	CodeScanFailed    ErrorCode = "SCAN_FAILED"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeResolveFailed ErrorCode = "RESOLVE_FAILED"
)

// ScanError is an error carrying a code and optional target/operation detail.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target: %s)", e.Target)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithTarget records the target the error relates to.
func (e *ScanError) WithTarget(target string) *ScanError {
	e.Target = target
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// New creates a ScanError without a cause.
func New(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// Newf creates a ScanError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *ScanError {
	return &ScanError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a ScanError around an existing error.
func Wrap(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// CodeOf returns the code of the first ScanError in err's chain, or
// CodeUnknown.
func CodeOf(err error) ErrorCode {
	var se *ScanError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsSetupError reports whether err is a configuration-time failure that was
// raised before any capture or send loop started.
func IsSetupError(err error) bool {
	switch CodeOf(err) {
	case CodeConfiguration, CodeValidation, CodeTargetInvalid, CodeInterface, CodePermission:
		return true
	}
	return false
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
