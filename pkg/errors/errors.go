package errors

import (
	"fmt"
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError reports a rejected command or an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NetworkError is a transport-level failure while fetching an artifact.
// The partial download is kept so a later attempt can resume it.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

// NewNetworkError constructs a NetworkError. statusCode is zero for transport failures.
func NewNetworkError(url string, statusCode int, err error) error {
	return &NetworkError{URL: url, StatusCode: statusCode, Err: err}
}

func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying error.
func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether re-running the transfer may succeed. Every transport failure and
// unexpected status qualifies; integrity failures are a ChecksumMismatchError instead.
func (e *NetworkError) Retryable() bool {
	return e != nil
}

// ChecksumMismatchError means a completed download did not match its expected digest.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

// NewChecksumMismatchError constructs a ChecksumMismatchError.
func NewChecksumMismatchError(path, expected, actual string) error {
	return &ChecksumMismatchError{Path: path, Expected: expected, Actual: actual}
}

func (e *ChecksumMismatchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// StageFailure wraps the error returned by a pipeline stage.
type StageFailure struct {
	Stage string
	Err   error
}

// NewStageFailure constructs a StageFailure.
func NewStageFailure(stage string, err error) error {
	return &StageFailure{Stage: stage, Err: err}
}

func (e *StageFailure) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage '%s' failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the root error.
func (e *StageFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HandlerError reports a failure raised by a command handler.
type HandlerError struct {
	Operation string
	Err       error
}

// NewHandlerError constructs a HandlerError for the given operation.
func NewHandlerError(operation string, err error) error {
	return &HandlerError{Operation: operation, Err: err}
}

func (e *HandlerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Operation != "" {
		return fmt.Sprintf("handler error [%s]: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("handler error: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *HandlerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
