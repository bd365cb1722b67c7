// Package errs provides the shared error taxonomy for the MCP broker.
// Every error surfaced to the client or to telemetry carries a stable
// ErrorCode so dashboards and tests can match on it.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies an error class for telemetry and client display.
type ErrorCode string

const (
	CodeToolNotFound         ErrorCode = "ToolNotFound"
	CodeToolDisabled         ErrorCode = "ToolDisabled"
	CodeFeatureDisabled      ErrorCode = "FeatureDisabled"
	CodeInvalidArguments     ErrorCode = "InvalidArguments"
	CodeConfirmationDeclined ErrorCode = "ConfirmationDeclined"

	CodeNotConnected     ErrorCode = "NotConnected"
	CodeConnectionFailed ErrorCode = "ConnectionFailed"

	CodeForbiddenWriteOperation ErrorCode = "ForbiddenWriteOperation"
	CodeForbiddenReadOperation  ErrorCode = "ForbiddenReadOperation"

	CodeAtlasSearchNotSupported        ErrorCode = "AtlasSearchNotSupported"
	CodeAtlasVectorSearchIndexNotFound ErrorCode = "AtlasVectorSearchIndexNotFound"
	CodeAtlasVectorSearchInvalidQuery  ErrorCode = "AtlasVectorSearchInvalidQuery"
	CodeEmbeddingServiceError          ErrorCode = "EmbeddingServiceError"
	CodeEmbeddingDimensionMismatch     ErrorCode = "EmbeddingDimensionMismatch"

	CodeCancelled  ErrorCode = "Cancelled"
	CodeUnexpected ErrorCode = "Unexpected"
)

// ServerError is an error with a stable code and an optional wrapped cause.
type ServerError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}

// New creates a ServerError with a code and message.
func New(code ErrorCode, message string) *ServerError {
	return &ServerError{Code: code, Message: message}
}

// Newf creates a ServerError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *ServerError {
	return &ServerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code ErrorCode, message string, err error) *ServerError {
	return &ServerError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, walking the Unwrap chain.
// Context cancellation maps to Cancelled; everything else is Unexpected.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeUnexpected
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ValidationError reports one or more argument paths that failed validation.
// The dispatcher renders it without invoking the tool.
type ValidationError struct {
	Failures []FieldFailure
}

// FieldFailure names an offending argument path and the reason it failed.
type FieldFailure struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Failures) == 0 {
		return "invalid arguments"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Path, f.Message))
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Code satisfies the taxonomy without forcing callers through CodeOf.
func (e *ValidationError) Code() ErrorCode {
	return CodeInvalidArguments
}

// NewValidationError builds a ValidationError from path/message pairs.
func NewValidationError(failures ...FieldFailure) *ValidationError {
	return &ValidationError{Failures: failures}
}

// FieldError creates a single-field validation failure.
func FieldError(path, message string) *ValidationError {
	return &ValidationError{Failures: []FieldFailure{{Path: path, Message: message}}}
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
