// Package errors provides coded errors surfaced across the capture API boundary.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of engine failure.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Capture validation errors - rejected synchronously, never enqueued.
	ErrAssetEmpty       ErrorCode = "ASSET_EMPTY"
	ErrAssetUnsupported ErrorCode = "ASSET_UNSUPPORTED_TYPE"
	ErrAssetInvalid     ErrorCode = "ASSET_INVALID"

	// Durability errors - fatal to the single operation, surfaced to the caller.
	ErrDatabase ErrorCode = "DATABASE_ERROR"
	ErrBlob     ErrorCode = "BLOB_ERROR"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrUploadFailed   ErrorCode = "UPLOAD_FAILED"
	ErrDeleteInFlight ErrorCode = "DELETE_IN_FLIGHT"
)

// AppError represents an engine error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns ErrInternal for errors that are not AppErrors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
