// Package errors defines the classified application errors shared by the proofwork services.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForeignKey indicates a foreign key constraint violation.
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeLeaseConflict indicates the entity is held by another live lease.
	// Callers should move on to another entity or wait for expiry.
	ErrCodeLeaseConflict ErrorCode = "lease_conflict"
	// ErrCodeProtocol indicates an external collaborator answered outside its contract.
	ErrCodeProtocol ErrorCode = "protocol"
	// ErrCodeInvariant indicates a financial or state invariant would be violated.
	ErrCodeInvariant ErrorCode = "invariant"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field is the offending input field, set on validation errors.
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: msg}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError { return &AppError{Code: ErrCodeNotFound, Message: message} }

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError { return newf(ErrCodeNotFound, format, args...) }

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError { return &AppError{Code: ErrCodeConflict, Message: message} }

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError { return newf(ErrCodeConflict, format, args...) }

// Validation creates a new Validation error.
func Validation(message string) *AppError { return &AppError{Code: ErrCodeValidation, Message: message} }

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return newf(ErrCodeValidation, format, args...)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError { return newf(ErrCodeInternal, format, args...) }

// LeaseConflict reports that entity is currently held by another live lease.
func LeaseConflict(entity, id string) *AppError {
	return newf(ErrCodeLeaseConflict, "%s %s is already claimed", entity, id)
}

// Protocolf reports a contract violation by an external collaborator.
func Protocolf(format string, args ...any) *AppError { return newf(ErrCodeProtocol, format, args...) }

// Invariantf reports an invariant violation. Operations returning it must not have
// persisted any partial state.
func Invariantf(format string, args ...any) *AppError {
	return newf(ErrCodeInvariant, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsForeignKey checks if an error is a ForeignKey error.
func IsForeignKey(err error) bool { return isCode(err, ErrCodeForeignKey) }

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool { return isCode(err, ErrCodeCanceled) }

// IsLeaseConflict checks if an error is a lease conflict.
func IsLeaseConflict(err error) bool { return isCode(err, ErrCodeLeaseConflict) }

// IsProtocol checks if an error is an external protocol violation.
func IsProtocol(err error) bool { return isCode(err, ErrCodeProtocol) }

// IsInvariant checks if an error is an invariant violation.
func IsInvariant(err error) bool { return isCode(err, ErrCodeInvariant) }

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
