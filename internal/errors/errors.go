package errors

import (
	"errors"
)

// Kind classifies an application error
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindBadRequest
	KindConflict
)

// AppError represents an application error
type AppError struct {
	Kind    Kind   // error classification
	Message string // Error message
	Err     error  // Original error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMessage returns a copy of the AppError with a custom message
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Kind:    e.Kind,
		Message: msg,
		Err:     e.Err,
	}
}

// NewAppError creates a new application error
func NewAppError(kind Kind, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation marks a schema or content failure detected before any write
func Validation(message string, err error) *AppError {
	return NewAppError(KindValidation, message, err)
}

// Authorization marks a failed capability check
func Authorization(message string, err error) *AppError {
	return NewAppError(KindAuthorization, message, err)
}

// BadRequest marks malformed caller input
func BadRequest(message string, err error) *AppError {
	return NewAppError(KindBadRequest, message, err)
}

// Conflict marks a state conflict (duplicate key and the like)
func Conflict(message string, err error) *AppError {
	return NewAppError(KindConflict, message, err)
}

// Internal wraps an unexpected error
func Internal(err error) *AppError {
	return NewAppError(KindInternal, "Internal error", err)
}

// IsKind reports whether err is an AppError of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsAuthorization reports whether err is an authorization failure
func IsAuthorization(err error) bool { return IsKind(err, KindAuthorization) }
