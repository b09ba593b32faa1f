package apperrors

import "errors"

// Persistence errors. Every one of them aborts the enclosing transaction.
var (
	// ErrDuplicateIdentity is returned when persist is called for an identity
	// that already exists or was detached from the session.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrNotFound is returned for missing ids, unmanaged entities and single
	// result lookups matching zero or several rows.
	ErrNotFound = errors.New("entity not found")
	// ErrCascadeConsistency signals a broken relationship invariant. It is a
	// programming defect, never an expected outcome.
	ErrCascadeConsistency = errors.New("cascade consistency violated")
	// ErrValidationFailed is returned for entities that cannot be stored as given.
	ErrValidationFailed = errors.New("validation failed")
	// ErrSessionClosed is returned when a session is used after its transaction ended.
	ErrSessionClosed = errors.New("session is closed")
)

// NewDuplicateIdentityError creates a duplicate identity error with a message
func NewDuplicateIdentityError(message string) *CustomError {
	return &CustomError{
		Err:     ErrDuplicateIdentity,
		Message: message,
		Code:    "DUPLICATE_IDENTITY",
	}
}

// NewNotFoundError creates a not found error with a message
func NewNotFoundError(message string) *CustomError {
	return &CustomError{
		Err:     ErrNotFound,
		Message: message,
		Code:    "NOT_FOUND",
	}
}

// NewCascadeConsistencyError creates a cascade consistency error with a message
func NewCascadeConsistencyError(message string) *CustomError {
	return &CustomError{
		Err:     ErrCascadeConsistency,
		Message: message,
		Code:    "CASCADE_CONSISTENCY",
	}
}

// NewValidationError creates a validation error with a message
func NewValidationError(message string) *CustomError {
	return &CustomError{
		Err:     ErrValidationFailed,
		Message: message,
		Code:    "VALIDATION_FAILED",
	}
}

// CustomError represents application-specific errors with additional context
type CustomError struct {
	Err     error
	Message string
	Code    string
	Details map[string]interface{}
}

// Error implements error interface
func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements errors.Unwrap interface
func (e *CustomError) Unwrap() error {
	return e.Err
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}
