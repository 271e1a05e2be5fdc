package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for store lookups.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateMRN = errors.New("a patient with that MRN already exists")
)

// ValidationError represents a recoverable input validation failure.
// It carries the offending field so the form layer can highlight it.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
