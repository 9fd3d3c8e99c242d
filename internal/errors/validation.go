package errors

import (
	"errors"
	"fmt"
)

// ValidationError describes one invalid configuration field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// Merge appends the errors of a nested Validate call, prefixing their fields
// with prefix. Errors of other types are added under prefix itself.
func (e *ValidationErrors) Merge(prefix string, err error) {
	if err == nil {
		return
	}
	var nested ValidationErrors
	if !errors.As(err, &nested) {
		e.Add(prefix, err.Error(), nil)
		return
	}
	for _, ve := range nested {
		if prefix != "" {
			ve.Field = prefix + "." + ve.Field
		}
		*e = append(*e, ve)
	}
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns the collection as an error, or nil when it is empty
func (e ValidationErrors) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
