// Package validation provides utility functions for validating configuration inputs.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Error represents a validation error.
type Error struct {
	Field   string
	Message string
}

// Error returns a formatted string representation of the validation error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewError creates a new validation error.
func NewError(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

// HTTPSURL validates that a value is a well-formed https URL with a host.
func HTTPSURL(fieldName, value string) error {
	if value == "" {
		return NewError(fieldName, "is required")
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return NewError(fieldName, "invalid URL format")
	}
	if parsed.Scheme != "https" {
		return NewError(fieldName, "must use https")
	}
	if parsed.Host == "" {
		return NewError(fieldName, "missing host")
	}

	return nil
}

// UUID validates a UUID string.
func UUID(fieldName, value string) error {
	if value == "" {
		return NewError(fieldName, "is required")
	}

	if _, err := uuid.Parse(value); err != nil {
		return NewError(fieldName, "invalid UUID format")
	}

	return nil
}

// RequiredString validates that a string is not empty.
func RequiredString(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewError(fieldName, "is required")
	}
	return nil
}
