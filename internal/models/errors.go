package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a lookup by id, credentials or login key finds nothing.
var ErrNotFound = errors.New("not found")

// Field names used in violations.
const (
	FieldEmail                = "email"
	FieldDisplayName          = "display_name"
	FieldOpenIDURL            = "openid_url"
	FieldPassword             = "password"
	FieldPasswordConfirmation = "password_confirmation"
)

// Violation reasons.
const (
	ReasonRequired             = "required"
	ReasonInvalidFormat        = "invalid-format"
	ReasonTooShort             = "too-short"
	ReasonTooLong              = "too-long"
	ReasonConfirmationMismatch = "confirmation-mismatch"
	ReasonRequiredForOpenID    = "required-for-openid"
	ReasonTaken                = "taken"
)

// Violation is a single field-level rule failure.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every violation found for a candidate identity.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Reason)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether a violation exists for field with the given reason.
func (e *ValidationError) Has(field, reason string) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Reason == reason {
			return true
		}
	}
	return false
}

// UniquenessViolation is returned when a unique field collides with an existing record at commit time.
type UniquenessViolation struct {
	Field string
}

func (e *UniquenessViolation) Error() string {
	return fmt.Sprintf("%s has already been taken", e.Field)
}

// AsViolation re-surfaces the collision as a field-level violation.
func (e *UniquenessViolation) AsViolation() Violation {
	return Violation{Field: e.Field, Reason: ReasonTaken}
}
