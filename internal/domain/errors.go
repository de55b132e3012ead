package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountNotLinked = errors.New("account has no concept2 credentials")
	ErrActivityNotFound = errors.New("activity not found")
	ErrUnauthorized     = errors.New("concept2 rejected access token")
	ErrRefresh          = errors.New("token refresh failed")
	ErrTransient        = errors.New("transient upstream failure")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid oauth state")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// RefreshError marks an account as un-syncable for the current cycle
type RefreshError struct {
	AccountID int64
	Err       error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing token for account %d: %v", e.AccountID, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefresh, e.Err}
}

// ValidationError describes a rejected payload
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// NewValidationError creates a validation error with optional field details
func NewValidationError(message string, fields map[string]string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrActivityNotFound)
}

// IsTransient checks if an error should be retried on the next cycle
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
