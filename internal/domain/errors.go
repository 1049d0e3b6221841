package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError rejects bad input synchronously. No state was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// ConflictError means the resource is terminal or in an incompatible state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s: %s", e.Resource, e.ID, e.Reason)
}

func Conflict(resource, id, reason string) error {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// TransferError wraps a provider failure.
// Retryable: nothing was committed, the caller may try again.
// ReviewRequired: local state moved ahead of the provider, an operator must look at it.
type TransferError struct {
	Op             string
	Reference      string
	Retryable      bool
	ReviewRequired bool
	Err            error
}

func (e *TransferError) Error() string {
	kind := "retryable"
	if e.ReviewRequired {
		kind = "requires manual review"
	}
	return fmt.Sprintf("transfer %s (%s) %s: %v", e.Op, e.Reference, kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ConfigurationError lists every problem found while validating finance configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "finance configuration invalid: " + strings.Join(e.Problems, "; ")
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsRejected reports errors that carry a structured reason and need no retry.
func IsRejected(err error) bool {
	return IsValidation(err) || IsConflict(err) || errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrNotFound)
}

func AsTransfer(err error) (*TransferError, bool) {
	var t *TransferError
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
