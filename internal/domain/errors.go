package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a payload that will never be accepted as-is.
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable marks a collaborator failure; the same input may succeed later.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned by stores and registries for absent records.
	ErrNotFound = errors.New("not found")
	// ErrSensorNotFound is wrapped by a ValidationError when the sensor is unknown or inactive.
	ErrSensorNotFound = errors.New("sensor not found")
	// ErrAlreadyExists is returned when registering a sensor twice.
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError describes a malformed or incomplete batch.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// UpstreamError wraps a store or directory failure.
type UpstreamError struct {
	Op  string
	Err error
}

func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstreamUnavailable, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}

// Retriable reports whether resubmitting the same batch can succeed.
func Retriable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
