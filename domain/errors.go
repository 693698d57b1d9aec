package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when a write is attempted without a signed-in user.
	ErrUnauthenticated = errors.New("user not signed in")
	// ErrTaskNotFound indicates that the store holds no task with the requested id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrValidation marks every error produced by local validation.
	ErrValidation = errors.New("validation failed")

	ErrTitleRequired      = errors.New("title is required")
	ErrStatusRequired     = errors.New("status is required")
	ErrDueDateRequired    = errors.New("due date is required")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrDescriptionTooLong = fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
)

// ValidationError reports which field blocked a submission.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
