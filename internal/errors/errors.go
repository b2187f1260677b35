package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeState      ErrorType = "invalid_state"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
)

// EscalationError is a structured error for escalation operations
type EscalationError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "resolve", "escalate_higher")
	ID        string // Escalation ID where the error occurred
	Err       error  // Underlying error
	Timestamp time.Time
}

func (e *EscalationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *EscalationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *EscalationError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrInvalidState:
		return e.Type == ErrorTypeState
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	}

	return errors.Is(e.Err, target)
}

// NewEscalationError creates a new EscalationError
func NewEscalationError(errorType ErrorType, op, id string, err error) *EscalationError {
	return &EscalationError{
		Type:      errorType,
		Op:        op,
		ID:        id,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Helper functions

// WrapNotFound wraps a missing-record error with context
func WrapNotFound(op, id string) error {
	return NewEscalationError(ErrorTypeNotFound, op, id, fmt.Errorf("escalation %s: %w", id, ErrNotFound))
}

// WrapInvalidState wraps a rejected state transition with context
func WrapInvalidState(op, id string, err error) error {
	return NewEscalationError(ErrorTypeState, op, id, err)
}

// WrapValidation wraps a malformed-input rejection with context
func WrapValidation(op string, err error) error {
	return NewEscalationError(ErrorTypeValidation, op, "", err)
}

// WrapConflict wraps a concurrent-update rejection with context
func WrapConflict(op, id string) error {
	return NewEscalationError(ErrorTypeConflict, op, id, fmt.Errorf("escalation %s was modified concurrently: %w", id, ErrConflict))
}

// IsNotFound checks if an error indicates a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState checks if an error indicates a rejected transition
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsValidation checks if an error indicates malformed input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error indicates a lost concurrent update
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
