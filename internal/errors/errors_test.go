package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrappersClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", WrapNotFound("get", "esc-1"), IsNotFound},
		{"invalid state", WrapInvalidState("resolve", "esc-1", errors.New("already resolved")), IsInvalidState},
		{"validation", WrapValidation("create", ErrInvalidInput), IsValidation},
		{"conflict", WrapConflict("resolve", "esc-1"), IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("%v not classified as %s", tt.err, tt.name)
			}
		})
	}
}

func TestClassifiersAreExclusive(t *testing.T) {
	err := WrapNotFound("get", "esc-1")
	if IsInvalidState(err) || IsValidation(err) || IsConflict(err) {
		t.Errorf("not-found error matched another category: %v", err)
	}
}

func TestErrorIncludesOpAndID(t *testing.T) {
	err := WrapInvalidState("escalate_higher", "esc-9", errors.New("already at highest level"))
	msg := err.Error()
	if !strings.Contains(msg, "escalate_higher") || !strings.Contains(msg, "esc-9") {
		t.Errorf("error message missing context: %q", msg)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewEscalationError(ErrorTypeInternal, "insert", "esc-2", fmt.Errorf("write: %w", cause))
	if !errors.Is(err, cause) {
		t.Errorf("wrapped cause lost: %v", err)
	}
}

func TestIsThroughFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", WrapConflict("resolve", "esc-3"))
	if !IsConflict(err) {
		t.Errorf("conflict not detected through outer wrap: %v", err)
	}
}
