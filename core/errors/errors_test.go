package errors

import (
	"fmt"
	"testing"
)

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestAsFindsWrappedCause(t *testing.T) {
	err := fmt.Errorf("join writer: %w: %w", ErrJoinFailure, &codeError{code: 7})
	var ce *codeError
	if !As(err, &ce) || ce.code != 7 {
		t.Fatalf("expected codeError 7, got %v", err)
	}
	if As(New("plain"), &ce) {
		t.Error("plain error should not match")
	}
}

func TestThreadCreationMatchesBoth(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrThreadCreation, ErrResourceExhausted)
	if !Is(err, ErrThreadCreation) {
		t.Error("expected ErrThreadCreation to match")
	}
	if !Is(err, ErrResourceExhausted) {
		t.Error("expected cause to match")
	}
	if Is(err, ErrInvalidState) {
		t.Error("did not expect ErrInvalidState to match")
	}
}
