package core

import (
	"errors"
	"testing"
)

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrBackend, "store failed", cause)

	if err.Error() != "store failed: boom" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if KindOf(err) != ErrBackend {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), ErrBackend)
	}
}

func TestErrorIsComparesKind(t *testing.T) {
	a := NewError(ErrNotFound, "missing", nil)
	b := NewError(ErrNotFound, "different message", nil)
	c := NewError(ErrAccessDenied, "denied", nil)

	if !errors.Is(a, b) {
		t.Error("two not_found errors should compare equal via Is")
	}
	if errors.Is(a, c) {
		t.Error("different kinds should not compare equal")
	}
}

func TestKindOfNonMemoryError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of a non-memory error should be empty")
	}
}
