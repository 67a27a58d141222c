package core

import "errors"

// ErrorKind categorizes a public facade error.
type ErrorKind string

const (
	ErrNotFound             ErrorKind = "not_found"
	ErrAccessDenied         ErrorKind = "access_denied"
	ErrInvalidArgument      ErrorKind = "invalid_argument"
	ErrEmbedding            ErrorKind = "embedding"
	ErrBackend              ErrorKind = "backend"
	ErrInsufficientMemories ErrorKind = "insufficient_memories"
)

// Error is the typed error every public operation returns.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a typed Error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind of err, or "" if err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is lets errors.Is(err, memory.ErrNotFound) style checks work by
// comparing kinds when the target is itself a sentinel *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}
