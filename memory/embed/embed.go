// Package embed defines the provider-neutral embedding adapter contract
// and the recognized model/dimension table.
package embed

import (
	"context"
	"errors"
	"time"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ErrorKind classifies an embedding adapter failure.
type ErrorKind string

const (
	ErrTransportTimeout ErrorKind = "transport_timeout"
	ErrTransportError   ErrorKind = "transport_error"
	ErrRateLimited      ErrorKind = "rate_limited"
	ErrProviderError    ErrorKind = "provider_error"
	ErrMisconfiguration ErrorKind = "misconfiguration"
)

// Error is a provider-neutral embedding error.
type Error struct {
	Kind       ErrorKind
	Message    string
	Retryable  bool
	RetryAfter *time.Duration
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether err (if an *Error) permits a retry. Only
// transport-timeout, transport-error and rate-limited are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// RetryAfter extracts the provider-supplied retry-after duration, if any.
func RetryAfter(err error) *time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return nil
}

func NewTimeoutError(message string, cause error) *Error {
	return &Error{Kind: ErrTransportTimeout, Message: message, Retryable: true, Cause: cause}
}

func NewTransportError(message string, cause error) *Error {
	return &Error{Kind: ErrTransportError, Message: message, Retryable: true, Cause: cause}
}

func NewRateLimitedError(message string, retryAfter *time.Duration, cause error) *Error {
	return &Error{Kind: ErrRateLimited, Message: message, Retryable: true, RetryAfter: retryAfter, Cause: cause}
}

func NewProviderError(message string, statusCode int, cause error) *Error {
	return &Error{Kind: ErrProviderError, Message: message, Retryable: false, StatusCode: statusCode, Cause: cause}
}

func NewMisconfigurationError(message string, cause error) *Error {
	return &Error{Kind: ErrMisconfiguration, Message: message, Retryable: false, Cause: cause}
}

// ModelDimensions is the recognized embedding model/dimension table.
var ModelDimensions = map[string]int{
	"nomic-embed-text":        768,
	"mxbai-embed-large":       1024,
	"all-minilm":              384,
	"snowflake-arctic-embed":  1024,
	"text-embedding-3-small":  1536,
	"text-embedding-3-large":  3072,
	"text-embedding-ada-002":  1536,
}

// DimensionsFor looks up a recognized model's dimension. A model outside
// the table is a misconfiguration unless the caller supplies an explicit
// override dimension (fallback > 0).
func DimensionsFor(model string, fallback int) (int, error) {
	if d, ok := ModelDimensions[model]; ok {
		return d, nil
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, NewMisconfigurationError("unrecognized embedding model "+model, nil)
}
