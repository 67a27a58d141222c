package openaiembed

import (
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexmem/cortex/memory/embed"
)

func TestClassifyRateLimitIsRetryable(t *testing.T) {
	eb := backoff.NewExponentialBackOff()
	err := classify(&openai.APIError{HTTPStatusCode: 429}, eb)

	var e *embed.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *embed.Error, got %T", err)
	}
	if e.Kind != embed.ErrRateLimited {
		t.Errorf("Kind = %v, want %v", e.Kind, embed.ErrRateLimited)
	}
}

func TestClassifyServerErrorIsRetryable(t *testing.T) {
	eb := backoff.NewExponentialBackOff()
	err := classify(&openai.APIError{HTTPStatusCode: 503}, eb)

	var e *embed.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *embed.Error, got %T", err)
	}
	if e.Kind != embed.ErrTransportError {
		t.Errorf("Kind = %v, want %v", e.Kind, embed.ErrTransportError)
	}
}

func TestClassifyClientErrorIsPermanent(t *testing.T) {
	eb := backoff.NewExponentialBackOff()
	err := classify(&openai.APIError{HTTPStatusCode: 400}, eb)

	var perm *backoff.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected a backoff.Permanent wrapped error, got %T", err)
	}

	var e *embed.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *embed.Error inside the permanent wrapper, got %T", err)
	}
	if e.Kind != embed.ErrProviderError {
		t.Errorf("Kind = %v, want %v", e.Kind, embed.ErrProviderError)
	}
}
