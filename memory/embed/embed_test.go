package embed

import (
	"errors"
	"testing"
)

func TestDimensionsForRecognizedModel(t *testing.T) {
	d, err := DimensionsFor("nomic-embed-text", 0)
	if err != nil {
		t.Fatalf("DimensionsFor failed: %v", err)
	}
	if d != 768 {
		t.Errorf("DimensionsFor(nomic-embed-text) = %d, want 768", d)
	}
}

func TestDimensionsForUnrecognizedModelWithoutFallback(t *testing.T) {
	_, err := DimensionsFor("some-made-up-model", 0)
	if err == nil {
		t.Fatal("expected an error for an unrecognized model with no fallback")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != ErrMisconfiguration {
		t.Errorf("Kind = %v, want %v", e.Kind, ErrMisconfiguration)
	}
}

func TestDimensionsForUnrecognizedModelWithFallback(t *testing.T) {
	d, err := DimensionsFor("some-made-up-model", 512)
	if err != nil {
		t.Fatalf("DimensionsFor failed: %v", err)
	}
	if d != 512 {
		t.Errorf("DimensionsFor fallback = %d, want 512", d)
	}
}

func TestIsRetryableByKind(t *testing.T) {
	if !IsRetryable(NewTimeoutError("t", nil)) {
		t.Error("timeout error should be retryable")
	}
	if !IsRetryable(NewTransportError("t", nil)) {
		t.Error("transport error should be retryable")
	}
	if !IsRetryable(NewRateLimitedError("t", nil, nil)) {
		t.Error("rate limited error should be retryable")
	}
	if IsRetryable(NewProviderError("t", 400, nil)) {
		t.Error("provider error should not be retryable")
	}
	if IsRetryable(NewMisconfigurationError("t", nil)) {
		t.Error("misconfiguration error should not be retryable")
	}
}
