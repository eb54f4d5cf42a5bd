package llm

import (
	"errors"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", nil, nil)
	if !IsRateLimitError(err) {
		t.Error("Expected IsRateLimitError to return true for rate limit error")
	}

	quotaErr := NewQuotaError("quota exceeded", nil)
	if !IsRateLimitError(quotaErr) {
		t.Error("Expected IsRateLimitError to return true for quota error")
	}

	regularErr := NewProviderError("some error", nil)
	if IsRateLimitError(regularErr) {
		t.Error("Expected IsRateLimitError to return false for non-rate-limit error")
	}
}

func TestIsInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("unknown parameter: temperature", nil)
	if !IsInvalidRequestError(err) {
		t.Error("Expected IsInvalidRequestError to return true for invalid request error")
	}
	if IsRetryableError(err) {
		t.Error("Expected invalid request errors to be non-retryable")
	}

	regularErr := NewProviderError("some error", nil)
	if IsInvalidRequestError(regularErr) {
		t.Error("Expected IsInvalidRequestError to return false for non-invalid-request error")
	}
}

func TestIsSafetyError(t *testing.T) {
	err := NewSafetyError("blocked by safety filter", nil)
	if !IsSafetyError(err) {
		t.Error("Expected IsSafetyError to return true for safety error")
	}
	if IsRetryableError(err) {
		t.Error("Expected safety errors to be non-retryable")
	}

	regularErr := NewRateLimitError("rate limit", nil, nil)
	if IsSafetyError(regularErr) {
		t.Error("Expected IsSafetyError to return false for non-safety error")
	}
}

func TestIsRetryableError(t *testing.T) {
	retryableErr := NewRateLimitError("rate limit", nil, nil)
	if !IsRetryableError(retryableErr) {
		t.Error("Expected IsRetryableError to return true for retryable error")
	}

	timeoutErr := NewTimeoutError("deadline exceeded", nil)
	if !IsRetryableError(timeoutErr) {
		t.Error("Expected IsRetryableError to return true for timeout error")
	}

	nonRetryableErr := NewProviderError("some error", nil)
	if IsRetryableError(nonRetryableErr) {
		t.Error("Expected IsRetryableError to return false for non-retryable error")
	}
}

func TestExtractRetryAfter(t *testing.T) {
	retryAfter := 5 * time.Minute
	err := NewRateLimitError("rate limit", &retryAfter, nil)
	extracted := ExtractRetryAfter(err)
	if extracted == nil {
		t.Fatal("Expected non-nil retry after")
	}
	if *extracted != retryAfter {
		t.Errorf("Expected retry after %v, got %v", retryAfter, *extracted)
	}

	regularErr := NewProviderError("some error", nil)
	if ExtractRetryAfter(regularErr) != nil {
		t.Error("Expected nil retry after for non-rate-limit error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := NewProviderError("wrapped", originalErr)
	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Expected error to unwrap to original error")
	}
}
