package httpclient

import (
	"errors"
	"testing"
	"time"
)

func TestRetryableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RetryableError
		expected string
	}{
		{
			name: "error_with_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "Rate limit exceeded",
				RetryAfter: 30 * time.Second,
				Err:        errors.New("underlying error"),
			},
			expected: "HTTP 429: Rate limit exceeded (retry after 30s)",
		},
		{
			name: "error_without_retry_after",
			err: &RetryableError{
				StatusCode: 500,
				Message:    "Internal server error",
				Err:        errors.New("underlying error"),
			},
			expected: "HTTP 500: Internal server error",
		},
		{
			name: "error_with_subsecond_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "Rate limit exceeded",
				RetryAfter: 1500 * time.Millisecond,
				Err:        errors.New("underlying error"),
			},
			expected: "HTTP 429: Rate limit exceeded (retry after 1.5s)",
		},
		{
			name: "error_with_zero_status_code",
			err: &RetryableError{
				StatusCode: 0,
				Message:    "max retries exceeded after 5 attempts",
				RetryAfter: 4 * time.Second,
				Err:        errors.New("max retries exceeded"),
			},
			expected: "HTTP 0: max retries exceeded after 5 attempts (retry after 4s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.expected {
				t.Errorf("RetryableError.Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	retryErr := &RetryableError{
		StatusCode: 429,
		Message:    "Rate limit exceeded",
		RetryAfter: 30 * time.Second,
		Err:        underlyingErr,
	}

	if got := retryErr.Unwrap(); got != underlyingErr {
		t.Errorf("RetryableError.Unwrap() = %v, want %v", got, underlyingErr)
	}

	if !errors.Is(retryErr, underlyingErr) {
		t.Error("errors.Is should reach the wrapped error")
	}

	var asRetryErr *RetryableError
	if !errors.As(error(retryErr), &asRetryErr) {
		t.Error("errors.As should match RetryableError")
	}
	if asRetryErr.StatusCode != 429 {
		t.Errorf("As() StatusCode = %d, want 429", asRetryErr.StatusCode)
	}
}

func TestRetryableError_Unwrap_Nil(t *testing.T) {
	retryErr := &RetryableError{
		StatusCode: 500,
		Message:    "Internal server error",
	}

	if got := retryErr.Unwrap(); got != nil {
		t.Errorf("RetryableError.Unwrap() = %v, want nil", got)
	}
}

func TestRetryableError_IsRetryable(t *testing.T) {
	retryErr := &RetryableError{
		StatusCode: 503,
		Message:    "Service unavailable",
		RetryAfter: 10 * time.Second,
	}

	if !retryErr.IsRetryable() {
		t.Error("RetryableError.IsRetryable() = false, want true")
	}
}
