package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func TestErrorFromStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status    int
		message   string
		check     func(error) bool
		retryable bool
	}{
		{400, "missing field", isType[*InvalidRequestError], false},
		{400, "prompt is too long: 210000 tokens > 200000 maximum", isType[*ContextLengthError], false},
		{422, "maximum context length is 128000 tokens", isType[*ContextLengthError], false},
		{401, "bad key", isType[*AuthenticationError], false},
		{402, "billing", isType[*QuotaExceededError], false},
		{403, "forbidden", isType[*AccessDeniedError], false},
		{404, "no model", isType[*NotFoundError], false},
		{408, "slow", isType[*RequestTimeoutError], true},
		{413, "too big", isType[*ContextLengthError], false},
		{429, "slow down", isType[*RateLimitError], true},
		{529, "overloaded", isType[*ServerError], true},
		{418, "teapot", isType[*ProviderError], true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.message), func(t *testing.T) {
			err := ErrorFromStatusCode(tt.status, tt.message, "anthropic", "", nil, nil)
			if !tt.check(err) {
				t.Fatalf("unexpected type %T", err)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsRetryableWalksTheChain(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"content filter", &ContentFilterError{}, false},
		{"configuration", &ConfigurationError{}, false},
		{"malformed tool call", &InvalidToolCallError{}, false},
		{"abort", &AbortError{}, false},
		{"network", &NetworkError{}, true},
		{"provider flag off", &ProviderError{Retryable: false}, false},
		{"wrapped rate limit", fmt.Errorf("iteration 3: %w", &RateLimitError{ProviderError: ProviderError{Retryable: true}}), true},
		{"wrapped auth", fmt.Errorf("iteration 3: %w", &AuthenticationError{}), false},
		{"bare cancel", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("llm: %w", context.Canceled), false},
		{"unclassified", errors.New("mystery"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestProviderErrorRetryAfterDelay(t *testing.T) {
	half := 0.5
	negative := -1.0
	tests := []struct {
		name   string
		hint   *float64
		want   time.Duration
		wantOK bool
	}{
		{"absent", nil, 0, false},
		{"half second", &half, 500 * time.Millisecond, true},
		{"negative", &negative, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := &ProviderError{RetryAfter: tt.hint}
			got, ok := pe.RetryAfterDelay()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RetryAfterDelay() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	// Promoted through the concrete types, which Retry relies on.
	var ra retryAfterer = &RateLimitError{ProviderError: ProviderError{RetryAfter: &half}}
	if d, ok := ra.RetryAfterDelay(); !ok || d != 500*time.Millisecond {
		t.Errorf("RateLimitError hint = %v, %v", d, ok)
	}
}

func TestWrapTransportError(t *testing.T) {
	if wrapTransportError("openai", nil) != nil {
		t.Error("nil error should stay nil")
	}

	var abort *AbortError
	if err := wrapTransportError("openai", context.Canceled); !errors.As(err, &abort) {
		t.Errorf("cancel: got %T", err)
	}
	var timeout *RequestTimeoutError
	if err := wrapTransportError("openai", context.DeadlineExceeded); !errors.As(err, &timeout) {
		t.Errorf("deadline: got %T", err)
	}

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err := wrapTransportError("anthropic", dial)
	var netErr *NetworkError
	if !errors.As(err, &netErr) || !IsRetryable(err) {
		t.Errorf("dial failure: got %T retryable=%v", err, IsRetryable(err))
	}
	if !strings.Contains(err.Error(), "anthropic network error") || !errors.Is(err, dial) {
		t.Errorf("unexpected message or chain: %v", err)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		SDKError:   SDKError{Message: "rate limit exceeded"},
		Provider:   "openai",
		StatusCode: 429,
		Retryable:  true,
	}
	want := "[openai] rate limit exceeded (status=429, retryable=true)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("root cause")
	wrapped := &SDKError{Message: "wrapper", Cause: cause}
	if !errors.Is(wrapped, cause) || wrapped.Error() != "wrapper: root cause" {
		t.Errorf("SDKError should carry and unwrap its cause: %v", wrapped)
	}
}
