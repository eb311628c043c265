package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
	Raw        map[string]interface{}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// RetryAfterDelay returns the provider's Retry-After hint, if it sent one.
func (e *ProviderError) RetryAfterDelay() (time.Duration, bool) {
	if e.RetryAfter == nil || *e.RetryAfter < 0 {
		return 0, false
	}
	return time.Duration(*e.RetryAfter * float64(time.Second)), true
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }

// InvalidToolCallError reports a response whose tool call could not be
// decoded. The loop treats it as a malformed response.
type InvalidToolCallError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, raw map[string]interface{}, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Raw:        raw,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		if looksLikeContextOverflow(message) {
			return &ContextLengthError{ProviderError: pe}
		}
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 402:
		return &QuotaExceededError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

func looksLikeContextOverflow(message string) bool {
	for _, marker := range []string{"context length", "context_length", "maximum context", "prompt is too long", "too many tokens"} {
		if strings.Contains(strings.ToLower(message), marker) {
			return true
		}
	}
	return false
}

// wrapTransportError converts errors that never reached the provider into
// the unified taxonomy.
func wrapTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: provider + " request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: provider + " request timed out", Cause: err}}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{SDKError: SDKError{Message: provider + " network error", Cause: err}}
	}
	return &NetworkError{SDKError: SDKError{Message: provider + " request failed", Cause: err}}
}

// IsRetryable returns true if the error is safe to retry. Wrapped errors are
// inspected down the chain; the first recognised type decides.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := e.(type) {
		case *ProviderError:
			return v.Retryable
		case *AuthenticationError, *AccessDeniedError, *NotFoundError, *InvalidRequestError,
			*ContextLengthError, *QuotaExceededError, *ContentFilterError, *ConfigurationError,
			*InvalidToolCallError, *AbortError:
			return false
		case *RateLimitError, *ServerError, *NetworkError, *RequestTimeoutError:
			return true
		}
		if errors.Is(e, context.Canceled) {
			return false
		}
	}
	// Unknown errors default to retryable.
	return true
}
