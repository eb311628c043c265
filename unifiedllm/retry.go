package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how transient provider failures are retried.
// A zero Multiplier means 2.
type RetryPolicy struct {
	MaxRetries int // retries after the first attempt
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each delay uniformly over [d*(1-Jitter), d*(1+Jitter)].
	Jitter  float64
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy allows five attempts in total, starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Delay returns the backoff before retry number attempt (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult == 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// retryAfterer is implemented by every provider error through ProviderError.
type retryAfterer interface {
	RetryAfterDelay() (time.Duration, bool)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// the retries run out. A provider Retry-After hint replaces the computed
// backoff; when the hint exceeds MaxDelay the error is returned at once.
// Cancelling ctx while waiting yields an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for attempt := 0; err != nil; attempt++ {
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		var ra retryAfterer
		if errors.As(err, &ra) {
			if hint, ok := ra.RetryAfterDelay(); ok {
				if policy.MaxDelay > 0 && hint > policy.MaxDelay {
					return zero, err
				}
				delay = hint
			}
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return zero, err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}

		result, err = fn(ctx)
	}
	return result, nil
}
