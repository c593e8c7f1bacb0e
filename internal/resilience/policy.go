package resilience

import (
	"context"
	"time"
)

// Policy is the protection applied to one backend: each attempt gets its own
// timeout and runs behind the breaker, and failed attempts are retried per Retry.
type Policy struct {
	Breaker     *CircuitBreaker
	Timeout     time.Duration
	Retry       *RetryConfig
	IsRetryable IsRetryableError
}

// Do runs fn under the policy. The context passed to fn carries the attempt timeout.
func (p Policy) Do(ctx context.Context, fn RetryableContextFunc) error {
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = IsRetryableNetworkError
	}
	retry := p.Retry
	if retry == nil {
		retry = SingleRetryConfig(200 * time.Millisecond)
	}

	return RetryContext(ctx, func(ctx context.Context) error {
		attempt := func() error {
			if p.Timeout <= 0 {
				return fn(ctx)
			}
			attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()
			return fn(attemptCtx)
		}
		if p.Breaker == nil {
			return attempt()
		}
		return p.Breaker.Call(attempt)
	}, retry, isRetryable)
}
