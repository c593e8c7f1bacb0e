package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_RetriesOnceOnTimeout(t *testing.T) {
	p := Policy{
		Breaker: NewCircuitBreaker(BreakerConfig{Name: "stt", MaxFailures: 5, ResetTimeout: time.Second}),
		Timeout: 20 * time.Millisecond,
		Retry:   SingleRetryConfig(time.Millisecond),
	}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if s := p.Breaker.Stats(); s.Requests != 2 || s.Failures != 2 {
		t.Errorf("Expected breaker to record 2 failures, got %+v", s)
	}
}

func TestPolicy_NoRetryOnPermanentError(t *testing.T) {
	p := Policy{Retry: SingleRetryConfig(time.Millisecond)}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &StatusError{Backend: "cartesia", StatusCode: 401}
	})

	if err == nil || attempts != 1 {
		t.Errorf("Expected one failed attempt, got attempts=%d err=%v", attempts, err)
	}
}

func TestPolicy_OpenBreakerShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "tts", MaxFailures: 1, ResetTimeout: time.Hour})
	cb.RecordResult(false)
	p := Policy{Breaker: cb, Retry: SingleRetryConfig(time.Millisecond)}

	called := false
	err := p.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected backend not to be called while the breaker is open")
	}
}
