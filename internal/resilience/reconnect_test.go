package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial failed")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	dialErr := errors.New("dial failed")
	err := Reconnect(context.Background(), func() error {
		return dialErr
	}, &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond})

	if !errors.Is(err, dialErr) {
		t.Errorf("Expected error wrapping the last dial error, got %v", err)
	}
}

func TestReconnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, func() error {
		called = true
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt on a cancelled context")
	}
}
