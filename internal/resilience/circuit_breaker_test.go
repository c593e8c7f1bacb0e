package resilience

import (
	"errors"
	"testing"
	"time"
)

type transition struct {
	name     string
	from, to CircuitState
}

// newTestBreaker returns a breaker on a controllable clock that records its
// state transitions.
func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *time.Time, *[]transition) {
	now := time.Unix(1700000000, 0)
	var seen []transition
	cb := NewCircuitBreaker(BreakerConfig{
		Name:         "stt_deepgram",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		OnStateChange: func(name string, from, to CircuitState) {
			seen = append(seen, transition{name, from, to})
		},
	})
	cb.now = func() time.Time { return now }
	return cb, &now, &seen
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordResult(false)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _, seen := newTestBreaker(3, time.Second)

	if cb.State() != StateClosed {
		t.Fatalf("Expected initial state closed, got %s", cb.State())
	}

	trip(cb, 2)
	cb.RecordResult(true)
	trip(cb, 2)
	if cb.State() != StateClosed {
		t.Error("A success should reset the consecutive failure count")
	}

	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 consecutive failures, got %s", cb.State())
	}
	if len(*seen) != 1 || (*seen)[0] != (transition{"stt_deepgram", StateClosed, StateOpen}) {
		t.Errorf("Unexpected transitions: %v", *seen)
	}
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)
	trip(cb, 1)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected function not to run while open")
	}
	if s := cb.Stats(); s.Rejected != 1 || s.Requests != 1 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestCircuitBreaker_HalfOpenProbes(t *testing.T) {
	cb, now, seen := newTestBreaker(3, 100*time.Millisecond)
	trip(cb, 3)

	*now = now.Add(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if !cb.allowRequest() {
			t.Fatalf("Expected probe %d to be admitted", i+1)
		}
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open, got %s", cb.State())
	}
	if cb.allowRequest() {
		t.Error("Expected the fourth probe to be refused")
	}
	if got := (*seen)[len(*seen)-1]; got.to != StateHalfOpen {
		t.Errorf("Expected last transition to half-open, got %v", got)
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb, now, seen := newTestBreaker(3, 100*time.Millisecond)
	trip(cb, 3)
	*now = now.Add(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probes, got %s", cb.State())
	}
	want := []transition{
		{"stt_deepgram", StateClosed, StateOpen},
		{"stt_deepgram", StateOpen, StateHalfOpen},
		{"stt_deepgram", StateHalfOpen, StateClosed},
	}
	if len(*seen) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), *seen)
	}
	for i := range want {
		if (*seen)[i] != want[i] {
			t.Errorf("Transition %d = %v, want %v", i, (*seen)[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now, _ := newTestBreaker(3, 100*time.Millisecond)
	trip(cb, 3)
	*now = now.Add(150 * time.Millisecond)

	if err := cb.Call(func() error { return errors.New("still down") }); err == nil {
		t.Fatal("Expected probe error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failed probe, got %s", cb.State())
	}

	// The reset timeout restarts from the failed probe.
	*now = now.Add(50 * time.Millisecond)
	if cb.allowRequest() {
		t.Error("Expected breaker to stay open within the new reset window")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "tts_cartesia", MaxFailures: 3, ResetTimeout: time.Second})

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	s := cb.Stats()
	if s.State != StateClosed || s.Requests != 3 || s.Failures != 1 || s.Rejected != 0 {
		t.Errorf("Unexpected stats: %+v", s)
	}
	if cb.Name() != "tts_cartesia" {
		t.Errorf("Unexpected name %q", cb.Name())
	}
}
