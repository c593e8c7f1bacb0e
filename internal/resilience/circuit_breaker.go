package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Name identifies the backend in metrics and logs, e.g. "stt_deepgram".
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenProbes is both the number of requests admitted while half-open
	// and the number of successes needed to close again. Defaults to 3.
	HalfOpenProbes int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to CircuitState)
}

// BreakerStats is a snapshot of a breaker's counters.
type BreakerStats struct {
	State    CircuitState
	Requests int64 // attempts that reached the backend
	Failures int64
	Rejected int64 // attempts refused while open
}

// CircuitBreaker stops calling a backend after repeated failures and lets a
// few probe requests through once ResetTimeout has passed.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int // consecutive, reset on success while closed
	openedAt  time.Time
	admitted  int // probes admitted while half-open
	successes int // probe successes while half-open
	stats     BreakerStats
	now       func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Name returns the breaker name used in metrics.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Call runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
			cb.state = StateHalfOpen
			cb.admitted = 1
			cb.successes = 0
			allowed = true
		}
	case StateHalfOpen:
		if cb.admitted < cb.cfg.HalfOpenProbes {
			cb.admitted++
			allowed = true
		}
	}
	if !allowed {
		cb.stats.Rejected++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// RecordResult feeds one outcome to the breaker. It is exported for callers
// whose work cannot be wrapped in Call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	from := cb.state
	cb.stats.Requests++
	if success {
		cb.onSuccess()
	} else {
		cb.stats.Failures++
		cb.onFailure()
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenProbes {
			cb.state = StateClosed
			cb.failures = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.admitted = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed still reports StateOpen until the next request probes it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}
