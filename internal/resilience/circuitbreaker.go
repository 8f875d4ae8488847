// Package resilience holds the failure handling shared by the worker pool
// and the LLM provider stack. [Retry] absorbs transient per-call errors
// inside a single backend with a fixed backoff ladder. [CircuitBreaker]
// stops hammering a backend that keeps failing. [LLMFallback] routes around
// a dead primary by composing providers behind per-entry breakers.
//
// Everything in the package is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is the rejection [CircuitBreaker.Execute] returns while the
// breaker is open and the reset timeout has not run out.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after too
	// many consecutive failures, left after the reset timeout.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Clean
	// probes close the breaker; any probe failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is how many consecutive closed-state failures trip the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls admitted while half-open.
	// Default 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker: closed, open, half-open.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker builds a closed breaker from cfg, filling defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker rejects the call, and feeds the outcome
// back into the breaker's accounting. While open it returns [ErrCircuitOpen]
// without calling fn; once the reset timeout has passed the call becomes the
// first half-open probe.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.settle(err, probing)
	return err
}

// admit decides whether the next call may proceed and reports whether it
// counts as a half-open probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFail) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent, verdict pending.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records a call outcome. A half-open failure re-opens immediately;
// enough clean probes close the breaker.
func (cb *CircuitBreaker) settle(callErr error, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		cb.lastFail = time.Now()
		if probing {
			cb.probeFails++
			cb.state = StateOpen
			cb.failures = cb.maxFailures
			slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.failures)
		}
		return
	}

	if probing {
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reads as half-open; the stored state flips on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
