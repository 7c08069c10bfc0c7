// Package resilience keeps voice commands transcribable when a speech backend
// misbehaves.
//
// Each backend sits behind a [CircuitBreaker] that stops sending it clips
// after repeated transport failures. [FallbackGroup] orders several backends
// of one kind and [TranscriberFallback] applies it to [stt.Transcriber].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the backend is
// cut off, or while its trial calls are already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's view of its backend.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the breaker opened.
	StateOpen

	// StateHalfOpen lets TrialCalls calls through. The breaker closes once
	// all of them succeed and opens again on the first failure.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name identifies the backend in logs and state callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before trying the
	// backend again. Default 30s.
	ResetTimeout time.Duration

	// TrialCalls is how many calls a half-open breaker admits. Default 3.
	TrialCalls int

	// IsFailure reports whether err means the backend is unhealthy. An
	// empty transcript or a rejected clip is an answer, not an outage.
	// Default: every error counts.
	IsFailure func(error) bool

	// OnStateChange observes every transition. It runs without the
	// breaker's lock held.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	started  int // trial calls admitted since half-open
	passed   int // trial calls that succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.TrialCalls <= 0 {
		cfg.TrialCalls = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the breaker rejects the call, and returns fn's
// error unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(trial, err != nil && cb.cfg.IsFailure(err))
	return err
}

// admit decides whether a call may run and whether it counts as a trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	cb.expireLocked()
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.started >= cb.cfg.TrialCalls {
			err = ErrCircuitOpen
			break
		}
		cb.started++
		trial = true
	}
	notify := cb.changedLocked(from)
	cb.mu.Unlock()
	notify()
	return trial, err
}

// settle books the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial, failed bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case failed && cb.state == StateHalfOpen:
		cb.openLocked()
		slog.Warn("circuit breaker re-opened", "name", cb.cfg.Name)
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.openLocked()
			slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
		}
	case trial && cb.state == StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.cfg.TrialCalls {
			cb.closeLocked()
			slog.Info("circuit breaker closed", "name", cb.cfg.Name, "trial_calls", cb.passed)
		}
	case cb.state == StateClosed:
		cb.failures = 0
	}
	notify := cb.changedLocked(from)
	cb.mu.Unlock()
	notify()
}

// expireLocked moves an open breaker to half-open once ResetTimeout passed.
func (cb *CircuitBreaker) expireLocked() {
	if cb.state != StateOpen || cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
		return
	}
	cb.state = StateHalfOpen
	cb.started, cb.passed = 0, 0
	slog.Info("circuit breaker half-open", "name", cb.cfg.Name)
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.started, cb.passed = 0, 0
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.failures, cb.started, cb.passed = 0, 0, 0
}

// changedLocked returns the OnStateChange call for a transition away from
// from, to be invoked after cb.mu is released.
func (cb *CircuitBreaker) changedLocked(from State) func() {
	to, fn := cb.state, cb.cfg.OnStateChange
	if from == to || fn == nil {
		return func() {}
	}
	name := cb.cfg.Name
	return func() { fn(name, from, to) }
}

// State reports the current state. An open breaker whose timeout has
// passed reads as half-open; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.closeLocked()
	notify := cb.changedLocked(from)
	cb.mu.Unlock()
	notify()
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
}
