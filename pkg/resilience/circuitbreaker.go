// Package resilience guards calls to the conversation service.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"actionit/backend/pkg/logger"
)

// ErrCircuitOpen is returned by Execute while the breaker short-circuits calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold uint
	// SuccessThreshold probe successes close it again
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// IsFailure decides which errors count against the breaker; nil counts all
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     60 * time.Second,
	}
}

// Stats is a point-in-time view of a breaker
type Stats struct {
	Name                string
	State               CircuitBreakerState
	Requests            uint64
	Failures            uint64
	Successes           uint64
	Rejected            uint64
	Opened              uint64
	LastFailure         time.Time
	NextAttempt         time.Time
	ConsecutiveFailures uint
}

// CircuitBreaker stops calling a failing backend for RetryTimeout, then lets
// SuccessThreshold probes through one at a time before closing.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *logger.Logger
	now func() time.Time

	mu           sync.Mutex
	state        CircuitBreakerState
	failures     uint
	probeOK      uint
	probing      bool
	nextAttempt  time.Time
	lastFailure  time.Time
	requests     uint64
	totalFail    uint64
	totalSuccess uint64
	rejected     uint64
	opened       uint64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if log == nil {
		log = logger.Discard()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:   config,
		log:   log.WithComponent("circuit_breaker").With("breaker", config.Name),
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs fn unless the circuit is open. A call abandoned because ctx
// ended says nothing about the backend and is not counted.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, ok := cb.acquire()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	switch {
	case err != nil && ctx.Err() != nil:
		cb.release(probe)
	case err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)):
		cb.onFailure(probe, err)
	default:
		cb.onSuccess(probe)
	}
	return err
}

func (cb *CircuitBreaker) acquire() (probe bool, ok bool) {
	cb.mu.Lock()
	cb.requests++

	var change func()
	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			cb.rejected++
			cb.mu.Unlock()
			return false, false
		}
		change = cb.transitionLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			cb.rejected++
			cb.mu.Unlock()
			cb.notify(change)
			return false, false
		}
		cb.probing = true
		cb.mu.Unlock()
		cb.notify(change)
		return true, true
	}
	cb.mu.Unlock()
	return false, true
}

func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onSuccess(probe bool) {
	cb.mu.Lock()
	cb.totalSuccess++
	var change func()
	if probe {
		cb.probing = false
		cb.probeOK++
		if cb.probeOK >= cb.cfg.SuccessThreshold {
			change = cb.transitionLocked(StateClosed)
		}
	} else {
		cb.failures = 0
	}
	cb.mu.Unlock()
	cb.notify(change)
}

func (cb *CircuitBreaker) onFailure(probe bool, err error) {
	cb.mu.Lock()
	cb.totalFail++
	cb.lastFailure = cb.now()
	var change func()
	if probe {
		cb.probing = false
		change = cb.transitionLocked(StateOpen)
	} else if cb.state == StateClosed {
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			change = cb.transitionLocked(StateOpen)
		}
	}
	failures := cb.failures
	cb.mu.Unlock()

	cb.log.Warn("Backend call failed", "error", err.Error(), "consecutive_failures", failures)
	cb.notify(change)
}

// transitionLocked moves to state and returns the notification to run once
// the lock is released.
func (cb *CircuitBreaker) transitionLocked(to CircuitBreakerState) func() {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.opened++
		cb.probeOK = 0
		cb.nextAttempt = cb.now().Add(cb.cfg.RetryTimeout)
	case StateHalfOpen:
		cb.probeOK = 0
	case StateClosed:
		cb.failures = 0
		cb.probeOK = 0
	}
	next := cb.nextAttempt

	return func() {
		cb.log.Info("Circuit breaker state changed", "from", string(from), "to", string(to), "next_attempt", next)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, from, to)
		}
	}
}

func (cb *CircuitBreaker) notify(change func()) {
	if change != nil {
		change()
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:                cb.cfg.Name,
		State:               cb.state,
		Requests:            cb.requests,
		Failures:            cb.totalFail,
		Successes:           cb.totalSuccess,
		Rejected:            cb.rejected,
		Opened:              cb.opened,
		LastFailure:         cb.lastFailure,
		NextAttempt:         cb.nextAttempt,
		ConsecutiveFailures: cb.failures,
	}
}
