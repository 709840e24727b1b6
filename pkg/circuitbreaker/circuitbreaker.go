package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit is open and calls fail fast.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	OpenTimeout      time.Duration // wait before probing again
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker guards a flaky dependency: after enough consecutive
// failures, calls fail fast until the open timeout elapses.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State returns the current state, accounting for open-timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.currentState() == StateOpen {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
		return err
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
		}
	}
	return nil
}
