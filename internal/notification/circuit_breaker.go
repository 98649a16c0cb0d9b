package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means sends are flowing normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means one trial send decides whether the service recovered.
	StateHalfOpen
	// StateOpen means sends are rejected until the timeout passes.
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned while the circuit is open.
	ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
				Component(componentNotification).
				Category(errors.CategoryNotification).
				Build()
	// ErrTooManyRequests is returned when the half-open trial is already in flight.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component(componentNotification).
				Category(errors.CategoryNotification).
				Build()
	// ErrRateLimited is returned when alerts arrive faster than the send rate.
	ErrRateLimited = errors.Newf("notification rate limit exceeded").
			Component(componentNotification).
			Category(errors.CategoryNotification).
			Build()
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// Timeout is how long to wait before transitioning from Open to Half-Open.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing service until it had time to recover
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	lastStateChange time.Time
	halfOpenBusy    bool
	now             func() time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.MaxFailures = max(1, config.MaxFailures)
	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Call executes fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenBusy = true
			return nil
		}
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenBusy {
			return ErrTooManyRequests
		}
		cb.halfOpenBusy = true
		return nil
	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.halfOpenBusy = false

	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	// Cancellation by the caller says nothing about the service
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	GetLogger().Info("circuit breaker state transition",
		logger.String("old_state", cb.state.String()),
		logger.String("new_state", state.String()),
		logger.Int("consecutive_failures", cb.failures))
	cb.state = state
	cb.lastStateChange = cb.now()
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
