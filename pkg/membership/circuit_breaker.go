package membership

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker (default: 5)
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before a probe is allowed (default: 30s)
	ResetTimeout time.Duration
	// OnStateChange is called after every transition (optional)
	OnStateChange func(BreakerState)
}

// CircuitBreaker stops calling a failing upstream for a while. After
// ResetTimeout a single probe call is let through; its outcome closes or
// re-opens the breaker.
type CircuitBreaker struct {
	mu sync.Mutex

	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	timeout   time.Duration
	onChange  func(BreakerState)
	now       func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.ResetTimeout,
		onChange:  cfg.OnStateChange,
		now:       time.Now,
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.success()
	case errors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.failure()
	}
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	switch cb.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.transition(BreakerClosed)
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.probing = false
		cb.openedAt = cb.now()
		cb.transition(BreakerOpen)
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// refresh moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(to)
	}
}
