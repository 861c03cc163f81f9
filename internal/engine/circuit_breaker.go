package engine

import (
	"sync"
	"time"
)

// CircuitState is the state of the email provider circuit.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // sends flow normally
	CircuitOpen                         // provider failing, passes are skipped
	CircuitHalfOpen                     // probing with a limited batch
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the provider circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive provider failures that open the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// HalfOpenMax caps how many executions a probing pass may process.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the configuration used when the breaker is enabled.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
		HalfOpenMax:      1,
	}
}

// circuitBreaker tracks consecutive provider failures. While it is open,
// scheduler passes leave due executions untouched instead of failing each
// one against a provider that is down.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	config              CircuitBreakerConfig
	now                 func() time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig, now func() time.Time) *circuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &circuitBreaker{config: cfg, now: now}
}

// batchLimit returns how many executions the next pass may process given
// the pass's configured size; 0 means skip the pass.
func (cb *circuitBreaker) batchLimit(size int) int {
	switch cb.State() {
	case CircuitOpen:
		return 0
	case CircuitHalfOpen:
		return min(size, cb.config.HalfOpenMax)
	default:
		return size
	}
}

// State returns the current state, moving open to half-open once the cooldown elapsed.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a provider failure and returns the resulting state.
func (cb *circuitBreaker) RecordFailure() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}
