package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenMax: 2}, clock.Now)

	assert.Equal(t, 50, cb.batchLimit(50))
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	assert.Equal(t, CircuitOpen, cb.RecordFailure())
	assert.Equal(t, 0, cb.batchLimit(50))
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, clock.Now)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMax: 2}, clock.Now)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	clock.Advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Equal(t, 2, cb.batchLimit(50))

	assert.Equal(t, CircuitOpen, cb.RecordFailure())

	clock.Advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{}, time.Now)
	assert.Equal(t, DefaultCircuitBreakerConfig(), cb.config)
	assert.Equal(t, "closed", cb.State().String())
}
