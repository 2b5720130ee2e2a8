package publisher

import (
	"sync"
	"time"
)

// CircuitBreaker stops writes to an audit store that keeps failing.
// After threshold consecutive failures it opens for cooldown, then lets one
// attempt through.
type CircuitBreaker struct {
	mu sync.RWMutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
	isOpen    bool
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns true if the circuit is closed or the cooldown has expired.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	if !cb.isOpen {
		cb.mu.RUnlock()
		return true
	}
	expired := cb.now().After(cb.openUntil)
	cb.mu.RUnlock()

	if !expired {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	// double-check after acquiring write lock
	if cb.isOpen && cb.now().After(cb.openUntil) {
		cb.isOpen = false
		cb.failures = cb.threshold - 1
	}
	return !cb.isOpen
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}

// RecordFailure counts a failure, opening the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.isOpen
}
