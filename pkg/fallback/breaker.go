package fallback

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker refuses a call because the
// provider has been failing.
var ErrCircuitOpen = errors.New("circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calls to a provider after repeated failures. Open
// trips after failureThreshold consecutive failures; after recoveryTimeout
// it lets up to halfOpenMaxCalls probes through, closing again only once
// that many succeed.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	state         breakerState
	failures      int
	successes     int
	halfOpenCalls int
	lastFailure   time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a breaker with the default thresholds: 5
// consecutive failures to open, 30s before probing, 3 probes to close.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		recoveryTimeout:  30 * time.Second,
		halfOpenMaxCalls: 3,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed, reserving a probe slot when the
// breaker is half open.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.transition(stateHalfOpen)
			b.halfOpenCalls++
			return true
		}
		return false
	default:
		if b.halfOpenCalls < b.halfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	}
}

// RecordSuccess resets the failure streak and, in half-open state, counts
// toward closing the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == stateHalfOpen {
		b.successes++
		if b.successes >= b.halfOpenMaxCalls {
			b.transition(stateClosed)
		}
	}
}

// RecordFailure counts a failed call. A half-open failure reopens the
// breaker immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.transition(stateOpen)
	}
}

// State reports the current state name.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *CircuitBreaker) transition(next breakerState) {
	prev := b.state
	b.state = next
	switch next {
	case stateClosed:
		b.failures = 0
		b.successes = 0
	case stateHalfOpen:
		b.halfOpenCalls = 0
		b.successes = 0
	}
	log.Printf("[WARN] circuit breaker %s: %s -> %s", b.name, prev, next)
}

// retryWithBackoff runs fn up to maxRetries+1 times, sleeping with
// exponential backoff and jitter between attempts. Context cancellation
// stops retrying and returns the last error.
func retryWithBackoff(ctx context.Context, maxRetries int, baseDelay, maxDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= maxRetries || ctx.Err() != nil {
			return err
		}

		delay := baseDelay << attempt
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}
