package llm

import (
	"sync"
	"time"
)

// BreakerState is one of the breaker's three states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow when the breaker is refusing
// calls.
type breakerOpenError struct{}

func (breakerOpenError) Error() string { return "llm: circuit breaker open" }

// ErrBreakerOpen is the sentinel a caller can match with errors.Is.
var ErrBreakerOpen error = breakerOpenError{}

// Breaker is a hand-rolled three-state circuit breaker (see DESIGN.md
// for why no breaker library is imported). F consecutive failures opens
// the breaker; after the cooldown it allows exactly one probe call in
// the half-open state.
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// NewBreaker builds a Breaker that opens after failureThreshold
// consecutive failures and waits cooldown before allowing a half-open
// probe.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed right now, transitioning
// Open→HalfOpen once the cooldown has elapsed. At most one probe call is
// allowed through while half-open.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return false, ErrBreakerOpen
		}
		b.probeInFlight = true
		return true, nil
	default:
		return false, ErrBreakerOpen
	}
}

// Success records a successful call, closing the breaker and resetting
// the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
}

// Failure records a failed call. From Closed it opens once the failure
// threshold is reached; from HalfOpen a single failed probe reopens it
// immediately and restarts the cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.failures = b.failureThreshold
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns the breaker's current state, for logging and tests.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
