// Package health tracks the availability of the core's remote dependencies:
// a circuit breaker and a probed health record per dependency, shared across
// all concurrently active meetings.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pitchlens/pitchlens/internal/fault"
)

// BreakerState is the circuit breaker state for one dependency.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold         int           // consecutive failures before opening
	Cooldown          time.Duration // wait before the half-open trial
	HalfOpenSuccesses int           // consecutive successes needed to close
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = 3
	}
	return c
}

// Breaker guards one remote dependency. While open, calls fail fast without
// attempting the remote call until the retry window elapses.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	retryAt     time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose retry
// window has elapsed transitions to half-open and admits the trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Before(b.retryAt) {
			return fault.Errorf(fault.CircuitOpen, "%s circuit open, retry at %s", b.name, b.retryAt.Format(time.RFC3339))
		}
		b.transition(HalfOpen)
		return nil
	default:
		return nil
	}
}

// Success records a successful call against the dependency.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			b.transition(Closed)
		}
	case Closed:
		b.failures = 0
	}
}

// Failure records a failed call. Operational failures from other components
// count, not only probe failures.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.failures++

	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if b.failures >= b.cfg.Threshold {
			b.transition(Open)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}

// transition changes state; caller holds the lock.
func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	switch to {
	case Closed:
		b.failures = 0
		b.successes = 0
		slog.Info("circuit breaker closed", "dependency", b.name)
	case Open:
		b.successes = 0
		b.retryAt = b.now().Add(b.cfg.Cooldown)
		slog.Warn("circuit breaker opened", "dependency", b.name, "failures", b.failures, "from", from.String())
	case HalfOpen:
		b.successes = 0
		slog.Info("circuit breaker half-open", "dependency", b.name)
	}
}

// Execute runs fn with breaker protection: fast failure while open, outcome
// recorded otherwise.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
