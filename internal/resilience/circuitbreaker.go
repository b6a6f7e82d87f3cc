// Package resilience keeps a tutoring turn alive when a speech or language
// backend is down.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] tries a primary backend and then its fallbacks, each behind
// its own breaker. [LLMFallback], [STTFallback] and [TTSFallback] wrap a
// group so it can be used wherever a single provider is expected.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker refuses a call.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe re-opens the breaker; HalfOpenMax successful probes close it.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures consecutive failures open a closed breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted in the current half-open window
	passed   int // succeeded in the current half-open window
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero fields of cfg take
// their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Allow asks for permission to call the backend. On success the caller must
// invoke done exactly once with the call's outcome. When the breaker refuses,
// Allow returns [ErrCircuitOpen] and a nil done.
func (cb *CircuitBreaker) Allow() (done func(error), err error) {
	cb.mu.Lock()
	var fire func()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		fire = cb.moveLocked(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		cb.probes++
	}
	probe := cb.state == StateHalfOpen
	cb.mu.Unlock()
	if fire != nil {
		fire()
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.report(probe, err) })
	}, nil
}

// Execute runs fn when the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (cb *CircuitBreaker) report(probe bool, err error) {
	cb.mu.Lock()
	var fire func()
	switch {
	case err == nil && probe:
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				fire = cb.moveLocked(StateClosed)
			}
		}
	case err == nil:
		cb.failures = 0
	case !cb.cfg.IsFailure(err):
		if probe && cb.state == StateHalfOpen {
			// Not the backend's fault; hand the probe slot back.
			cb.probes--
		}
	case probe:
		if cb.state == StateHalfOpen {
			fire = cb.moveLocked(StateOpen)
		}
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			fire = cb.moveLocked(StateOpen)
		}
	}
	cb.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// moveLocked switches state, resets the counters of the new state and
// returns the notification to run once the lock is released.
func (cb *CircuitBreaker) moveLocked(to State) func() {
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateClosed:
		cb.failures = 0
	}
	name, failures, hook := cb.cfg.Name, cb.failures, cb.cfg.OnStateChange
	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", name, "from", from.String(), "to", to.String(), "consecutive_failures", failures)
		if hook != nil {
			hook(name, from, to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next
// [CircuitBreaker.Allow].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	if cb.state == StateClosed {
		cb.failures = 0
		cb.mu.Unlock()
		return
	}
	fire := cb.moveLocked(StateClosed)
	cb.mu.Unlock()
	fire()
}
