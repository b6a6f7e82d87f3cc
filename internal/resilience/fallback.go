package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/oraltutor/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Request status labels recorded per attempt.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusCircuitOpen = "circuit_open"
	StatusRejected    = "rejected"
)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the per-entry breakers. Name and
	// IsFailure are filled in by the group.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics, e.g. "llm", "stt" or "tts".
	Kind string

	// Metrics receives one request sample per attempt. Nil disables metrics.
	Metrics *observe.Metrics

	// Permanent reports errors caused by the request itself rather than by
	// the backend. Such errors end the call at once, are not retried on a
	// fallback and do not trip the breaker.
	Permanent func(error) bool
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is a snapshot of one entry of a [FallbackGroup].
type EntryStatus struct {
	Name  string
	State State
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.IsFailure = fg.countsAsFailure
	if m := fg.cfg.Metrics; m != nil {
		kind := fg.cfg.Kind
		cbCfg.OnStateChange = func(name string, _, to State) {
			m.RecordBreakerTransition(context.Background(), name, kind, to.String())
		}
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Status reports the breaker state of every entry in order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i := range fg.entries {
		out[i] = EntryStatus{Name: fg.entries[i].name, State: fg.entries[i].breaker.State()}
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.record(ctx, entry.name, StatusOK)
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			fg.record(ctx, entry.name, StatusCircuitOpen)
			slog.Debug("skipping provider (circuit open)", "kind", fg.cfg.Kind, "provider", entry.name)
		case fg.isPermanent(err) || ctx.Err() != nil:
			fg.record(ctx, entry.name, StatusRejected)
			return zero, err
		default:
			fg.record(ctx, entry.name, StatusError)
			if fg.cfg.Metrics != nil {
				fg.cfg.Metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
			}
			slog.Warn("provider failed, trying next",
				"kind", fg.cfg.Kind, "provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if fg.cfg.Metrics != nil {
		fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	}
}

func (fg *FallbackGroup[T]) isPermanent(err error) bool {
	return fg.cfg.Permanent != nil && fg.cfg.Permanent(err)
}

func (fg *FallbackGroup[T]) countsAsFailure(err error) bool {
	return defaultIsFailure(err) && !fg.isPermanent(err)
}
