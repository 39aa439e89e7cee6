package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every eligible entry in a [FallbackGroup]
// fails.
var ErrAllFailed = errors.New("all providers failed")

// ErrNoneEligible is returned when every entry was skipped before being tried:
// gated out (e.g. quota exhausted) or rejected by an open circuit breaker.
var ErrNoneEligible = errors.New("no providers eligible")

// Gate decides whether an entry may be tried for the current call. Returning
// ok=false skips the entry; reason appears in the debug log.
type Gate func() (ok bool, reason string)

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its breaker and optional hooks.
type fallbackEntry[T any] struct {
	name      string
	value     T
	breaker   *CircuitBreaker
	gate      Gate
	onSuccess func()
}

// EntryOption configures one entry of a [FallbackGroup].
type EntryOption[T any] func(*fallbackEntry[T])

// WithGate attaches an eligibility gate to an entry.
func WithGate[T any](g Gate) EntryOption[T] {
	return func(e *fallbackEntry[T]) { e.gate = g }
}

// WithOnSuccess attaches a hook that runs after the entry serves a call
// successfully (e.g. quota accounting).
func WithOnSuccess[T any](fn func()) EntryOption[T] {
	return func(e *fallbackEntry[T]) { e.onSuccess = fn }
}

// FallbackGroup tries a priority-ordered list of provider instances of the
// same type. An entry is skipped when its gate declines or its circuit breaker
// is open; otherwise it is tried, and on failure the next entry is attempted.
//
// FallbackGroup is safe for concurrent use once assembled; Add is not safe to
// call concurrently with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates an empty group. Entries are tried in Add order.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends an entry with its own circuit breaker.
func (fg *FallbackGroup[T]) Add(name string, value T, opts ...EntryOption[T]) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	e := fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	}
	for _, o := range opts {
		o(&e)
	}
	fg.entries = append(fg.entries, e)
}

// Len returns the number of entries in the group.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in priority order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i := range fg.entries {
		names[i] = fg.entries[i].name
	}
	return names
}

// Execute tries fn against each eligible entry in order until one succeeds.
// Returns [ErrNoneEligible] when nothing was tried, or [ErrAllFailed] wrapped
// with the last error when every attempt failed.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each eligible entry until one succeeds,
// returning the result value. This is a package-level function because Go does
// not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
		tried   bool
	)
	for i := range fg.entries {
		entry := &fg.entries[i]

		if entry.gate != nil {
			if ok, reason := entry.gate(); !ok {
				slog.Debug("skipping provider", "provider", entry.name, "reason", reason)
				continue
			}
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			if entry.onSuccess != nil {
				entry.onSuccess()
			}
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
			continue
		}
		tried = true
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
	}
	if !tried {
		return zero, ErrNoneEligible
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
