package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the per-entry breakers. Its Name is
	// replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Final reports errors that end the chain immediately instead of moving
	// on to the next entry. Caller cancellation is always final.
	Final func(error) bool
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same backend type. Entries are tried in registration order; an entry
// whose breaker is open is skipped.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Each calls fn for every entry in order, through the entry's breaker. It is
// meant for fan-out operations such as merging catalogues. Failures,
// including [ErrCircuitOpen] for skipped entries, are joined into the
// returned error.
func (fg *FallbackGroup[T]) Each(fn func(name string, v T) error) error {
	var errs []error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error { return fn(entry.name, entry.value) })
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		}
	}
	return errors.Join(errs...)
}

// Execute tries fn against each entry until one succeeds and returns the
// name of the entry that served the call. It returns [ErrAllFailed] wrapping
// the last error when every entry fails.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, v T) error) (string, error) {
	_, name, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return name, err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because methods cannot declare type
// parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, v T) (R, error)) (R, string, error) {
	return ExecuteFrom(ctx, fg, "", fn)
}

// ExecuteFrom is [ExecuteWithResult] starting at the entry called first. The
// remaining entries follow in registration order. An unknown or empty name
// starts at the primary.
func ExecuteFrom[T any, R any](ctx context.Context, fg *FallbackGroup[T], first string, fn func(ctx context.Context, v T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	order := fg.order(first)
	for n, i := range order {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		if IsCallerError(err) && ctx.Err() != nil {
			return zero, entry.name, err
		}
		if fg.cfg.Final != nil && fg.cfg.Final(err) {
			return zero, entry.name, err
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", entry.name)
		} else if n < len(order)-1 {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// order returns entry indices with the entry called first moved to the front.
func (fg *FallbackGroup[T]) order(first string) []int {
	idx := make([]int, 0, len(fg.entries))
	for i, e := range fg.entries {
		if e.name == first {
			idx = append(idx, i)
		}
	}
	for i, e := range fg.entries {
		if e.name != first || len(idx) == 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
