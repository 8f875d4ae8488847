package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed means every entry in a [FallbackGroup] either failed the call
// or sat behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig carries the breaker settings each group entry gets. The
// breaker name is overwritten with the entry's registered name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary plus ordered fallbacks of one provider type,
// each behind its own [CircuitBreaker]. A call walks the entries in
// registration order and stops at the first success; entries with an open
// breaker are skipped without being called.
//
// FallbackGroup is safe for concurrent use once assembled. Register all
// fallbacks before the first Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a provider tried after everything registered so far.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against each entry until one succeeds. When every entry
// fails it returns [ErrAllFailed] wrapping the last error.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a free function because methods cannot add type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
