package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker. It wraps the last underlying error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnFailover, if set, is called each time an entry fails and the next one
	// is tried.
	OnFailover func(name string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type. Execution tries them in registration order, skipping
// entries whose breaker is open.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns each entry's breaker state keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

func (fg *FallbackGroup[T]) primary() T {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.entries[0].value
}

func (fg *FallbackGroup[T]) snapshot() []fallbackEntry[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]fallbackEntry[T], len(fg.entries))
	copy(out, fg.entries)
	return out
}

// ExecuteWithResult tries fn against each entry until one succeeds. Context
// cancellation stops the walk immediately and is returned unwrapped.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for _, entry := range fg.snapshot() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		if fg.cfg.OnFailover != nil {
			fg.cfg.OnFailover(entry.name, err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
