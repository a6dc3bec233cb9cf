package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "live",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		Now:          clock.Now,
	})

	failN(cb, 2)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}

	clock.Advance(10 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trial", cb.State())
	}
}

func TestCircuitBreaker_TrialFailureReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Now: clock.Now})

	failN(cb, 1)
	clock.Advance(time.Second)
	failN(cb, 1)

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed trial", cb.State())
	}
	clock.Advance(999 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open before the new timeout elapses", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})
	failN(cb, 2)
	_ = cb.Execute(func() error { return nil })
	failN(cb, 2)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	err := cb.Execute(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed; cancellation is not a failure", cb.State())
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	errBlocked := errors.New("blocked by safety filter")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errBlocked) },
	})
	_ = cb.Execute(func() error { return errBlocked })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	failN(cb, 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
