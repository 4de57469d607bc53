package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestBreaker(threshold uint32, clock *fakeClock) *CircuitBreaker {
	return New("webhook", Config{
		FailureThreshold: threshold,
		OpenTimeout:      10 * time.Second,
		now:              clock.now,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(3, clock)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("Call %d: expected upstream error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open circuit, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Guarded function must not run while the circuit is open")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(1, clock)

	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open circuit, got %s", cb.State())
	}

	clock.t = clock.t.Add(11 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after timeout, got %s", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Probe should pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(1, clock)

	_ = cb.Execute(func() error { return errUpstream })
	clock.t = clock.t.Add(11 * time.Second)
	_ = cb.Execute(func() error { return errUpstream })

	if cb.State() != StateOpen {
		t.Errorf("Expected re-opened circuit, got %s", cb.State())
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("webhook", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errUpstream) },
		now:              clock.now,
	})

	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != StateClosed {
		t.Errorf("Errors classified as non-failures must not open the circuit, got %s", cb.State())
	}
}
