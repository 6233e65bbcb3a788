package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      200 * time.Millisecond,
	})

	if err := cb.Execute(context.Background(), fail); err == nil {
		t.Fatalf("expected first failure")
	}
	if err := cb.Execute(context.Background(), fail); err == nil {
		t.Fatalf("expected second failure")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit open, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      100 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), fail)
	time.Sleep(120 * time.Millisecond)

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected success in half-open, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit closed, got %s", cb.State())
	}
}

func TestCircuitBreakerOpenErrorCarriesRetryAfter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "redis:6379",
		FailureThreshold: 1,
		OpenTimeout:      200 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), fail)

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %T", err)
	}
	if openErr.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %s", openErr.RetryAfter)
	}
	if openErr.Name != "redis:6379" {
		t.Fatalf("expected name redis:6379, got %s", openErr.Name)
	}
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	errRejected := errors.New("rejected")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errRejected)
		},
	})

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errRejected })
		if !errors.Is(err, errRejected) {
			t.Fatalf("expected caller error to pass through, got %v", err)
		}
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("caller errors must not trip the breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerCancellationIsNeutral(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("cancellation must not trip the breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerReportsTransitions(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []CircuitBreakerState
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
		},
	})

	_ = cb.Execute(context.Background(), fail)
	time.Sleep(70 * time.Millisecond)
	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })

	mu.Lock()
	defer mu.Unlock()
	expected := []CircuitBreakerState{CircuitOpen, CircuitHalfOpen, CircuitClosed}
	if len(transitions) != len(expected) {
		t.Fatalf("transitions = %v, expected %v", transitions, expected)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Fatalf("transitions = %v, expected %v", transitions, expected)
		}
	}
}
