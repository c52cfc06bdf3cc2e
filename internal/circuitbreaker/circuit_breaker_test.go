package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      3,
		Timeout:          timeout,
		HalfOpenMaxCalls: 2,
	})
}

func failing(ctx context.Context, cb *CircuitBreaker) error {
	return cb.Execute(ctx, func() error { return errors.New("boom") })
}

func succeeding(ctx context.Context, cb *CircuitBreaker) error {
	return cb.Execute(ctx, func() error { return nil })
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		failing(ctx, cb)
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if err := succeeding(ctx, cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker(time.Minute)
	ctx := context.Background()

	failing(ctx, cb)
	failing(ctx, cb)
	succeeding(ctx, cb)
	failing(ctx, cb)
	failing(ctx, cb)

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed (streak was broken)", cb.GetState())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := testBreaker(5 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		failing(ctx, cb)
	}
	time.Sleep(10 * time.Millisecond)

	// Two successful probes close the circuit
	if err := succeeding(ctx, cb); err != nil {
		t.Fatalf("first probe rejected: %v", err)
	}
	if err := succeeding(ctx, cb); err != nil {
		t.Fatalf("second probe rejected: %v", err)
	}

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed after recovery", cb.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(5 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		failing(ctx, cb)
	}
	time.Sleep(10 * time.Millisecond)

	failing(ctx, cb)

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.GetState())
	}
}
