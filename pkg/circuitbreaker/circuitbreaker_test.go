package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func testBreaker() *CircuitBreaker {
	return NewCircuitBreaker(Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		HalfOpenMaxRequests: 3,
	})
}

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	cb := testBreaker()

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("Execute error = %v, want errBoom", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
}

func TestExecuteOpensAfterConsecutiveFailures(t *testing.T) {
	cb := testBreaker()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Execute #%d error = %v", i, err)
		}
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("Execute error = %v, want ErrCircuitBreakerOpen", err)
	}
	if called {
		t.Error("fn invoked while the breaker was open")
	}
}

func TestExecuteRecoversThroughHalfOpen(t *testing.T) {
	cb := testBreaker()

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	// Two probe successes close the breaker again.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe #%d: %v", i, err)
		}
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after recovery: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
}

func TestExecuteFailedProbeReopens(t *testing.T) {
	cb := testBreaker()

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	cb.Execute(func() error { return nil }) // trips to open

	time.Sleep(25 * time.Millisecond)

	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe error = %v, want errBoom", err)
	}
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := testBreaker()

	for i := 0; i < 4; i++ {
		cb.Execute(func() error { return errBoom })
	}
	cb.Reset()

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}
