package backend

import (
	"testing"
	"time"
)

func TestCircuitBreaker_tripsOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s after 2 failures, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s after 3 failures, want open", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Error("open breaker must reject")
	}
}

func TestCircuitBreaker_successResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerClosed {
		t.Errorf("state = %s, want closed (count reset by success)", cb.State())
	}
}

func TestCircuitBreaker_halfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe after timeout should be allowed: %v", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}

	// One success is not enough with successThreshold=2.
	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open after 1 success", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after 2 successes", cb.State())
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = cb.Allow()

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state = %s, want open after half-open failure", cb.State())
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
		BreakerState(9): "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("String() = %s, want %s", state.String(), want)
		}
	}
}
