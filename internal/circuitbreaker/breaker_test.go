package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(5, 30*time.Second)

	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", b.State())
	}
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestBreaker_PassesThroughUnderlyingError(t *testing.T) {
	b := New(5, 30*time.Second)

	err := b.Call(func() error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after one failure, got %v", b.State())
	}
	if b.ConsecutiveFailures() != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", b.ConsecutiveFailures())
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		b.Call(func() error { return errBoom })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after 3 failures, got %v", b.State())
	}
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b := New(2, 30*time.Second)

	b.Call(func() error { return errBoom })
	b.Call(func() error { return errBoom })

	invoked := false
	err := b.Call(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not be invoked while the circuit is open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(3, 30*time.Second)

	b.Call(func() error { return errBoom })
	b.Call(func() error { return errBoom })
	b.Call(func() error { return nil })

	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("expected failure count reset to 0, got %d", b.ConsecutiveFailures())
	}
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", b.State())
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := New(2, 20*time.Millisecond)

	b.Call(func() error { return errBoom })
	b.Call(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	invoked := false
	if err := b.Call(func() error {
		invoked = true
		return nil
	}); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if !invoked {
		t.Fatal("expected probe to invoke the operation after recovery timeout")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after probe success, got %v", b.State())
	}
	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("expected 0 consecutive failures, got %d", b.ConsecutiveFailures())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(2, 20*time.Millisecond)

	b.Call(func() error { return errBoom })
	b.Call(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	err := b.Call(func() error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected underlying error from probe, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after probe failure, got %v", b.State())
	}

	// The recovery timer restarted: the very next call is rejected.
	if err := b.Call(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen immediately after reopening, got %v", err)
	}
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New(0, 0)

	if b.failureThreshold != DefaultFailureThreshold {
		t.Errorf("expected default threshold %d, got %d", DefaultFailureThreshold, b.failureThreshold)
	}
	if b.recoveryTimeout != DefaultRecoveryTimeout {
		t.Errorf("expected default recovery timeout %v, got %v", DefaultRecoveryTimeout, b.recoveryTimeout)
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b := New(5, 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			b.Call(func() error {
				if fail {
					return errBoom
				}
				return nil
			})
		}(i%2 == 0)
	}
	wg.Wait()

	// No assertion on final state beyond it being a valid one; this test
	// exists for the race detector.
	switch b.State() {
	case StateClosed, StateOpen, StateHalfOpen:
	default:
		t.Fatalf("invalid state %v", b.State())
	}
}
