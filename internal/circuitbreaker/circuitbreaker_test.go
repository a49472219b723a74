package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errDown = errors.New("downstream unavailable")

func newTestBreaker(maxFailures int, recovery time.Duration) *Breaker {
	return New(Config{
		Name:            "test",
		MaxFailures:     maxFailures,
		RecoveryTimeout: recovery,
	}, zap.NewNop())
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errDown }); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected downstream error, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("expected fn not to be invoked while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	_ = b.Do(func() error { return errDown })
	_ = b.Do(func() error { return errDown })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errDown })
	_ = b.Do(func() error { return errDown })

	if b.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_ProbeClosesAfterRecovery(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	_ = b.Do(func() error { return errDown })
	if b.State() != StateOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed state after successful probe, got %s", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	_ = b.Do(func() error { return errDown })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errDown }); !errors.Is(err, errDown) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected re-opened state, got %s", b.State())
	}
}
