package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(func() error {
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Second})

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return errTestError }); !errors.Is(err, errTestError) {
			t.Fatalf("Expected test error, got: %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errTestError })
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.State())
	}

	// Calls fail fast while open
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("Expected fn not to be called while circuit is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})

	_ = cb.Execute(func() error { return errTestError })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errTestError })

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed after interleaved success, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 20 * time.Millisecond})

	_ = cb.Execute(func() error { return errTestError })
	if cb.State() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected state HalfOpen after timeout, got: %v", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 20 * time.Millisecond})

	_ = cb.Execute(func() error { return errTestError })
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return errTestError }); !errors.Is(err, errTestError) {
		t.Fatalf("Expected test error, got: %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state Open after half-open failure, got: %v", cb.State())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(func() error { return nil })
			}
		}()
	}
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed after concurrent access, got: %v", cb.State())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FailureThreshold != 3 {
		t.Errorf("Expected FailureThreshold 3, got: %d", cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold != 1 {
		t.Errorf("Expected SuccessThreshold 1, got: %d", cfg.SuccessThreshold)
	}
	if cfg.OpenTimeout != 30*time.Second {
		t.Errorf("Expected OpenTimeout 30s, got: %v", cfg.OpenTimeout)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("Expected %s, got: %s", tt.expected, tt.state.String())
		}
	}
}
