package circuit

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
}

func openBreaker(t *testing.T, b Breaker, cfg Config) {
	t.Helper()
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Record(false)
	}
	if b.GetState() != Open {
		t.Fatalf("expected breaker to open, state = %v", b.GetState())
	}
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)

	if b.GetState() != Closed {
		t.Fatalf("expected initial state Closed, got %v", b.GetState())
	}

	b.Record(false)
	b.Record(false)
	if b.GetState() != Closed {
		t.Errorf("expected Closed below threshold, got %v", b.GetState())
	}

	b.Record(false)
	if b.GetState() != Open {
		t.Errorf("expected Open at threshold, got %v", b.GetState())
	}
	if b.Allow() {
		t.Error("expected Allow() to reject while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)

	b.Record(false)
	b.Record(false)
	b.Record(true) // Recovery clears the streak
	b.Record(false)
	b.Record(false)

	if b.GetState() != Closed {
		t.Errorf("expected Closed after interleaved success, got %v", b.GetState())
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	openBreaker(t, b, cfg)

	if b.Allow() {
		t.Error("expected rejection immediately after opening")
	}

	time.Sleep(cfg.Timeout + 20*time.Millisecond)

	if !b.Allow() {
		t.Error("expected probe to be allowed after timeout")
	}
	if b.GetState() != HalfOpen {
		t.Errorf("expected HalfOpen after timeout probe, got %v", b.GetState())
	}
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	openBreaker(t, b, cfg)

	time.Sleep(cfg.Timeout + 20*time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	b.Record(true)
	if b.GetState() != HalfOpen {
		t.Errorf("expected HalfOpen below success threshold, got %v", b.GetState())
	}

	b.Record(true)
	if b.GetState() != Closed {
		t.Errorf("expected Closed after success threshold, got %v", b.GetState())
	}
}

func TestBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	openBreaker(t, b, cfg)

	time.Sleep(cfg.Timeout + 20*time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	// A single failure during probing trips the breaker again.
	b.Record(false)
	if b.GetState() != Open {
		t.Errorf("expected Open after half-open failure, got %v", b.GetState())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	openBreaker(t, b, cfg)

	b.Reset()
	if b.GetState() != Closed {
		t.Errorf("expected Closed after reset, got %v", b.GetState())
	}
	if !b.Allow() {
		t.Error("expected Allow() after reset")
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{State: Open}
	if err.Error() != "circuit breaker is OPEN" {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "CLOSED"},
		{Open, "OPEN"},
		{HalfOpen, "HALF_OPEN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
