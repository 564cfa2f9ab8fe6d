package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("auth_provider") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	// 2 failures = still closed
	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")
	if !b.Allow("auth_provider") {
		t.Fatal("should still allow before threshold")
	}

	// 3rd failure = open
	b.RecordFailure("auth_provider")
	if b.Allow("auth_provider") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("auth_provider") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("auth_provider"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")
	if b.Allow("auth_provider") {
		t.Fatal("should be open")
	}

	// Wait for open duration.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open and allow one probe.
	if !b.Allow("auth_provider") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("auth_provider") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("auth_provider"))
	}

	// Second request while half-open should be rejected.
	if b.Allow("auth_provider") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")
	time.Sleep(60 * time.Millisecond)
	b.Allow("auth_provider") // Transitions to half-open

	b.RecordSuccess("auth_provider")
	if b.State("auth_provider") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("auth_provider"))
	}
	if !b.Allow("auth_provider") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")
	time.Sleep(60 * time.Millisecond)
	b.Allow("auth_provider") // Transitions to half-open

	b.RecordFailure("auth_provider")
	if b.State("auth_provider") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("auth_provider"))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")
	b.RecordSuccess("auth_provider")

	// Should not trip with only 1 more failure (counter was reset).
	b.RecordFailure("auth_provider")
	if !b.Allow("auth_provider") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider")

	// auth_provider is open, redis should be unaffected.
	if b.Allow("auth_provider") {
		t.Fatal("svc1 should be open")
	}
	if !b.Allow("redis") {
		t.Fatal("redis should be closed")
	}
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("unknown") != StateClosed {
		t.Fatalf("expected StateClosed for unknown key, got %v", b.State("unknown"))
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("auth_provider")
	b.RecordFailure("auth_provider") // Should trigger closed→open.

	// Give goroutine time to run.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed→open, got %v→%v", transitions[0].from, transitions[0].to)
	}
	mu.Unlock()
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestDo(t *testing.T) {
	b := New(2, 50*time.Millisecond)
	upstream := errors.New("upstream down")
	rejected := errors.New("invalid token")
	countable := func(err error) bool { return !errors.Is(err, rejected) }

	// Rejections prove the provider is reachable and never trip the circuit.
	for i := 0; i < 5; i++ {
		if err := b.Do("auth_provider", func() error { return rejected }, countable); !errors.Is(err, rejected) {
			t.Fatalf("expected rejected, got %v", err)
		}
	}
	if b.State("auth_provider") != StateClosed {
		t.Fatal("rejections should not open the circuit")
	}

	_ = b.Do("auth_provider", func() error { return upstream }, countable)
	_ = b.Do("auth_provider", func() error { return upstream }, countable)

	called := false
	err := b.Do("auth_provider", func() error { called = true; return nil }, countable)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while the circuit is open")
	}

	time.Sleep(60 * time.Millisecond)
	if err := b.Do("auth_provider", func() error { return nil }, countable); err != nil {
		t.Fatalf("probe should succeed, got %v", err)
	}
	if b.State("auth_provider") != StateClosed {
		t.Fatal("successful probe should close the circuit")
	}
}
