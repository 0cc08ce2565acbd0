package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fail drives one admitted failing call through the breaker.
func fail(t *testing.T, b *Breaker) {
	t.Helper()
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow refused while driving failures: %v", err)
	}
	b.Record(errTest)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.coolDown != 30*time.Second {
		t.Errorf("coolDown = %v, want 30s", b.coolDown)
	}
	if b.probeMax != 3 {
		t.Errorf("probeMax = %d, want 3", b.probeMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestClosed_AllowsCalls(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 3})
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	b.Record(nil)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestClosedToOpen(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 3, CoolDown: time.Hour})

	for i := 0; i < 3; i++ {
		fail(t, b)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow = %v, want ErrOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 3})

	fail(t, b)
	fail(t, b)
	_ = b.Allow()
	b.Record(nil)

	fail(t, b)
	fail(t, b)
	if b.State() != StateClosed {
		t.Fatal("success should have reset the consecutive-failure counter")
	}
}

func TestOpenToHalfOpenToClosed(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 1, CoolDown: 5 * time.Millisecond})

	fail(t, b)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(10 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted after cool-down: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	b.Record(nil)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestHalfOpen_FailedProbeReopens(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 1, CoolDown: 5 * time.Millisecond})

	fail(t, b)
	time.Sleep(10 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe admission: %v", err)
	}
	b.Record(errTest)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow = %v, want ErrOpen right after re-open", err)
	}
}

func TestHalfOpen_ProbeBudget(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 1, CoolDown: 5 * time.Millisecond, ProbeMax: 2})

	fail(t, b)
	time.Sleep(10 * time.Millisecond)

	// Two probes admitted, third refused while outcomes are pending.
	if err := b.Allow(); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("probe 3 = %v, want ErrOpen", err)
	}
}
