package core

import (
	"errors"
	"testing"
	"time"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureRateThreshold: 0.5, MinimumCalls: 4, OpenDuration: time.Minute, HalfOpenCalls: 2}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want Closed", b.State())
	}
	if err := b.Check(); err != nil {
		t.Errorf("Check() = %v, want nil when Closed", err)
	}
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	// 2 failures out of 4 calls = 0.5 rate, meets threshold.
	b.RecordResult(true)
	b.RecordResult(false)
	b.RecordResult(true)
	b.RecordResult(false)
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want Open after reaching failure threshold", b.State())
	}
}

func TestCircuitBreakerStaysClosedBelowMinimumCalls(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.RecordResult(false)
	b.RecordResult(false)
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want Closed below MinimumCalls even with 100%% failures", b.State())
	}
}

func TestCircuitBreakerNoAdmissionWhileOpen(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	if err := b.Check(); err == nil {
		t.Fatal("expected Check() to reject while Open")
	} else {
		var coe *CircuitOpenError
		if !errors.As(err, &coe) {
			t.Errorf("Check() err = %v, want *CircuitOpenError", err)
		}
	}
}

func TestCircuitBreakerPromotesToHalfOpenAfterDuration(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	fixed := time.Now()
	b.now = func() time.Time { return fixed }
	b.ForceOpen()
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %v, want Open immediately after ForceOpen", b.State())
	}
	b.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	if b.State() != BreakerHalfOpen {
		t.Errorf("State() = %v, want HalfOpen once OpenDuration has elapsed", b.State())
	}
}

func TestCircuitBreakerHalfOpenCapsAdmission(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	fixed := time.Now()
	b.now = func() time.Time { return fixed }
	b.ForceOpen()
	b.now = func() time.Time { return fixed.Add(2 * time.Minute) }

	for i := 0; i < int(testBreakerConfig().HalfOpenCalls); i++ {
		if err := b.Check(); err != nil {
			t.Fatalf("Check() call %d err = %v, want nil within HalfOpenCalls budget", i, err)
		}
	}
	if err := b.Check(); err == nil {
		t.Fatal("expected Check() to reject once HalfOpenCalls budget is exhausted")
	}
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	fixed := time.Now()
	b.now = func() time.Time { return fixed }
	b.ForceOpen()
	b.now = func() time.Time { return fixed.Add(2 * time.Minute) }

	if err := b.Check(); err != nil {
		t.Fatalf("Check() err = %v", err)
	}
	b.RecordResult(true)
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want Closed after a HalfOpen success", b.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	fixed := time.Now()
	b.now = func() time.Time { return fixed }
	b.ForceOpen()
	b.now = func() time.Time { return fixed.Add(2 * time.Minute) }

	if err := b.Check(); err != nil {
		t.Fatalf("Check() err = %v", err)
	}
	b.RecordResult(false)
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want Open after a HalfOpen failure", b.State())
	}
}

func TestCircuitBreakerResultAfterOpenIgnored(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	b.RecordResult(true) // must not silently close the breaker
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want still Open (a stray result after tripping must not affect state)", b.State())
	}
}

func TestCircuitBreakerForceCloseResetsCounters(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.RecordResult(false)
	b.RecordResult(false)
	b.RecordResult(false)
	b.RecordResult(false)
	if b.State() != BreakerOpen {
		t.Fatalf("precondition: expected Open, got %v", b.State())
	}
	b.ForceClose()
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want Closed after ForceClose", b.State())
	}
	// Counters reset: a single failure afterward must not retrip (below MinimumCalls).
	b.RecordResult(false)
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want still Closed with counters reset", b.State())
	}
}

func TestCircuitBreakerCallSkipsFnWhenOpen(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	called := false
	err := b.Call(func() error { called = true; return nil })
	if called {
		t.Error("Call() should not invoke fn while Open")
	}
	if err == nil {
		t.Error("Call() should return the circuit-open error")
	}
}

func TestCircuitBreakerCallRecordsOutcome(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	wantErr := errors.New("boom")
	err := b.Call(func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Call() err = %v, want %v", err, wantErr)
	}
}

func TestResilientCircuitBreakerFailFastSurfacesError(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	r := NewResilientCircuitBreaker[int](b, FallbackFailFast, 0)
	_, err := r.Call(func() (int, error) { return 1, nil })
	if err == nil {
		t.Fatal("expected FallbackFailFast to surface the circuit-open error")
	}
}

func TestResilientCircuitBreakerStaticFallback(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	r := NewResilientCircuitBreaker[int](b, FallbackStatic, 99)
	res, err := r.Call(func() (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Call() err = %v, want nil degraded result", err)
	}
	if !res.Degraded || res.Value != 99 {
		t.Errorf("res = %+v, want degraded static value 99", res)
	}
}

func TestResilientCircuitBreakerLastKnownGood(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	r := NewResilientCircuitBreaker[int](b, FallbackLastKnownGood, 0)

	res, err := r.Call(func() (int, error) { return 7, nil })
	if err != nil || res.Degraded || res.Value != 7 {
		t.Fatalf("initial call = (%+v, %v), want a healthy 7", res, err)
	}

	b.ForceOpen()
	res, err = r.Call(func() (int, error) { return 999, nil })
	if err != nil {
		t.Fatalf("Call() err = %v, want nil degraded result", err)
	}
	if !res.Degraded || res.Value != 7 {
		t.Errorf("res = %+v, want degraded last-known-good value 7", res)
	}
}

func TestResilientCircuitBreakerLastKnownGoodWithoutHistoryFails(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	r := NewResilientCircuitBreaker[int](b, FallbackLastKnownGood, 0)
	_, err := r.Call(func() (int, error) { return 1, nil })
	if err == nil {
		t.Fatal("expected error when no last-known-good value has ever been recorded")
	}
}

func TestResilientCircuitBreakerDefaultFallback(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	b.ForceOpen()
	r := NewResilientCircuitBreaker[string](b, FallbackDefault, "unused")
	res, err := r.Call(func() (string, error) { return "live", nil })
	if err != nil {
		t.Fatalf("Call() err = %v, want nil degraded result", err)
	}
	if !res.Degraded || res.Value != "" {
		t.Errorf("res = %+v, want degraded zero value", res)
	}
}

func TestResilientCircuitBreakerDegradesOnFnError(t *testing.T) {
	b := NewCircuitBreaker("test", testBreakerConfig())
	r := NewResilientCircuitBreaker[int](b, FallbackStatic, 42)
	res, err := r.Call(func() (int, error) { return 0, errors.New("fn failed") })
	if err != nil {
		t.Fatalf("Call() err = %v, want nil degraded result", err)
	}
	if !res.Degraded || res.Value != 42 {
		t.Errorf("res = %+v, want degraded static fallback on fn error", res)
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := map[BreakerState]string{BreakerClosed: "Closed", BreakerOpen: "Open", BreakerHalfOpen: "HalfOpen", BreakerState(99): "Unknown"}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
