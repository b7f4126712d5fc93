package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is one of the three states a CircuitBreaker can be in.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "Closed"
	case BreakerOpen:
		return "Open"
	case BreakerHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// BreakerConfig bundles a breaker's tunables.
type BreakerConfig struct {
	FailureRateThreshold float64 // e.g. 0.5
	MinimumCalls         uint64  // calls observed before the rate is trusted
	OpenDuration         time.Duration
	HalfOpenCalls        uint64 // probe slots admitted in HalfOpen
}

// CircuitBreaker guards a flaky external call with the standard
// Closed/Open/HalfOpen state machine, protected by an RWMutex around its
// small state struct plus atomic counters for metrics, matching the
// teacher's connection_pool.go idiom of separating hot-path counters from
// the coarser state transition lock.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu           sync.RWMutex
	state        BreakerState
	openedAt     time.Time
	openFailRate float64
	halfOpenUsed uint64

	totalCalls atomic.Uint64
	failures   atomic.Uint64

	now func() time.Time
}

// NewCircuitBreaker constructs a breaker in the Closed state.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// State returns the breaker's current state, first promoting Open to
// HalfOpen if OpenDuration has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.RLock()
	state := b.state
	openedAt := b.openedAt
	b.mu.RUnlock()

	if state == BreakerOpen && b.now().Sub(openedAt) >= b.cfg.OpenDuration {
		b.mu.Lock()
		if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.state = BreakerHalfOpen
			b.halfOpenUsed = 0
		}
		state = b.state
		b.mu.Unlock()
	}
	return state
}

// Check reports whether a call may proceed right now, returning a
// CircuitOpenError (with retry-after and the failure rate recorded at trip
// time) when it may not.
func (b *CircuitBreaker) Check() error {
	switch b.State() {
	case BreakerOpen:
		b.mu.RLock()
		retryAfter := b.cfg.OpenDuration - b.now().Sub(b.openedAt)
		rate := b.openFailRate
		b.mu.RUnlock()
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &CircuitOpenError{RetryAfter: retryAfter, FailureRate: rate}
	case BreakerHalfOpen:
		b.mu.Lock()
		if b.halfOpenUsed >= b.cfg.HalfOpenCalls {
			b.mu.Unlock()
			return &CircuitOpenError{RetryAfter: b.cfg.OpenDuration, FailureRate: b.openFailRate}
		}
		b.halfOpenUsed++
		b.mu.Unlock()
		return nil
	default:
		return nil
	}
}

// RecordResult reports the outcome of a call admitted by Check. In Closed,
// it evaluates the failure rate over all calls counted since the counters
// were last reset (ForceClose or a successful HalfOpen probe) and trips to
// Open once
// MinimumCalls have been observed and the rate reaches the threshold. In
// HalfOpen, any success closes the breaker and resets its counters; any
// failure reopens it immediately.
func (b *CircuitBreaker) RecordResult(success bool) {
	switch b.State() {
	case BreakerHalfOpen:
		b.mu.Lock()
		if success {
			b.state = BreakerClosed
			b.totalCalls.Store(0)
			b.failures.Store(0)
			b.halfOpenUsed = 0
		} else {
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.openFailRate = 1.0
		}
		b.mu.Unlock()
		return
	case BreakerOpen:
		// A result arriving after the breaker already tripped open
		// (e.g. a racing in-flight call) does not affect state.
		return
	}

	total := b.totalCalls.Add(1)
	var failed uint64
	if !success {
		failed = b.failures.Add(1)
	} else {
		failed = b.failures.Load()
	}

	if total >= b.cfg.MinimumCalls {
		rate := float64(failed) / float64(total)
		if rate >= b.cfg.FailureRateThreshold {
			b.mu.Lock()
			if b.state == BreakerClosed {
				b.state = BreakerOpen
				b.openedAt = b.now()
				b.openFailRate = rate
			}
			b.mu.Unlock()
		}
	}
}

// ForceOpen manually trips the breaker.
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.openFailRate = 1.0
}

// ForceClose manually resets the breaker to Closed.
func (b *CircuitBreaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.totalCalls.Store(0)
	b.failures.Store(0)
	b.halfOpenUsed = 0
}

// Reset is an alias for ForceClose provided for operator tooling that
// expects a "reset" verb distinct from "force close".
func (b *CircuitBreaker) Reset() { b.ForceClose() }

// Call runs fn if the breaker admits it, recording the outcome. A
// CircuitOpenError from Check is returned unchanged without invoking fn.
func (b *CircuitBreaker) Call(fn func() error) error {
	if err := b.Check(); err != nil {
		return err
	}
	err := fn()
	b.RecordResult(err == nil)
	return err
}

// FallbackStrategy selects how a ResilientCircuitBreaker degrades when its
// underlying breaker is open.
type FallbackStrategy int

const (
	// FallbackFailFast surfaces the circuit-open error unchanged.
	FallbackFailFast FallbackStrategy = iota
	// FallbackStatic always returns a fixed value when degraded.
	FallbackStatic
	// FallbackLastKnownGood returns the most recent successful value.
	FallbackLastKnownGood
	// FallbackDefault returns the zero value of T when degraded.
	FallbackDefault
)

// DegradedResult wraps the value a ResilientCircuitBreaker call returns,
// flagging whether it came from the live call or a fallback
// (FallbackStatic, FallbackLastKnownGood or FallbackDefault).
type DegradedResult[T any] struct {
	Value    T
	Degraded bool
	Reason   string
}

// ResilientCircuitBreaker wraps a CircuitBreaker with a typed fallback
// strategy. Per spec.md §9, FallbackDefault requires a T whose zero value
// is meaningful; Go's zero-value-per-type semantics satisfy this without
// needing a constrained type parameter, so the struct is not constrained
// beyond `any`.
type ResilientCircuitBreaker[T any] struct {
	breaker      *CircuitBreaker
	strategy     FallbackStrategy
	staticValue  T

	mu            sync.Mutex
	lastKnownGood T
	haveLastGood  bool
}

// NewResilientCircuitBreaker builds a resilient wrapper. staticValue is
// only consulted when strategy == FallbackStatic.
func NewResilientCircuitBreaker[T any](breaker *CircuitBreaker, strategy FallbackStrategy, staticValue T) *ResilientCircuitBreaker[T] {
	return &ResilientCircuitBreaker[T]{breaker: breaker, strategy: strategy, staticValue: staticValue}
}

// Call runs fn if the breaker admits it. When the breaker is open or fn
// fails, FallbackFailFast and FallbackLastKnownGood-without-a-cached-value
// surface that error; FallbackStatic, FallbackLastKnownGood with a cached
// value, and FallbackDefault (the zero value of T) return a degraded
// DegradedResult with a nil error instead.
func (r *ResilientCircuitBreaker[T]) Call(fn func() (T, error)) (DegradedResult[T], error) {
	if err := r.breaker.Check(); err != nil {
		return r.degrade(err)
	}
	v, err := fn()
	r.breaker.RecordResult(err == nil)
	if err != nil {
		return r.degrade(err)
	}
	r.mu.Lock()
	r.lastKnownGood = v
	r.haveLastGood = true
	r.mu.Unlock()
	return DegradedResult[T]{Value: v, Degraded: false}, nil
}

func (r *ResilientCircuitBreaker[T]) degrade(cause error) (DegradedResult[T], error) {
	switch r.strategy {
	case FallbackStatic:
		return DegradedResult[T]{Value: r.staticValue, Degraded: true, Reason: cause.Error()}, nil
	case FallbackLastKnownGood:
		r.mu.Lock()
		v, ok := r.lastKnownGood, r.haveLastGood
		r.mu.Unlock()
		if ok {
			return DegradedResult[T]{Value: v, Degraded: true, Reason: cause.Error()}, nil
		}
		return DegradedResult[T]{}, cause
	case FallbackDefault:
		var zero T
		return DegradedResult[T]{Value: zero, Degraded: true, Reason: cause.Error()}, nil
	default: // FallbackFailFast
		return DegradedResult[T]{}, cause
	}
}
