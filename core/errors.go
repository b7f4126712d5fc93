package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind tags a CoreError with the coarse-grained taxonomy the rest of
// the mesh uses to decide whether to retry, surface to a caller, or drop a
// message on the floor.
type ErrorKind int

const (
	// KindValidation marks malformed input: bad DIDs, out-of-range scores,
	// future timestamps, oversized evidence. Never retried.
	KindValidation ErrorKind = iota
	// KindNotFound marks a missing dispute, juror, card or DHT record.
	KindNotFound
	// KindConflict marks an operation attempted from the wrong state.
	KindConflict
	// KindTransport marks a swarm/channel/serialization failure.
	KindTransport
	// KindExternal marks a circuit-open or upstream RPC failure.
	KindExternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// CoreError is the error type every exported operation in this module
// returns for expected failure paths. Callers distinguish kinds with
// errors.As, not string matching.
type CoreError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) style sentinels keep working for
// callers that only care about the kind, not the message.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind ErrorKind, err error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ValidationErrorf builds a KindValidation CoreError.
func ValidationErrorf(format string, args ...any) error { return newErr(KindValidation, format, args...) }

// NotFoundErrorf builds a KindNotFound CoreError.
func NotFoundErrorf(format string, args ...any) error { return newErr(KindNotFound, format, args...) }

// ConflictErrorf builds a KindConflict CoreError.
func ConflictErrorf(format string, args ...any) error { return newErr(KindConflict, format, args...) }

// TransportErrorf builds a KindTransport CoreError.
func TransportErrorf(format string, args ...any) error { return newErr(KindTransport, format, args...) }

// Sentinel kind markers usable with errors.Is(err, ErrNotFound).
var (
	ErrNotFound   = &CoreError{Kind: KindNotFound}
	ErrConflict   = &CoreError{Kind: KindConflict}
	ErrValidation = &CoreError{Kind: KindValidation}
	ErrTransport  = &CoreError{Kind: KindTransport}
	ErrExternal   = &CoreError{Kind: KindExternal}
)

// CircuitOpenError is returned by a tripped circuit breaker. It carries
// enough information for a caller to decide whether to wait or fall back.
type CircuitOpenError struct {
	RetryAfter  time.Duration
	FailureRate float64
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("external: circuit open, retry after %s (failure rate %.2f)", e.RetryAfter, e.FailureRate)
}

func (e *CircuitOpenError) Is(target error) bool {
	_, ok := target.(*CircuitOpenError)
	return ok
}

// KindOf extracts the ErrorKind from err, defaulting to KindExternal for
// unrecognized errors so callers have a safe fallback bucket.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return KindExternal
	}
	return KindExternal
}
