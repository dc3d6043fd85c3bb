// Package errs defines the gateway's error taxonomy. Every error a caller
// can observe crossing a package boundary is one of the kinds below so that
// transports can report a kind and a short cause string without leaking
// internal stack traces (spec §7).
package errs

import (
	"fmt"
	"time"
)

// Kind identifies a taxonomy entry independent of its message text.
type Kind string

const (
	KindConfig            Kind = "config_error"
	KindPoolExhausted     Kind = "pool_exhausted"
	KindPoolClosed        Kind = "pool_closed"
	KindConnectionFailed  Kind = "connection_failed"
	KindDriverTransient   Kind = "driver_transient"
	KindDriverPermanent   Kind = "driver_permanent"
	KindTransactionAbort  Kind = "transaction_aborted"
	KindRateLimit         Kind = "rate_limit_exceeded"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindCircuitOpen       Kind = "circuit_open"
	KindBackoffExhausted  Kind = "backoff_exhausted"
	KindSQLInjectionRisk  Kind = "sql_injection_risk"
	KindAccessDenied      Kind = "access_denied"
	KindAuth              Kind = "auth_error"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
)

// Error is the common shape for every taxonomy entry. RetryAfter is zero
// when the kind carries no advised wait.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the kind is, by its own nature, worth retrying.
// It does not account for a caller-specific retry budget.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindPoolExhausted, KindConnectionFailed, KindDriverTransient,
		KindRateLimit, KindQuotaExceeded, KindCircuitOpen:
		return true
	case KindTimeout:
		// Timeout retryability is kind-dependent (spec §7); callers that
		// construct a Timeout error set RetryAfter > 0 when it is.
		return e.RetryAfter > 0
	default:
		return false
	}
}

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Config(msg string, cause error) *Error { return new(KindConfig, msg, cause) }

func PoolExhausted(waited time.Duration) *Error {
	return &Error{Kind: KindPoolExhausted, Message: fmt.Sprintf("no connection available after %s", waited)}
}

func PoolClosed() *Error { return new(KindPoolClosed, "pool is closed", nil) }

func ConnectionFailed(cause error) *Error { return new(KindConnectionFailed, "failed to open warehouse session", cause) }

func DriverTransient(cause error) *Error { return new(KindDriverTransient, "transient driver error", cause) }

func DriverPermanent(cause error) *Error { return new(KindDriverPermanent, "permanent driver error", cause) }

func TransactionAborted(cause error) *Error { return new(KindTransactionAbort, "transaction aborted", cause) }

// RateLimit reports a rate-limit trip. dimension names which limit tripped
// (e.g. "requests_per_second"); current/limit are informational.
func RateLimit(retryAfter time.Duration, dimension string, current, limit float64) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    fmt.Sprintf("%s limit exceeded (%.2f/%.2f)", dimension, current, limit),
		RetryAfter: retryAfter,
	}
}

func QuotaExceeded(retryAfterReset time.Duration, quotaType string) *Error {
	return &Error{
		Kind:       KindQuotaExceeded,
		Message:    fmt.Sprintf("%s quota exceeded", quotaType),
		RetryAfter: retryAfterReset,
	}
}

func CircuitOpen(retryAfter time.Duration, component string) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Message:    fmt.Sprintf("circuit %q is open", component),
		RetryAfter: retryAfter,
	}
}

func BackoffExhausted(attempts int, totalTime time.Duration) *Error {
	return &Error{
		Kind:    KindBackoffExhausted,
		Message: fmt.Sprintf("retry budget exhausted after %d attempts (%s)", attempts, totalTime),
	}
}

func SQLInjectionRisk(level string, violations []string) *Error {
	return &Error{
		Kind:    KindSQLInjectionRisk,
		Message: fmt.Sprintf("risk=%s violations=%v", level, violations),
	}
}

func AccessDenied(reason string) *Error { return new(KindAccessDenied, reason, nil) }

func Auth(code string) *Error { return new(KindAuth, code, nil) }

func Timeout(where string, retryable bool) *Error {
	e := &Error{Kind: KindTimeout, Message: where}
	if retryable {
		e.RetryAfter = time.Second
	}
	return e
}

func Cancelled(where string) *Error { return new(KindCancelled, where, nil) }
