package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := ConnectionFailed(cause)

	assert.Contains(t, err.Error(), "connection_failed")
	assert.Contains(t, err.Error(), "refused")
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := DriverTransient(cause)

	assert.Same(t, cause, errors.Unwrap(err))
}

func TestRetryable_ByKind(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"pool_exhausted", PoolExhausted(time.Second), true},
		{"connection_failed", ConnectionFailed(nil), true},
		{"rate_limit", RateLimit(time.Second, "rps", 1, 1), true},
		{"quota_exceeded", QuotaExceeded(time.Minute, "requests_per_hour"), true},
		{"circuit_open", CircuitOpen(time.Second, "warehouse"), true},
		{"access_denied", AccessDenied("nope"), false},
		{"sql_injection_risk", SQLInjectionRisk("high", nil), false},
		{"timeout_retryable", Timeout("pool.Acquire", true), true},
		{"timeout_not_retryable", Timeout("pool.Acquire", false), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Retryable())
		})
	}
}

func TestErrorsAs_MatchesConcreteType(t *testing.T) {
	var wrapped error = fmt.Errorf("wrap: %w", AccessDenied("forbidden database"))

	var e *Error
	require := assert.New(t)
	require.True(errors.As(wrapped, &e))
	require.Equal(KindAccessDenied, e.Kind)
}
