package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 30 * time.Millisecond
	cfg.MaxRecoveryTimeout = 60 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	cfg.MonitoringWindow = time.Second
	return cfg
}

func TestCall_StaysClosedOnSuccess(t *testing.T) {
	b := New("test", testConfig())
	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_OpensAfterFailureThreshold(t *testing.T) {
	b := New("test", testConfig())
	failing := func(context.Context) error { return errors.New("boom") }

	_ = b.Call(context.Background(), failing)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Call(context.Background(), failing)
	assert.Equal(t, StateOpen, b.State())
}

func TestCall_RejectsWhileOpen(t *testing.T) {
	b := New("test", testConfig())
	failing := func(context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindCircuitOpen, e.Kind)
}

func TestCall_ClosesAfterRecoveryAndSuccesses(t *testing.T) {
	b := New("test", testConfig())
	failing := func(context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	ok := func(context.Context) error { return nil }
	require.NoError(t, b.Call(context.Background(), ok))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestForceOpenAndForceClose(t *testing.T) {
	b := New("test", testConfig())
	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())
	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())
}

func TestManager_GetOrCreateReusesBreaker(t *testing.T) {
	m := NewManager()
	b1 := m.GetOrCreate("svc", testConfig())
	b2 := m.GetOrCreate("svc", testConfig())
	assert.Same(t, b1, b2)
}

func TestManager_AllStatusReportsEveryBreaker(t *testing.T) {
	m := NewManager()
	m.GetOrCreate("a", testConfig())
	m.GetOrCreate("b", testConfig())

	status := m.AllStatus()
	assert.Equal(t, 2, status["total_count"])
}
