package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultClientRules = map[Dimension]Rule{
		DimensionRequestsPerSecond: {Dimension: DimensionRequestsPerSecond, Limit: 2, WindowSeconds: 1, BurstAllowance: 0},
		DimensionConcurrent:        {Dimension: DimensionConcurrent, Limit: 2},
	}
	cfg.GlobalRules = map[Dimension]Rule{
		DimensionRequestsPerSecond: {Dimension: DimensionRequestsPerSecond, Limit: 100, WindowSeconds: 1, BurstAllowance: 50},
	}
	cfg.CleanupInterval = time.Hour
	return cfg
}

func TestCheckLimits_AllowsWithinBurst(t *testing.T) {
	l := New(testConfig())
	require.NoError(t, l.CheckLimits("client-a"))
	require.NoError(t, l.CheckLimits("client-a"))
}

func TestCheckLimits_BlocksOverLimit(t *testing.T) {
	l := New(testConfig())
	require.NoError(t, l.CheckLimits("client-a"))
	require.NoError(t, l.CheckLimits("client-a"))

	err := l.CheckLimits("client-a")
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok)
	assert.Equal(t, DimensionRequestsPerSecond, v.Dimension)
}

func TestCheckLimits_SeparateClientsTrackedIndependently(t *testing.T) {
	l := New(testConfig())
	require.NoError(t, l.CheckLimits("client-a"))
	require.NoError(t, l.CheckLimits("client-a"))
	require.NoError(t, l.CheckLimits("client-b"))
}

func TestAcquireReleaseSlot_EnforcesConcurrentLimit(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultClientRules = map[Dimension]Rule{
		DimensionConcurrent: {Dimension: DimensionConcurrent, Limit: 1},
	}
	l := New(cfg)

	l.AcquireSlot("client-a")
	err := l.CheckLimits("client-a")
	require.Error(t, err)

	l.ReleaseSlot("client-a")
	require.NoError(t, l.CheckLimits("client-a"))
}

func TestClientStatus_UnknownClient(t *testing.T) {
	l := New(testConfig())
	_, ok := l.ClientStatus("nobody")
	assert.False(t, ok)
}

func TestClientStatus_ReportsUsageAfterRequest(t *testing.T) {
	l := New(testConfig())
	require.NoError(t, l.CheckLimits("client-a"))

	status, ok := l.ClientStatus("client-a")
	require.True(t, ok)
	assert.Equal(t, int64(1), status["total_requests"])
}

func TestGlobalStatus_TracksActiveClients(t *testing.T) {
	l := New(testConfig())
	require.NoError(t, l.CheckLimits("client-a"))
	require.NoError(t, l.CheckLimits("client-b"))

	status := l.GlobalStatus()
	assert.Equal(t, 2, status["active_clients"])
}

func TestSetClientRules_ReplacesDefaults(t *testing.T) {
	l := New(testConfig())
	l.SetClientRules("client-a", map[Dimension]Rule{
		DimensionRequestsPerSecond: {Dimension: DimensionRequestsPerSecond, Limit: 1, WindowSeconds: 1},
	})

	require.NoError(t, l.CheckLimits("client-a"))
	err := l.CheckLimits("client-a")
	require.Error(t, err)
}
