package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestResources_ImmediateAllocationSucceeds(t *testing.T) {
	a := New(StrategyWeightedFair)
	a.AddResourcePool("connections", 10, 0.2)

	ok, err := a.RequestResources("client-a", "connections", 2, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	stats := a.Stats()
	pools := stats["resource_pools"].(map[string]any)
	conn := pools["connections"].(map[string]any)
	assert.Equal(t, 2.0, conn["allocated"])
}

func TestRequestResources_UnknownResourceType(t *testing.T) {
	a := New(StrategyFairShare)
	ok, err := a.RequestResources("client-a", "missing", 1, 1, 0)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestRequestResources_InvalidAmount(t *testing.T) {
	a := New(StrategyFairShare)
	a.AddResourcePool("connections", 10, 0)

	ok, err := a.RequestResources("client-a", "connections", 0, 1, 0)
	assert.False(t, ok)
	assert.Error(t, err)

	ok, err = a.RequestResources("client-a", "connections", 100, 1, 0)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestReleaseResources_ReturnsCapacityToPool(t *testing.T) {
	a := New(StrategyFairShare)
	a.AddResourcePool("connections", 10, 0)

	ok, err := a.RequestResources("client-a", "connections", 5, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	released := a.ReleaseResources("client-a", "connections", 5)
	assert.True(t, released)

	stats := a.Stats()
	pools := stats["resource_pools"].(map[string]any)
	conn := pools["connections"].(map[string]any)
	assert.Equal(t, 0.0, conn["allocated"])
	assert.NotContains(t, stats["client_allocations"].(map[string]any), "client-a")
}

func TestReleaseResources_UnknownClientIsNoop(t *testing.T) {
	a := New(StrategyFairShare)
	a.AddResourcePool("connections", 10, 0)
	assert.False(t, a.ReleaseResources("nobody", "connections", 1))
}

func TestPriorityBasedStrategy_HighPriorityCanUseReserved(t *testing.T) {
	a := New(StrategyPriorityBased)
	a.AddResourcePool("connections", 10, 0.5)

	ok, err := a.RequestResources("low", "connections", 5, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.RequestResources("low2", "connections", 5, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.RequestResources("high", "connections", 3, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetClientPriorityAndWeight(t *testing.T) {
	a := New(StrategyWeightedFair)
	a.AddResourcePool("connections", 10, 0)

	a.SetClientPriority("client-a", 5)
	a.SetClientWeight("client-a", 2.5)

	stats := a.Stats()
	clients := stats["client_allocations"].(map[string]any)
	c := clients["client-a"].(map[string]any)
	assert.Equal(t, 5, c["priority"])
	assert.Equal(t, 2.5, c["weight"])
}

func TestRequestResources_QueuesAndExpiresWhenExhausted(t *testing.T) {
	a := New(StrategyFairShare)
	a.AddResourcePool("connections", 2, 0)
	a.Start()
	defer a.Stop()

	ok, err := a.RequestResources("client-a", "connections", 2, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = a.RequestResources("client-b", "connections", 1, 1, 150*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestRoundRobinStrategy_LimitsBurstsFromSameClient(t *testing.T) {
	a := New(StrategyRoundRobin)
	a.AddResourcePool("connections", 100, 0)

	for i := 0; i < 3; i++ {
		ok, err := a.RequestResources("client-a", "connections", 1, 1, 0)
		require.NoError(t, err)
		require.True(t, ok)
		a.ReleaseResources("client-a", "connections", 1)
	}

	ok, err := a.RequestResources("client-a", "connections", 1, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
