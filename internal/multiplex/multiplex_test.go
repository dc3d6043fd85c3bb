package multiplex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/snowgate-io/snowgate-mcp/internal/warehouse"
)

func newTestMultiplexer() *Multiplexer {
	return New(Config{
		MaxLeaseDuration:   time.Hour,
		ReuseWindow:        time.Minute,
		MaxLeasesPerClient: 2,
		SweepInterval:      time.Hour,
	}, nil)
}

func addLease(m *Multiplexer, leaseID, clientID string, createdAt time.Time) *Lease {
	lease := &Lease{
		LeaseID:   leaseID,
		ClientID:  clientID,
		Session:   &warehouse.Session{},
		CreatedAt: createdAt,
		lastUsed:  createdAt,
	}
	m.activeLeases[leaseID] = lease
	if m.clientLeases[clientID] == nil {
		m.clientLeases[clientID] = make(map[string]struct{})
	}
	m.clientLeases[clientID][leaseID] = struct{}{}
	return lease
}

func TestTryReuse_ReturnsLeaseWithinReuseWindow(t *testing.T) {
	m := newTestMultiplexer()
	addLease(m, "lease-1", "client-a", time.Now())

	lease := m.tryReuse("client-a")
	assert.NotNil(t, lease)
	assert.Equal(t, "lease-1", lease.LeaseID)
}

func TestTryReuse_IgnoresLeaseOutsideReuseWindow(t *testing.T) {
	m := newTestMultiplexer()
	lease := addLease(m, "lease-1", "client-a", time.Now().Add(-time.Hour))
	lease.lastUsed = time.Now().Add(-time.Hour)

	assert.Nil(t, m.tryReuse("client-a"))
}

func TestCleanupExpired_RemovesLeasesOlderThanMaxDuration(t *testing.T) {
	m := newTestMultiplexer()
	addLease(m, "lease-old", "client-a", time.Now().Add(-2*time.Hour))
	addLease(m, "lease-new", "client-a", time.Now())

	removed := m.CleanupExpired()
	assert.Equal(t, 1, removed)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalActiveLeases)
}

func TestForceCleanupClient_DropsEveryLeaseForThatClient(t *testing.T) {
	m := newTestMultiplexer()
	addLease(m, "lease-1", "client-a", time.Now())
	addLease(m, "lease-2", "client-a", time.Now())
	addLease(m, "lease-3", "client-b", time.Now())

	removed := m.ForceCleanupClient("client-a")
	assert.Equal(t, 2, removed)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalActiveLeases)
	assert.Equal(t, 1, stats.UniqueClients)
}

func TestStats_ComputesCacheHitRate(t *testing.T) {
	m := newTestMultiplexer()
	m.totalCreated = 4
	m.totalCacheHit = 2

	stats := m.Stats()
	assert.Equal(t, 0.5, stats.CacheHitRate)
}
