package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/snowgate-io/snowgate-mcp/internal/warehouse"
)

func TestStats_EmptyPool(t *testing.T) {
	p := New(Config{MinSize: 2, MaxSize: 5, AcquireTimeout: time.Second, RetryAttempts: 1}, nil, warehouse.Config{})
	s := p.Stats()
	assert.Equal(t, 0, s.Size)
	assert.Equal(t, 2, s.MinSize)
	assert.Equal(t, 5, s.MaxSize)
}

func TestRelease_UnknownSessionIsNoop(t *testing.T) {
	p := New(Config{MinSize: 0, MaxSize: 1, AcquireTimeout: time.Second}, nil, warehouse.Config{})
	assert.NotPanics(t, func() {
		p.Release(&warehouse.Session{})
	})
}

func TestStats_TracksInUseAndIdle(t *testing.T) {
	p := New(Config{MinSize: 0, MaxSize: 2, AcquireTimeout: time.Second}, nil, warehouse.Config{})
	s1 := &warehouse.Session{}
	s2 := &warehouse.Session{}
	p.entries = []*entry{
		{session: s1, inUse: true, lastUsed: time.Now()},
		{session: s2, inUse: false, lastUsed: time.Now()},
	}

	stats := p.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 1, stats.Idle)

	p.Release(s1)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Idle)
}
