package reqctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginEnd_MovesToCompletedHistory(t *testing.T) {
	mgr := NewManager(10)
	ctx, req := mgr.Begin(context.Background(), "list_databases", "client-1", nil)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, req, got)

	assert.Len(t, mgr.ActiveRequests(), 1)

	mgr.End(req, nil)
	assert.Len(t, mgr.ActiveRequests(), 0)

	found, ok := mgr.Get(req.RequestID)
	require.True(t, ok)
	metrics, errs := found.Snapshot()
	assert.Empty(t, errs)
	assert.Greater(t, metrics.DurationMS(), float64(-1))
}

func TestEnd_RecordsErrorAndIncrementsCounter(t *testing.T) {
	mgr := NewManager(10)
	_, req := mgr.Begin(context.Background(), "execute_query", "client-1", nil)

	mgr.End(req, errors.New("boom"))

	metrics, errs := req.Snapshot()
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Err.Error())
	assert.Equal(t, 1, metrics.Errors)
}

func TestCompletedHistory_BoundedSize(t *testing.T) {
	mgr := NewManager(2)
	var ids []string
	for i := 0; i < 5; i++ {
		_, req := mgr.Begin(context.Background(), "tool", "client-1", nil)
		ids = append(ids, req.RequestID)
		mgr.End(req, nil)
	}

	// Only the most recent 2 should still be retrievable.
	_, ok := mgr.Get(ids[0])
	assert.False(t, ok)
	_, ok = mgr.Get(ids[len(ids)-1])
	assert.True(t, ok)
}

func TestClientRequests_FiltersByClient(t *testing.T) {
	mgr := NewManager(10)
	_, reqA := mgr.Begin(context.Background(), "tool", "client-a", nil)
	_, _ = mgr.Begin(context.Background(), "tool", "client-b", nil)

	got := mgr.ClientRequests("client-a")
	require.Len(t, got, 1)
	assert.Equal(t, reqA.RequestID, got[0].RequestID)
}

func TestCleanupStale_FinalizesOldRequests(t *testing.T) {
	mgr := NewManager(10)
	_, req := mgr.Begin(context.Background(), "tool", "client-1", nil)
	req.StartTime = time.Now().Add(-time.Hour)

	n := mgr.CleanupStale(time.Minute)
	assert.Equal(t, 1, n)
	assert.Len(t, mgr.ActiveRequests(), 0)

	_, errs := req.Snapshot()
	require.Len(t, errs, 1)
}

func TestSetDatabaseContext_UpdatesBoth(t *testing.T) {
	mgr := NewManager(10)
	_, req := mgr.Begin(context.Background(), "tool", "client-1", nil)

	req.SetDatabaseContext("analytics", "public")
	db, schema := req.DatabaseContext()
	assert.Equal(t, "analytics", db)
	assert.Equal(t, "public", schema)

	req.SetDatabaseContext("analytics", "")
	_, schema = req.DatabaseContext()
	assert.Equal(t, "public", schema, "empty schema argument should not clear the existing schema")
}
