package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersWithoutPanicking(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry)
	m.RecordRequest("client-a", "query_view", "success", 0.25)
	m.RecordQuery("ANALYTICS", "SELECT", "success", 0.5, 100)
	m.RecordError("timeout", "pool", "error")
	m.UpdateConnectionPool(3, 2, 5)
}

func TestNormalizeQuery_StripsLiteralsAndWhitespace(t *testing.T) {
	normalized := NormalizeQuery("SELECT * FROM t WHERE id = 42 AND name = 'bob'")
	assert.Contains(t, normalized, "?")
	assert.Contains(t, normalized, "'?'")
	assert.NotContains(t, normalized, "42")
}

func TestExtractQueryType_FindsLeadingKeyword(t *testing.T) {
	assert.Equal(t, "SELECT", ExtractQueryType("  select * from t"))
	assert.Equal(t, "UNKNOWN", ExtractQueryType("frobnicate t"))
}

func TestPatternID_IsStableForSameNormalizedQuery(t *testing.T) {
	a := PatternID("SELECT * FROM T WHERE ID = ?")
	b := PatternID("SELECT * FROM T WHERE ID = ?")
	c := PatternID("SELECT * FROM OTHER WHERE ID = ?")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestQueryTracker_AggregatesPatternsAndClientStats(t *testing.T) {
	tracker := NewQueryTracker(nil, 0)
	for i := 0; i < 3; i++ {
		tracker.Track(QueryMetrics{
			QueryID: "q", ClientID: "client-a", Database: "ANALYTICS",
			QueryType: "SELECT", QueryText: "SELECT * FROM t WHERE id = 1",
			Duration: 10 * time.Millisecond, RowsReturned: 5, Status: "success",
		})
	}

	stats := tracker.Statistics()
	assert.Equal(t, 3, stats["total_queries"])
	assert.Equal(t, 1, stats["pattern_count"])

	client := tracker.ClientPerformance("client-a")
	require.NotNil(t, client)
	assert.Equal(t, int64(3), client["query_count"])
}

func TestQueryTracker_FlagsSlowQueries(t *testing.T) {
	tracker := NewQueryTracker(nil, 5*time.Millisecond)
	tracker.Track(QueryMetrics{ClientID: "c", Database: "d", QueryType: "SELECT", QueryText: "SELECT 1", Duration: 50 * time.Millisecond, Status: "success"})
	slow := tracker.SlowQueries(10)
	assert.Len(t, slow, 1)
}

func TestQueryTracker_TopPatternsOrdersByExecutionCount(t *testing.T) {
	tracker := NewQueryTracker(nil, 0)
	tracker.Track(QueryMetrics{ClientID: "c", Database: "d", QueryType: "SELECT", QueryText: "SELECT * FROM a", Duration: time.Millisecond, Status: "success"})
	for i := 0; i < 3; i++ {
		tracker.Track(QueryMetrics{ClientID: "c", Database: "d", QueryType: "SELECT", QueryText: "SELECT * FROM b", Duration: time.Millisecond, Status: "success"})
	}

	top := tracker.TopPatterns(1)
	require.Len(t, top, 1)
	assert.Equal(t, int64(3), top[0].ExecutionCount)
}

func TestRule_EvaluateComparators(t *testing.T) {
	gt := Rule{Comparator: CompareGT, Threshold: 5}
	assert.True(t, gt.evaluate(6))
	assert.False(t, gt.evaluate(5))

	lte := Rule{Comparator: CompareLTE, Threshold: 5}
	assert.True(t, lte.evaluate(5))
}

func TestManager_FiresAlertWhenRuleTrips(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	fired := make(chan Alert, 1)
	m.AddRule(Rule{ID: "test", Name: "test rule", Comparator: CompareGT, Threshold: 1}, func() float64 { return 5 })
	m.AddNotifier(notifierFunc(func(_ context.Context, a Alert) error {
		fired <- a
		return nil
	}))

	m.Start()
	defer m.Stop()

	select {
	case a := <-fired:
		assert.Equal(t, "test", a.RuleID)
	case <-time.After(time.Second):
		t.Fatal("expected alert to fire")
	}
}

func TestManager_RespectsCooldown(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	var count int
	m.AddRule(Rule{ID: "test", Comparator: CompareGT, Threshold: 1, CooldownPeriod: time.Hour}, func() float64 { return 5 })
	m.AddNotifier(notifierFunc(func(_ context.Context, a Alert) error {
		count++
		return nil
	}))

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	assert.Equal(t, 1, count)
}

func TestLogNotifier_DoesNotError(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	err := n.Notify(context.Background(), Alert{RuleID: "r", Severity: SeverityWarning, Message: "test"})
	assert.NoError(t, err)
}

type notifierFunc func(ctx context.Context, alert Alert) error

func (f notifierFunc) Notify(ctx context.Context, alert Alert) error { return f(ctx, alert) }
