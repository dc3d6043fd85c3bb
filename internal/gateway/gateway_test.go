package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgate-io/snowgate-mcp/internal/config"
	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/isolation"
	"github.com/snowgate-io/snowgate-mcp/internal/ratelimit"
)

func testConfig() *config.Config {
	cfg, err := config.Default()
	if err != nil {
		panic(err)
	}
	cfg.Warehouse.DSN = "user:pass@tcp(127.0.0.1:3306)/testdb"
	cfg.Pool.MinSize = 0
	cfg.Pool.MaxSize = 2
	return cfg
}

func TestNew_WiresAllCollaborators(t *testing.T) {
	g, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, g.Adapter)
	assert.NotNil(t, g.Pool)
	assert.NotNil(t, g.Requests)
	assert.NotNil(t, g.Ops)
	assert.NotNil(t, g.Tx)
	assert.NotNil(t, g.Sessions)
	assert.NotNil(t, g.Multiplex)
	assert.NotNil(t, g.Isolation)
	assert.NotNil(t, g.Allocator)
	assert.NotNil(t, g.RateLimit)
	assert.NotNil(t, g.Breakers)
	assert.NotNil(t, g.Quotas)
	assert.NotNil(t, g.Validator)
	assert.NotNil(t, g.Metrics)
	assert.NotNil(t, g.Tracker)
	assert.NotNil(t, g.Alerts)

	_, ok := g.Breakers.Get(warehouseBreakerName)
	assert.True(t, ok)
}

func TestExecute_RejectsWhenIsolationDeniesDatabase(t *testing.T) {
	g, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	g.Isolation.RegisterClient(isolation.Profile{
		ClientID:         "client-a",
		AllowedDatabases: map[string]struct{}{"ALLOWED": {}},
	})

	_, err = g.Execute(context.Background(), QueryRequest{
		ClientID: "client-a",
		ToolName: "query_view",
		Database: "FORBIDDEN",
		Query:    "SELECT 1",
	})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindAccessDenied, e.Kind)
}

func TestExecute_RejectsWhenRateLimited(t *testing.T) {
	g, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	g.RateLimit.SetClientRules("client-b", map[ratelimit.Dimension]ratelimit.Rule{
		ratelimit.DimensionRequestsPerSecond: {Dimension: ratelimit.DimensionRequestsPerSecond, Limit: 1, WindowSeconds: 1},
	})

	_, err = g.Execute(context.Background(), QueryRequest{ClientID: "client-b", ToolName: "list_databases"})
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), QueryRequest{ClientID: "client-b", ToolName: "list_databases"})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindRateLimit, e.Kind)
}

func TestRatelimitConfigFrom_OverridesClientAndGlobalLimits(t *testing.T) {
	rl := config.RateLimiting{
		PerClient: config.RateLimitRule{RequestsPerSecond: 1, RequestsPerMinute: 2, QueriesPerMinute: 3, ConcurrentRequests: 4},
		Global:    config.RateLimitRule{RequestsPerSecond: 10},
	}
	cfg := ratelimitConfigFrom(rl)

	assert.Equal(t, 1, cfg.DefaultClientRules["requests_per_second"].Limit)
	assert.Equal(t, 2, cfg.DefaultClientRules["requests_per_minute"].Limit)
	assert.Equal(t, 3, cfg.DefaultClientRules["queries_per_minute"].Limit)
	assert.Equal(t, 4, cfg.DefaultClientRules["concurrent_requests"].Limit)
	assert.Equal(t, 10, cfg.GlobalRules["requests_per_second"].Limit)
}

func TestQuotaConfigFrom_OverridesClientAndGlobalLimits(t *testing.T) {
	q := config.Quotas{
		PerClient: config.QuotaRule{RequestsPerHour: 5, RequestsPerDay: 50, QueriesPerHour: 7, DataTransferMB: 100, ConcurrentConns: 3},
		Global:    config.QuotaRule{RequestsPerHour: 500},
	}
	cfg := quotaConfigFrom(q)

	assert.EqualValues(t, 5, cfg.DefaultClientLimits["requests_per_hour"].Limit)
	assert.EqualValues(t, 50, cfg.DefaultClientLimits["requests_per_day"].Limit)
	assert.EqualValues(t, 7, cfg.DefaultClientLimits["queries_per_hour"].Limit)
	assert.EqualValues(t, 100*1024*1024, cfg.DefaultClientLimits["data_transfer_bytes"].Limit)
	assert.EqualValues(t, 3, cfg.DefaultClientLimits["concurrent_connections"].Limit)
	assert.EqualValues(t, 500, cfg.GlobalLimits["requests_per_hour"].Limit)
}

func TestErrorTypeAndSeverityFor_ClassifyErrsKinds(t *testing.T) {
	circuitErr := errs.CircuitOpen(time.Second, "warehouse")
	assert.Equal(t, "circuit_open", errorType(circuitErr))
	assert.Equal(t, "critical", severityFor(circuitErr))

	quotaErr := errs.QuotaExceeded(time.Minute, "requests_per_hour")
	assert.Equal(t, "quota_exceeded", errorType(quotaErr))
	assert.Equal(t, "warning", severityFor(quotaErr))

	assert.Equal(t, "unknown", errorType(assertPlainError{}))
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "plain" }
