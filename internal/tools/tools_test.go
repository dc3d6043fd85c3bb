package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgate-io/snowgate-mcp/internal/dbops"
	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

func TestNames_ListsFiveToolsInSpecOrder(t *testing.T) {
	assert.Equal(t, []string{"list_databases", "list_views", "describe_view", "query_view", "execute_query"}, Names())
}

func TestRegistry_HasEveryNamedHandler(t *testing.T) {
	for _, name := range Names() {
		_, ok := Registry[name]
		assert.True(t, ok, "missing handler for %s", name)
	}
}

func TestArgs_Accessors(t *testing.T) {
	a := Args{"database": "ANALYTICS", "limit": float64(25), "use_transaction": true}

	assert.Equal(t, "ANALYTICS", a.str("database"))
	assert.Equal(t, "", a.str("missing"))
	assert.Equal(t, "fallback", a.strOr("missing", "fallback"))
	assert.Equal(t, 25, a.intOr("limit", 10))
	assert.Equal(t, 10, a.intOr("missing", 10))
	assert.True(t, a.boolOr("use_transaction", false))
	assert.False(t, a.boolOr("missing", false))
}

func TestResultToContent_NilResultReturnsOKRecord(t *testing.T) {
	records := resultToContent(nil)
	require.Len(t, records, 1)
	assert.Equal(t, "text", records[0].Type)
}

func TestResultToContent_MapsColumnsToNamedRows(t *testing.T) {
	result := &dbops.Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{1, "alpha"}, {2, "beta"}},
	}

	records := resultToContent(result)
	require.Len(t, records, 1)
	data, ok := records[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, data["row_count"])

	rows, ok := data["rows"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0]["name"])
}

func TestListViews_RejectsMissingDatabase(t *testing.T) {
	_, err := ListViews(context.Background(), nil, "client-a", Args{})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindAccessDenied, e.Kind)
}

func TestDescribeView_RejectsMissingViewName(t *testing.T) {
	_, err := DescribeView(context.Background(), nil, "client-a", Args{"database": "ANALYTICS"})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindAccessDenied, e.Kind)
}

func TestQueryView_RejectsMissingViewName(t *testing.T) {
	_, err := QueryView(context.Background(), nil, "client-a", Args{"database": "ANALYTICS"})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindAccessDenied, e.Kind)
}

func TestExecuteQuery_RejectsMissingQuery(t *testing.T) {
	_, err := ExecuteQuery(context.Background(), nil, "client-a", Args{})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindAccessDenied, e.Kind)
}
