// Package tools implements the five MCP tool handlers of spec §6.2 as thin
// callers of internal/gateway: each handler builds a gateway.QueryRequest
// from its argument map and returns the result as content records, matching
// spec §6.1's "must not create connections directly" handler contract.
//
// Grounded on original_source/snowflake_mcp_server/main.py's handle_* family
// (dispatch-by-method-name, argument validation, content-record return
// shape) and the teacher's RPCResponse (types.go) for the columns/rows
// result shape, generalized here into a named-record list since MCP content
// is a list of typed records rather than one fixed table.
package tools

import (
	"context"
	"fmt"

	"github.com/snowgate-io/snowgate-mcp/internal/dbops"
	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/gateway"
)

// ContentRecord is one entry of an MCP tool result's content list.
type ContentRecord struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Args is the read-only argument map a handler receives (spec §6.1); the
// reserved _client_id/_request_id keys are populated by the transport.
type Args map[string]any

func (a Args) str(key string) string {
	v, _ := a[key].(string)
	return v
}

func (a Args) strOr(key, def string) string {
	if v, ok := a[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (a Args) intOr(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (a Args) boolOr(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Handler implements one MCP tool: it receives the live gateway, the
// calling client's id, and the tool's argument map, and returns content
// records (spec §6.1).
type Handler func(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error)

// Registry maps tool name to Handler, the five-tool surface of spec §6.2.
var Registry = map[string]Handler{
	"list_databases": ListDatabases,
	"list_views":     ListViews,
	"describe_view":  DescribeView,
	"query_view":     QueryView,
	"execute_query":  ExecuteQuery,
}

// Names lists the tools exposed to MCP clients, in spec §6.2's order.
func Names() []string {
	return []string{"list_databases", "list_views", "describe_view", "query_view", "execute_query"}
}

func resultToContent(result *dbops.Result) []ContentRecord {
	if result == nil {
		return []ContentRecord{{Type: "text", Text: "ok"}}
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		rows = append(rows, record)
	}

	return []ContentRecord{{
		Type: "data",
		Data: map[string]any{"columns": result.Columns, "rows": rows, "row_count": len(rows)},
	}}
}

// ListDatabases lists every database visible to the warehouse connection.
func ListDatabases(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error) {
	result, err := gw.Execute(ctx, gateway.QueryRequest{
		ClientID:  clientID,
		ToolName:  "list_databases",
		Query:     "SHOW DATABASES",
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resultToContent(result), nil
}

// ListViews lists the views (tables, on the MySQL-compatible stand-in
// driver) in database, optionally scoped to schema.
func ListViews(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error) {
	database := args.str("database")
	if database == "" {
		return nil, errs.AccessDenied("list_views requires a database argument")
	}
	// The stand-in driver is MySQL-compatible, which has no third naming
	// level below database; schema is still threaded through to the
	// isolation check (spec's allowed-schema access control) even though
	// it has no separate filter column here.
	schema := args.str("schema")

	result, err := gw.Execute(ctx, gateway.QueryRequest{
		ClientID:  clientID,
		ToolName:  "list_views",
		Database:  database,
		Schema:    schema,
		Query:     "SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name",
		QueryArgs: []any{database},
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resultToContent(result), nil
}

// DescribeView returns the column layout of one view.
func DescribeView(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error) {
	database := args.str("database")
	viewName := args.str("view_name")
	if database == "" || viewName == "" {
		return nil, errs.AccessDenied("describe_view requires database and view_name arguments")
	}
	schema := args.str("schema")

	result, err := gw.Execute(ctx, gateway.QueryRequest{
		ClientID: clientID,
		ToolName: "describe_view",
		Database: database,
		Schema:   schema,
		Query: "SELECT column_name, data_type, is_nullable, column_default " +
			"FROM information_schema.columns WHERE table_schema = ? AND table_name = ? " +
			"ORDER BY ordinal_position",
		QueryArgs: []any{database, viewName},
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resultToContent(result), nil
}

// QueryView runs a bounded SELECT against one view, capped at limit rows
// (default 10, spec §6.2).
func QueryView(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error) {
	database := args.str("database")
	viewName := args.str("view_name")
	if database == "" || viewName == "" {
		return nil, errs.AccessDenied("query_view requires database and view_name arguments")
	}
	schema := args.str("schema")
	limit := args.intOr("limit", 10)
	if limit <= 0 {
		limit = 10
	}

	qualified := fmt.Sprintf("`%s`.`%s`", database, viewName)
	if schema != "" {
		qualified = fmt.Sprintf("`%s`.`%s`.`%s`", database, schema, viewName)
	}

	result, err := gw.Execute(ctx, gateway.QueryRequest{
		ClientID:  clientID,
		ToolName:  "query_view",
		Database:  database,
		Schema:    schema,
		Query:     fmt.Sprintf("SELECT * FROM %s LIMIT ?", qualified),
		QueryArgs: []any{limit},
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resultToContent(result), nil
}

// ExecuteQuery runs an arbitrary, validator-gated query (spec §6.2), capped
// at limit rows (default 100; rows past the cap are dropped from the
// result) and optionally run on the gateway's single-call transactional
// path, which uses an explicit transaction only when auto_commit is false.
func ExecuteQuery(ctx context.Context, gw *gateway.Gateway, clientID string, args Args) ([]ContentRecord, error) {
	query := args.str("query")
	if query == "" {
		return nil, errs.AccessDenied("execute_query requires a query argument")
	}

	result, err := gw.Execute(ctx, gateway.QueryRequest{
		ClientID:       clientID,
		ToolName:       "execute_query",
		Database:       args.str("database"),
		Schema:         args.str("schema"),
		Query:          query,
		UseTransaction: args.boolOr("use_transaction", false),
		AutoCommit:     args.boolOr("auto_commit", true),
		Arguments:      args,
	})
	if err != nil {
		return nil, err
	}
	limit := args.intOr("limit", 100)
	if limit <= 0 {
		limit = 100
	}
	if result != nil && len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
	}
	return resultToContent(result), nil
}
