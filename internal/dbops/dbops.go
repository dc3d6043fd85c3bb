// Package dbops implements the three layered database-operation wrappers
// of spec §4.4: Plain (acquire, run, release, no extra bookkeeping),
// Isolated (capture and restore database/schema context around the call so
// a reused pooled session never leaks state between requests), and
// Transactional (run inside an already-open explicit transaction, with no
// implicit commit/rollback).
//
// Grounded on the teacher's handleSQL (server/server.go), which inlines
// exactly this branching — "is there a transaction id? use its *sql.Tx :
// else acquire a connection and query it directly" — split here into three
// named, independently testable functions instead of one large handler.
//
// Plain and Isolated acquire their session through internal/multiplex
// rather than internal/pool directly, per spec §2's control flow ("acquires
// a connection via the multiplexer and pool") — the multiplexer itself
// calls through to the pool, so this is the one acquisition path every
// non-transactional call takes.
package dbops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snowgate-io/snowgate-mcp/internal/multiplex"
	"github.com/snowgate-io/snowgate-mcp/internal/txmgr"
	"github.com/snowgate-io/snowgate-mcp/internal/warehouse"
)

// Result is the tabular shape every wrapper returns, scanned eagerly so
// callers never hold a live *sql.Rows past the wrapper call.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Ops bundles the collaborators every wrapper needs.
type Ops struct {
	Adapter   *warehouse.Adapter
	Multiplex *multiplex.Multiplexer
}

// New builds an Ops bound to adapter and the connection multiplexer.
func New(adapter *warehouse.Adapter, mux *multiplex.Multiplexer) *Ops {
	return &Ops{Adapter: adapter, Multiplex: mux}
}

// Plain leases a session through the multiplexer, runs query, and releases
// the lease, with no context capture/restore (spec §4.4 "Plain operation").
func (o *Ops) Plain(ctx context.Context, clientID, requestID, query string, args ...any) (*Result, error) {
	lease, err := o.Multiplex.Acquire(ctx, clientID, requestID, false)
	if err != nil {
		return nil, err
	}
	defer o.Multiplex.Release(lease)

	return o.OnSession(ctx, lease.Session, query, args...)
}

// Isolated leases a session through the multiplexer, switches it to
// database/schema, runs query, then restores whatever database/schema the
// session was previously set to before releasing the lease — so a session
// reused by a different client never carries over this request's USE
// statements (spec §4.4 "Isolated operation").
func (o *Ops) Isolated(ctx context.Context, clientID, requestID, database, schema, query string, args ...any) (*Result, error) {
	lease, err := o.Multiplex.Acquire(ctx, clientID, requestID, false)
	if err != nil {
		return nil, err
	}
	defer o.Multiplex.Release(lease)
	session := lease.Session

	prevDB, prevSchema, err := o.currentContext(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := o.useContext(ctx, session, database, schema); err != nil {
		return nil, err
	}
	defer o.useContext(ctx, session, prevDB, prevSchema)

	cols, rows, err := o.Adapter.Execute(ctx, session, query, args...)
	if err != nil {
		return nil, err
	}
	defer o.Adapter.CloseCursor(session)

	return scan(cols, rows)
}

// OnSession runs query against an already-acquired session, for callers
// that manage their own lease or transaction lifecycle instead of
// delegating it to Plain/Isolated — currently the execute_query
// auto_commit=true path (gateway.go's runAutoCommitScoped), which leases a
// session itself so it can save/restore the session's auto-commit setting
// around the call.
func (o *Ops) OnSession(ctx context.Context, session *warehouse.Session, query string, args ...any) (*Result, error) {
	cols, rows, err := o.Adapter.Execute(ctx, session, query, args...)
	if err != nil {
		return nil, err
	}
	defer o.Adapter.CloseCursor(session)

	return scan(cols, rows)
}

// Transactional runs query against txn's already-open transaction. It does
// not commit, rollback, or otherwise manage the transaction's lifecycle —
// that is internal/txmgr's job — matching spec §4.4 "no implicit
// auto-commit toggling inside a caller-controlled transaction".
func (o *Ops) Transactional(ctx context.Context, txn *txmgr.Transaction, query string, args ...any) (*Result, error) {
	cols, rows, err := o.Adapter.QueryTx(ctx, txn.Tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scan(cols, rows)
}

// currentContext reads back the session's active database/schema. Drivers
// vary in how this is exposed; the MySQL stand-in driver answers via
// SELECT DATABASE(), SCHEMA() — a real Snowflake driver would use
// CURRENT_DATABASE()/CURRENT_SCHEMA() (see DESIGN.md).
func (o *Ops) currentContext(ctx context.Context, session *warehouse.Session) (db, schema string, err error) {
	_, rows, err := o.Adapter.Execute(ctx, session, "SELECT DATABASE(), SCHEMA()")
	if err != nil {
		return "", "", err
	}
	defer o.Adapter.CloseCursor(session)

	if !rows.Next() {
		return "", "", nil
	}
	var d, s sql.NullString
	if err := rows.Scan(&d, &s); err != nil {
		return "", "", err
	}
	return d.String, s.String, nil
}

func (o *Ops) useContext(ctx context.Context, session *warehouse.Session, database, schema string) error {
	if database == "" {
		return nil
	}
	stmt := fmt.Sprintf("USE %s", database)
	if schema != "" {
		stmt = fmt.Sprintf("USE %s.%s", database, schema)
	}
	if _, err := o.Adapter.Exec(ctx, session, stmt); err != nil {
		return err
	}
	return nil
}

func scan(colDescs []warehouse.ColumnDescriptor, rows *sql.Rows) (*Result, error) {
	cols := make([]string, len(colDescs))
	for i, c := range colDescs {
		cols[i] = c.Name
	}

	var out [][]any
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = *(d.(*any))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{Columns: cols, Rows: out}, nil
}
