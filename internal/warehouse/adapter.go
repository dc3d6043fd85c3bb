// Package warehouse implements the driver adapter of spec §4.1: it wraps a
// blocking database/sql driver so every call that can block on I/O runs on
// a worker pool instead of the caller's goroutine. The adapter carries no
// ambient state — callers own an adapter-level Session and drive it
// explicitly, exactly like the teacher's server.go drives *sql.DB directly,
// except every blocking call here goes through workerpool.Submit.
//
// The adapter is written against database/sql so the underlying driver is
// swappable; it ships wired to github.com/go-sql-driver/mysql (the
// teacher's own dependency) as a stand-in for a Snowflake-compatible driver
// — see DESIGN.md for why no Snowflake driver ships in the example corpus.
package warehouse

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/go-sql-driver/mysql"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/workerpool"
)

// Config describes how to open a warehouse session.
type Config struct {
	DriverName string
	DSN        string
}

// Session is a single warehouse connection plus the cursor it currently
// owns, if any. The pool (internal/pool) is the only long-lived owner of a
// Session; everything else borrows it for the duration of one acquire
// scope (spec §3 "Pooled connection").
type Session struct {
	db     *sql.DB
	cursor *sql.Rows
}

// ColumnDescriptor mirrors the subset of *sql.ColumnType the callers need
// without leaking database/sql types through every layer.
type ColumnDescriptor struct {
	Name             string
	DatabaseTypeName string
}

// Adapter dispatches every blocking operation onto pool.
type Adapter struct {
	pool *workerpool.Pool
}

// New wraps an already-started worker pool. The pool's lifecycle is owned
// by the caller (typically internal/gateway), matching spec §4.1's "no
// ambient state" contract — the adapter itself holds nothing but a
// dispatch mechanism.
func New(pool *workerpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// OpenSession opens one warehouse connection. It is a suspension point
// (spec §5 item 2).
func (a *Adapter) OpenSession(ctx context.Context, cfg Config) (*Session, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		db, err := sql.Open(cfg.DriverName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, errs.ConnectionFailed(err)
	}
	return &Session{db: v.(*sql.DB)}, nil
}

// Execute runs sql against session and returns its rows plus column
// descriptors. Any previously open cursor on the session is closed first —
// the driver's cursor is not reentrant (spec §9 "Cursor lifecycle").
func (a *Adapter) Execute(ctx context.Context, session *Session, query string, args ...any) ([]ColumnDescriptor, *sql.Rows, error) {
	if session.cursor != nil {
		session.cursor.Close()
		session.cursor = nil
	}

	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return session.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, nil, classify(err)
	}

	rows := v.(*sql.Rows)
	session.cursor = rows

	cols, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		session.cursor = nil
		return nil, nil, classify(err)
	}

	descs := make([]ColumnDescriptor, len(cols))
	for i, c := range cols {
		descs[i] = ColumnDescriptor{Name: c.Name(), DatabaseTypeName: c.DatabaseTypeName()}
	}
	return descs, rows, nil
}

// Exec runs a statement that does not return rows directly on session,
// outside any transaction (internal/dbops uses it for the USE statement
// that sets the database/schema context). ExecTx is the in-transaction
// counterpart.
func (a *Adapter) Exec(ctx context.Context, session *Session, query string, args ...any) (sql.Result, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return session.db.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return nil, classify(err)
	}
	return v.(sql.Result), nil
}

// CloseCursor closes the session's outstanding cursor, if any. Safe to call
// even when no cursor is open.
func (a *Adapter) CloseCursor(session *Session) error {
	if session.cursor == nil {
		return nil
	}
	err := session.cursor.Close()
	session.cursor = nil
	return err
}

// CloseSession closes the underlying connection. The cursor, if any, is
// closed first.
func (a *Adapter) CloseSession(ctx context.Context, session *Session) error {
	a.CloseCursor(session)
	_, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, session.db.Close()
	})
	return err
}

// AutoCommit reports whether session currently has auto-commit enabled,
// read back via the MySQL-compatible driver's session variable (spec §4.4's
// "session's auto-commit flag").
func (a *Adapter) AutoCommit(ctx context.Context, session *Session) (bool, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		row := session.db.QueryRowContext(ctx, "SELECT @@autocommit")
		var on int64
		if err := row.Scan(&on); err != nil {
			return nil, err
		}
		return on != 0, nil
	})
	if err != nil {
		return false, classify(err)
	}
	return v.(bool), nil
}

// SetAutoCommit toggles session's auto-commit setting.
func (a *Adapter) SetAutoCommit(ctx context.Context, session *Session, on bool) error {
	stmt := "SET autocommit = 0"
	if on {
		stmt = "SET autocommit = 1"
	}
	_, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return session.db.ExecContext(ctx, stmt)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// HealthCheck pings the session. It is used by the connection pool's
// maintenance task outside the pool's own lock (spec §9).
func (a *Adapter) HealthCheck(ctx context.Context, session *Session) bool {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, session.db.PingContext(ctx)
	})
	_ = v
	return err == nil
}

// BeginTx starts a database/sql transaction on session.
func (a *Adapter) BeginTx(ctx context.Context, session *Session) (*sql.Tx, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return session.db.BeginTx(ctx, nil)
	})
	if err != nil {
		return nil, classify(err)
	}
	return v.(*sql.Tx), nil
}

// QueryTx runs query against an already-open transaction, returning its
// rows plus column descriptors, used by the transactional operation
// wrapper (spec §4.4).
func (a *Adapter) QueryTx(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]ColumnDescriptor, *sql.Rows, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return tx.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, nil, classify(err)
	}

	rows := v.(*sql.Rows)
	cols, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, nil, classify(err)
	}

	descs := make([]ColumnDescriptor, len(cols))
	for i, c := range cols {
		descs[i] = ColumnDescriptor{Name: c.Name(), DatabaseTypeName: c.DatabaseTypeName()}
	}
	return descs, rows, nil
}

// ExecTx runs a non-SELECT statement against an already-open transaction.
func (a *Adapter) ExecTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	v, err := a.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return tx.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return nil, classify(err)
	}
	return v.(sql.Result), nil
}

// classify sorts a raw driver error into transient or permanent (spec
// §4.1). Only transient errors are retry candidates.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Timeout("warehouse_call", true)
	}
	if isTransient(err) {
		return errs.DriverTransient(err)
	}
	return errs.DriverPermanent(err)
}

// isTransient recognizes the driver error classes spec §4.1 calls out:
// network, timeout, and driver "operational" failures. Anything else
// (syntax, permission, schema) is permanent.
func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"connection refused", "broken pipe", "reset by peer", "i/o timeout",
		"driver: bad connection", "EOF", "too many connections", "server has gone away",
	} {
		if containsFold(msg, marker) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl, nl := len(haystack), len(needle)
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
