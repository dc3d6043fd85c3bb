// Package reqctx implements the per-request ambient context of spec §4.3:
// identity, database/schema state, counters and captured errors that
// travel with a single MCP tool call without being threaded through every
// function signature.
//
// It is grounded on the supplemented request_context.py (original_source),
// translated from Python's ContextVar + asynccontextmanager idiom into Go's
// context.Context value propagation plus an explicit Manager that tracks
// active and recently-completed requests for introspection (spec §4.3
// "bounded history", "stale cleanup").
package reqctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metrics accumulates per-request counters (spec §4.3).
type Metrics struct {
	StartTime             time.Time
	EndTime               time.Time
	DatabaseOperations    int
	QueriesExecuted       int
	Errors                int
	TransactionOperations int
	TransactionCommits    int
	TransactionRollbacks  int
}

// DurationMS reports elapsed time once the request has completed.
func (m *Metrics) DurationMS() float64 {
	if m.EndTime.IsZero() {
		return 0
	}
	return float64(m.EndTime.Sub(m.StartTime).Microseconds()) / 1000.0
}

// ErrorRecord captures one error observed during a request, enough to
// diagnose afterward without keeping a full stack unwind (spec §4.3).
type ErrorRecord struct {
	Timestamp time.Time
	Err       error
	Context   string
}

// Request is one MCP tool call's ambient state. Mutating methods take the
// request's own lock; callers do not need their own synchronization.
type Request struct {
	mgr *Manager

	RequestID string
	ClientID  string
	ToolName  string
	Arguments map[string]any
	StartTime time.Time

	mu       sync.Mutex
	database string
	schema   string
	metrics  Metrics
	errors   []ErrorRecord
}

// SetDatabaseContext records the active database/schema for this request
// (spec §4.3 "database/schema state").
func (r *Request) SetDatabaseContext(database, schema string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.database = database
	if schema != "" {
		r.schema = schema
	}
}

// DatabaseContext returns the currently recorded database and schema.
func (r *Request) DatabaseContext() (database, schema string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.database, r.schema
}

// AddError records an error against the request and bumps its error
// counter.
func (r *Request) AddError(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ErrorRecord{Timestamp: time.Now(), Err: err, Context: context})
	r.metrics.Errors++
}

// IncrementQueryCount, IncrementTransactionOperation,
// IncrementTransactionCommit, IncrementTransactionRollback and
// IncrementDatabaseOperation bump the matching counter (spec §4.3).
func (r *Request) IncrementQueryCount()             { r.bump(func(m *Metrics) { m.QueriesExecuted++ }) }
func (r *Request) IncrementTransactionOperation()    { r.bump(func(m *Metrics) { m.TransactionOperations++ }) }
func (r *Request) IncrementTransactionCommit()       { r.bump(func(m *Metrics) { m.TransactionCommits++ }) }
func (r *Request) IncrementTransactionRollback()     { r.bump(func(m *Metrics) { m.TransactionRollbacks++ }) }
func (r *Request) IncrementDatabaseOperation()        { r.bump(func(m *Metrics) { m.DatabaseOperations++ }) }

func (r *Request) bump(f func(*Metrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.metrics)
}

// Snapshot returns a copy of the request's metrics and errors for
// monitoring/introspection without holding the lock open.
func (r *Request) Snapshot() (Metrics, []ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	errsCopy := make([]ErrorRecord, len(r.errors))
	copy(errsCopy, r.errors)
	return r.metrics, errsCopy
}

func (r *Request) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.EndTime = time.Now()
}

// Manager tracks active and recently-completed requests, matching
// RequestContextManager's bounded-history behavior.
type Manager struct {
	mu                    sync.Mutex
	active                map[string]*Request
	completed             map[string]*Request
	completedOrder        []string
	maxCompletedHistory   int
}

// NewManager builds a Manager; maxCompletedHistory bounds how many
// finished requests stay queryable (spec §4.3's "bounded history").
func NewManager(maxCompletedHistory int) *Manager {
	if maxCompletedHistory <= 0 {
		maxCompletedHistory = 1000
	}
	return &Manager{
		active:              make(map[string]*Request),
		completed:           make(map[string]*Request),
		maxCompletedHistory: maxCompletedHistory,
	}
}

type ctxKey struct{}

// Begin creates a new Request, registers it as active, and returns a
// context carrying it. End must be called exactly once to finalize it,
// typically via defer immediately after Begin.
func (m *Manager) Begin(ctx context.Context, toolName, clientID string, arguments map[string]any) (context.Context, *Request) {
	req := &Request{
		mgr:       m,
		RequestID: uuid.NewString(),
		ClientID:  clientID,
		ToolName:  toolName,
		Arguments: arguments,
		StartTime: time.Now(),
	}
	req.metrics.StartTime = req.StartTime

	m.mu.Lock()
	m.active[req.RequestID] = req
	m.mu.Unlock()

	return context.WithValue(ctx, ctxKey{}, req), req
}

// End completes req, recording any error passed, and moves it from active
// to the bounded completed history.
func (m *Manager) End(req *Request, err error) {
	if err != nil {
		req.AddError(err, "request_execution_"+req.ToolName)
	}
	req.complete()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, req.RequestID)
	m.completed[req.RequestID] = req
	m.completedOrder = append(m.completedOrder, req.RequestID)

	if len(m.completedOrder) > m.maxCompletedHistory {
		overflow := len(m.completedOrder) - m.maxCompletedHistory
		for _, id := range m.completedOrder[:overflow] {
			delete(m.completed, id)
		}
		m.completedOrder = m.completedOrder[overflow:]
	}
}

// FromContext retrieves the Request a prior Begin attached to ctx, if any.
func FromContext(ctx context.Context) (*Request, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Request)
	return r, ok
}

// Get looks up a request by id across both active and completed sets.
func (m *Manager) Get(requestID string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.active[requestID]; ok {
		return r, true
	}
	r, ok := m.completed[requestID]
	return r, ok
}

// ActiveRequests returns a snapshot of every currently active request.
func (m *Manager) ActiveRequests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, r)
	}
	return out
}

// ClientRequests returns the active requests belonging to clientID.
func (m *Manager) ClientRequests(clientID string) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.active {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	return out
}

// CleanupStale finalizes any active request older than maxAge with a
// timeout error, so a dropped client can never leak an entry forever
// (spec §4.3 "stale cleanup").
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Request
	for _, r := range m.active {
		if r.StartTime.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	m.mu.Unlock()

	for _, r := range stale {
		m.End(r, errStaleRequest)
	}
	return len(stale)
}

var errStaleRequest = staleRequestError{}

type staleRequestError struct{}

func (staleRequestError) Error() string { return "request timed out and was cleaned up by the manager" }
