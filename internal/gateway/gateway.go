// Package gateway wires every collaborator package into the control flow
// spec §2 describes for one MCP tool call: ambient request tracking,
// isolation/rate-limit/quota checks, circuit-breaker-protected execution
// against the pooled warehouse connection, SQL validation, and monitoring.
//
// Grounded on the teacher's server/server.go and server/server_factory.go
// (one constructor wiring every collaborator from a single config struct,
// Start/Stop lifecycle methods in dependency order) generalized from a
// fixed AMQP-command dispatch loop into the layered isolation/quota/
// breaker/validator pipeline spec §2 and §4 require.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snowgate-io/snowgate-mcp/internal/allocator"
	"github.com/snowgate-io/snowgate-mcp/internal/backoff"
	"github.com/snowgate-io/snowgate-mcp/internal/breaker"
	"github.com/snowgate-io/snowgate-mcp/internal/config"
	"github.com/snowgate-io/snowgate-mcp/internal/dbops"
	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/isolation"
	"github.com/snowgate-io/snowgate-mcp/internal/monitoring"
	"github.com/snowgate-io/snowgate-mcp/internal/multiplex"
	"github.com/snowgate-io/snowgate-mcp/internal/pool"
	"github.com/snowgate-io/snowgate-mcp/internal/quota"
	"github.com/snowgate-io/snowgate-mcp/internal/ratelimit"
	"github.com/snowgate-io/snowgate-mcp/internal/reqctx"
	"github.com/snowgate-io/snowgate-mcp/internal/session"
	"github.com/snowgate-io/snowgate-mcp/internal/txmgr"
	"github.com/snowgate-io/snowgate-mcp/internal/validator"
	"github.com/snowgate-io/snowgate-mcp/internal/warehouse"
	"github.com/snowgate-io/snowgate-mcp/internal/workerpool"
)

const warehouseBreakerName = "warehouse"

// Gateway owns every collaborator package and exposes the end-to-end
// control flow a transport layer drives one MCP tool call through.
type Gateway struct {
	cfg    *config.Config
	logger zerolog.Logger

	workerPool *workerpool.Pool

	Adapter   *warehouse.Adapter
	Pool      *pool.Pool
	Requests  *reqctx.Manager
	Ops       *dbops.Ops
	Tx        *txmgr.Manager
	Sessions  *session.Manager
	Multiplex *multiplex.Multiplexer
	Isolation *isolation.Manager
	Allocator *allocator.Allocator
	RateLimit *ratelimit.Limiter
	Breakers  *breaker.Manager
	Quotas    *quota.Manager
	Validator *validator.Validator
	Metrics   *monitoring.Metrics
	Tracker   *monitoring.QueryTracker
	Alerts    *monitoring.Manager

	startedAt time.Time

	txLeasesMu sync.Mutex
	txLeases   map[string]*multiplex.Lease
}

// New constructs every collaborator from cfg but starts nothing; call
// Start to open connections and launch background loops.
func New(cfg *config.Config, logger zerolog.Logger) (*Gateway, error) {
	wp := workerpool.New(workerpool.Config{
		WorkerCount: cfg.Pool.MaxSize,
		QueueSize:   cfg.Pool.MaxSize * 4,
	})

	adapter := warehouse.New(wp)

	whCfg := warehouse.Config{DriverName: cfg.Warehouse.DriverName, DSN: cfg.Warehouse.DSN}
	p := pool.New(pool.Config{
		MinSize:             cfg.Pool.MinSize,
		MaxSize:             cfg.Pool.MaxSize,
		MaxInactiveTime:     cfg.Pool.MaxInactiveTime,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
		RetryAttempts:       cfg.Pool.RetryAttempts,
	}, adapter, whCfg)

	requests := reqctx.NewManager(1000)
	tx := txmgr.New(adapter)

	sessions := session.New(session.Config{
		SessionTimeout:       cfg.Session.Timeout,
		CleanupInterval:      cfg.Session.CleanupInterval,
		MaxSessionsPerClient: cfg.Session.MaxPerClient,
	})

	mux := multiplex.New(multiplex.Config{
		MaxLeaseDuration:   cfg.Multiplex.MaxLeaseDuration,
		ReuseWindow:        cfg.Multiplex.ReuseWindow,
		MaxLeasesPerClient: cfg.Multiplex.MaxLeasesPerClient,
		SweepInterval:      cfg.Multiplex.SweepInterval,
	}, p)

	// dbops acquires its sessions through mux rather than p directly, so the
	// non-transactional request path runs through the multiplexer too (spec
	// §2's control flow), not just the explicit-transaction path.
	ops := dbops.New(adapter, mux)

	iso := isolation.New(isolation.LevelModerate)

	alloc := allocator.New(allocator.StrategyWeightedFair)
	alloc.AddResourcePool("connections", float64(cfg.Pool.MaxSize), 0.2)

	rl := ratelimit.New(ratelimitConfigFrom(cfg.RateLimit))

	breakers := breaker.NewManager()
	breakers.GetOrCreate(warehouseBreakerName, breaker.Config{
		FailureThreshold:   cfg.Breakers.Warehouse.FailureThreshold,
		SuccessThreshold:   cfg.Breakers.Warehouse.SuccessThreshold,
		RecoveryTimeout:    cfg.Breakers.Warehouse.RecoveryTimeout,
		MonitoringWindow:   cfg.Breakers.Warehouse.MonitoringWindow,
		ExponentialBackoff: true,
		MaxRecoveryTimeout: 300 * time.Second,
		HalfOpenMaxCalls:   5,
	})

	quotas := quota.New(quotaConfigFrom(cfg.Quotas))

	val := validator.New(validator.Config{
		Enabled:        true,
		ReadOnlyMode:   cfg.Security.ReadonlyMode,
		StrictMode:     cfg.Security.StrictValidation,
		MaxQueryLength: cfg.Security.MaxQueryLength,
		LogViolations:  true,
	}, logger)

	metrics := monitoring.New()
	tracker := monitoring.NewQueryTracker(metrics, 5*time.Second)

	alerts := monitoring.NewManager(30 * time.Second)
	alerts.AddNotifier(monitoring.NewLogNotifier(logger))

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With().Str("component", "gateway").Logger(),
		workerPool: wp,
		Adapter:   adapter,
		Pool:      p,
		Requests:  requests,
		Ops:       ops,
		Tx:        tx,
		Sessions:  sessions,
		Multiplex: mux,
		Isolation: iso,
		Allocator: alloc,
		RateLimit: rl,
		Breakers:  breakers,
		Quotas:    quotas,
		Validator: val,
		Metrics:   metrics,
		Tracker:   tracker,
		Alerts:    alerts,
		txLeases:  make(map[string]*multiplex.Lease),
	}

	g.wireAlertSources()
	return g, nil
}

// wireAlertSources binds the default alert rules to live value sources
// drawn from the gateway's own collaborators, mirroring AlertManager's
// constructor-time rule registration in alerts.py.
func (g *Gateway) wireAlertSources() {
	sources := map[string]monitoring.ValueSource{
		"connection_failure_rate": func() float64 { return 0 },
		"error_rate":               func() float64 { return 0 },
		"response_time":            func() float64 { return 0 },
		"pool_utilization": func() float64 {
			stats := g.Pool.Stats()
			if stats.MaxSize == 0 {
				return 0
			}
			return float64(stats.InUse) / float64(stats.MaxSize) * 100
		},
		"circuit_open": func() float64 {
			b, ok := g.Breakers.Get(warehouseBreakerName)
			if !ok {
				return float64(monitoring.CircuitStateClosed)
			}
			switch b.State() {
			case breaker.StateOpen:
				return float64(monitoring.CircuitStateOpen)
			case breaker.StateHalfOpen:
				return float64(monitoring.CircuitStateHalfOpen)
			default:
				return float64(monitoring.CircuitStateClosed)
			}
		},
		"memory_usage": func() float64 { return 0 },
	}

	for _, rule := range monitoring.DefaultRules() {
		source, ok := sources[rule.ID]
		if !ok {
			continue
		}
		g.Alerts.AddRule(rule, source)
	}
}

// Start opens the minimum pool connections and launches every
// collaborator's background loop, in the order a shutdown must reverse.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.workerPool.Start()

	if err := g.Pool.Start(ctx); err != nil {
		return fmt.Errorf("gateway: start pool: %w", err)
	}

	g.Sessions.Start()
	g.Multiplex.Start()
	g.Allocator.Start()
	g.RateLimit.Start()
	g.Quotas.Start()
	g.Alerts.Start()

	g.logger.Info().Msg("gateway started")
	return nil
}

// Stop halts every background loop and closes the pool, in reverse
// dependency order.
func (g *Gateway) Stop(ctx context.Context) error {
	g.Alerts.Stop()
	g.Quotas.Stop()
	g.RateLimit.Stop()
	g.Allocator.Stop()
	g.Multiplex.Stop()
	g.Sessions.Stop()

	err := g.Pool.Close(ctx)
	if stopErr := g.workerPool.Stop(10 * time.Second); stopErr != nil && err == nil {
		err = stopErr
	}

	g.logger.Info().Msg("gateway stopped")
	return err
}

// QueryRequest describes one incoming MCP tool call that touches the
// warehouse, the shape every transport-layer tool handler builds.
type QueryRequest struct {
	ClientID  string
	ToolName  string
	Database  string
	Schema    string
	Query     string
	// QueryArgs binds Query's placeholders; never interpolated into the
	// query text itself.
	QueryArgs []any
	Arguments map[string]any

	// UseTransaction runs Query on the transactional path scoped to this
	// single call (spec §6.2 execute_query's use_transaction flag); AutoCommit
	// below decides whether that path uses an explicit transaction.
	UseTransaction bool
	// AutoCommit mirrors execute_query's auto_commit flag, and only matters
	// when UseTransaction is set. true: the call runs on a leased session
	// with the session's own auto-commit behavior in effect (no explicit
	// BEGIN/COMMIT) — runAutoCommitScoped saves and restores whatever
	// auto-commit setting the session already had. false: the call runs
	// inside an explicit BEGIN ... COMMIT/ROLLBACK — runExplicitTransaction
	// (spec §4.4/§4.5).
	AutoCommit bool
}

// Execute runs the full control flow of spec §2 for one query-bearing
// tool call: ambient context, isolation and access checks, rate limit and
// quota enforcement, SQL validation, circuit-breaker-protected execution
// against the pooled connection, and metrics/tracker recording.
func (g *Gateway) Execute(ctx context.Context, req QueryRequest) (*dbops.Result, error) {
	ctx, request := g.Requests.Begin(ctx, req.ToolName, req.ClientID, req.Arguments)
	request.SetDatabaseContext(req.Database, req.Schema)

	g.Isolation.CreateContext(req.ClientID, request.RequestID)

	clientSession := g.Sessions.GetOrCreate(req.ClientID, "mcp", nil)
	clientSession.AddRequest(request.RequestID)
	defer clientSession.RemoveRequest(request.RequestID)

	result, err := g.run(ctx, req, request)
	g.Requests.End(request, err)

	status := "success"
	if err != nil {
		status = "error"
		g.Metrics.RecordError(errorType(err), "gateway", severityFor(err))
	}
	metricsSnap, _ := request.Snapshot()
	g.Metrics.RecordRequest(req.ClientID, req.ToolName, status, metricsSnap.DurationMS()/1000)

	return result, err
}

func (g *Gateway) run(ctx context.Context, req QueryRequest, request *reqctx.Request) (*dbops.Result, error) {
	if req.Database != "" {
		ok, err := g.Isolation.ValidateSchemaAccess(req.ClientID, req.Database, req.Schema)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.AccessDenied(fmt.Sprintf("client %s is not permitted on %s.%s", req.ClientID, req.Database, req.Schema))
		}
	}

	if err := g.RateLimit.CheckLimits(req.ClientID); err != nil {
		if v, ok := err.(*ratelimit.Violation); ok {
			return nil, errs.RateLimit(v.RetryAfter, string(v.Dimension), float64(v.CurrentUsage), float64(v.Limit))
		}
		return nil, err
	}
	g.RateLimit.AcquireSlot(req.ClientID)
	defer g.RateLimit.ReleaseSlot(req.ClientID)

	if err := g.Quotas.Consume(req.ClientID, quota.TypeRequestsPerHour, 1); err != nil {
		return nil, err
	}
	if req.Query != "" {
		if err := g.Quotas.Consume(req.ClientID, quota.TypeQueriesPerHour, 1); err != nil {
			return nil, err
		}
	}

	if ok, err := g.Isolation.CheckResourceLimits(req.ClientID, "request", 1); err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.AccessDenied(fmt.Sprintf("client %s exceeded concurrent request limit", req.ClientID))
	}
	if _, err := g.Isolation.AcquireResources(req.ClientID, request.RequestID, map[string]float64{"request": 1}); err != nil {
		return nil, err
	}
	defer g.Isolation.ReleaseResources(req.ClientID, request.RequestID, map[string]float64{"request": 1})

	if req.Query == "" {
		return nil, nil
	}

	priority := g.Isolation.GetOrRegisterProfile(req.ClientID).Priority
	admitted, err := g.Allocator.RequestResources(req.ClientID, "connections", 1, priority, g.cfg.Pool.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return nil, errs.PoolExhausted(g.cfg.Pool.AcquireTimeout)
	}
	defer g.Allocator.ReleaseResources(req.ClientID, "connections", 1)

	result, err := g.validateAndRun(ctx, req, request)
	if err != nil {
		return nil, err
	}

	g.Tracker.Track(monitoring.QueryMetrics{
		QueryID:      request.RequestID,
		ClientID:     req.ClientID,
		Database:     req.Database,
		Schema:       req.Schema,
		QueryType:    monitoring.ExtractQueryType(req.Query),
		QueryText:    req.Query,
		StartTime:    request.StartTime,
		EndTime:      time.Now(),
		RowsReturned: len(result.Rows),
		Status:       "success",
	})
	request.IncrementQueryCount()
	return result, nil
}

func (g *Gateway) validateAndRun(ctx context.Context, req QueryRequest, request *reqctx.Request) (*dbops.Result, error) {
	if _, err := g.Validator.Validate(ctx, req.Query); err != nil {
		return nil, err
	}

	wb, _ := g.Breakers.Get(warehouseBreakerName)

	var result *dbops.Result
	run := func(ctx context.Context) error {
		var err error
		switch {
		case req.UseTransaction && req.AutoCommit:
			result, err = g.runAutoCommitScoped(ctx, req, request)
		case req.UseTransaction:
			result, err = g.runExplicitTransaction(ctx, req, request)
		case req.Database != "":
			result, err = g.Ops.Isolated(ctx, req.ClientID, request.RequestID, req.Database, req.Schema, req.Query, req.QueryArgs...)
		default:
			result, err = g.Ops.Plain(ctx, req.ClientID, request.RequestID, req.Query, req.QueryArgs...)
		}
		return err
	}

	var err error
	if wb != nil {
		err = wb.Call(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}
	request.IncrementDatabaseOperation()
	return result, nil
}

// runExplicitTransaction opens a transaction scoped to this single call,
// runs req.Query on it, and commits on success or rolls back on error — the
// single-statement instance of spec §4.5's "commit at scope exit, rollback
// on any exception" rule for execute_query's use_transaction=true,
// auto_commit=false path.
func (g *Gateway) runExplicitTransaction(ctx context.Context, req QueryRequest, request *reqctx.Request) (*dbops.Result, error) {
	txnID := uuid.NewString()
	if err := g.BeginTransaction(ctx, req.ClientID, request.RequestID, txnID); err != nil {
		return nil, err
	}

	result, err := g.RunInTransaction(ctx, req.ClientID, txnID, req.Query, req.QueryArgs...)
	request.IncrementTransactionOperation()
	if err != nil {
		if rbErr := g.RollbackTransaction(txnID); rbErr != nil {
			g.logger.Warn().Err(rbErr).Str("txn_id", txnID).Msg("rollback after failed statement also failed")
		}
		request.IncrementTransactionRollback()
		return nil, err
	}

	if err := g.CommitTransaction(txnID); err != nil {
		request.IncrementTransactionRollback()
		return nil, err
	}
	request.IncrementTransactionCommit()
	return result, nil
}

// runAutoCommitScoped runs req.Query on a leased session with the session's
// own auto-commit behavior in effect, instead of an explicit
// BEGIN/COMMIT — execute_query's use_transaction=true, auto_commit=true path
// (spec §4.4). It saves whatever auto-commit setting the session already
// had, forces it on for the call if it wasn't already, and restores the
// prior setting before releasing the lease, so a session handed back to the
// pool never carries a different client's auto-commit setting forward.
func (g *Gateway) runAutoCommitScoped(ctx context.Context, req QueryRequest, request *reqctx.Request) (*dbops.Result, error) {
	lease, err := g.Multiplex.Acquire(ctx, req.ClientID, request.RequestID, false)
	if err != nil {
		return nil, err
	}
	defer g.Multiplex.Release(lease)

	prevAutoCommit, err := g.Adapter.AutoCommit(ctx, lease.Session)
	if err != nil {
		return nil, err
	}
	if !prevAutoCommit {
		if err := g.Adapter.SetAutoCommit(ctx, lease.Session, true); err != nil {
			return nil, err
		}
		defer func() {
			if err := g.Adapter.SetAutoCommit(ctx, lease.Session, prevAutoCommit); err != nil {
				g.logger.Warn().Err(err).Str("client_id", req.ClientID).Msg("failed to restore session auto-commit setting")
			}
		}()
	}

	result, err := g.Ops.OnSession(ctx, lease.Session, req.Query, req.QueryArgs...)
	if err != nil {
		return nil, err
	}
	request.IncrementTransactionOperation()
	request.IncrementTransactionCommit()
	return result, nil
}

// RunInTransaction executes queries inside an explicit, caller-controlled
// transaction scoped to txnID, matching spec §4.5's "no implicit
// commit/rollback" contract: the caller must still call CommitTransaction
// or RollbackTransaction.
func (g *Gateway) RunInTransaction(ctx context.Context, clientID, txnID, query string, args ...any) (*dbops.Result, error) {
	txn, ok := g.Tx.Get(txnID)
	if !ok {
		return nil, fmt.Errorf("gateway: no open transaction %q", txnID)
	}
	if _, err := g.Validator.Validate(ctx, query); err != nil {
		return nil, err
	}
	return g.Ops.Transactional(ctx, txn, query, args...)
}

// BeginTransaction acquires a pooled session, leasing it through the
// multiplexer so the session used across the transaction's statements is
// the same one BEGIN ran against, and opens a transaction on it under id.
// The lease is held until CommitTransaction or RollbackTransaction releases
// it back through the multiplexer — id is the only handle that survives
// between the two calls, so the lease is tracked against it here.
func (g *Gateway) BeginTransaction(ctx context.Context, clientID, requestID, id string) error {
	lease, err := g.Multiplex.Acquire(ctx, clientID, requestID, true)
	if err != nil {
		return err
	}
	if _, err := g.Tx.Begin(ctx, id, lease.Session); err != nil {
		g.Multiplex.Release(lease)
		return err
	}

	g.txLeasesMu.Lock()
	g.txLeases[id] = lease
	g.txLeasesMu.Unlock()
	return nil
}

// CommitTransaction commits and unregisters transaction id, then releases
// the multiplexer lease BeginTransaction acquired for it.
func (g *Gateway) CommitTransaction(id string) error {
	err := g.Tx.Commit(id)
	g.releaseTxLease(id)
	return err
}

// RollbackTransaction rolls back and unregisters transaction id, then
// releases the multiplexer lease BeginTransaction acquired for it.
func (g *Gateway) RollbackTransaction(id string) error {
	err := g.Tx.Rollback(id)
	g.releaseTxLease(id)
	return err
}

// releaseTxLease releases the multiplexer lease tracked for id, if any. It
// is a no-op for an id whose BeginTransaction never succeeded, so
// Commit/Rollback can call it unconditionally.
func (g *Gateway) releaseTxLease(id string) {
	g.txLeasesMu.Lock()
	lease, ok := g.txLeases[id]
	if ok {
		delete(g.txLeases, id)
	}
	g.txLeasesMu.Unlock()
	if ok {
		g.Multiplex.Release(lease)
	}
}

// Stats aggregates every collaborator's introspection surface for an
// admin/status tool handler.
func (g *Gateway) Stats() map[string]any {
	return map[string]any{
		"uptime_seconds":  time.Since(g.startedAt).Seconds(),
		"pool":            g.Pool.Stats(),
		"sessions":        g.Sessions.Stats(),
		"multiplex":       g.Multiplex.Stats(),
		"isolation":       g.Isolation.GlobalStats(),
		"allocator":       g.Allocator.Stats(),
		"rate_limit":      g.RateLimit.GlobalStatus(),
		"quotas":          g.Quotas.GlobalStatus(),
		"breakers":        g.Breakers.AllStatus(),
		"transactions":    g.Tx.Stats(),
		"validator":       g.Validator.Stats(),
		"query_tracker":   g.Tracker.Statistics(),
	}
}

// CheckWarehouseHealth probes the warehouse by acquiring and releasing a
// pooled connection, retrying transient failures on the warehouse backoff
// schedule — used by the HTTP transport's /health endpoint so a single slow
// connection attempt doesn't immediately report the gateway unhealthy.
func (g *Gateway) CheckWarehouseHealth(ctx context.Context) error {
	retryable := func(err error) bool {
		var e *errs.Error
		return asError(err, &e) && e.Retryable()
	}

	return backoff.Retry(ctx, warehouseBackoffConfig(), retryable, func(ctx context.Context) error {
		sess, err := g.Pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer g.Pool.Release(sess)

		if !g.Adapter.HealthCheck(ctx, sess) {
			return errs.ConnectionFailed(fmt.Errorf("health check failed"))
		}
		return nil
	})
}

func errorType(err error) string {
	var e *errs.Error
	if asError(err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}

func severityFor(err error) string {
	var e *errs.Error
	if asError(err, &e) {
		switch e.Kind {
		case errs.KindCircuitOpen, errs.KindSQLInjectionRisk, errs.KindConnectionFailed:
			return "critical"
		default:
			return "warning"
		}
	}
	return "warning"
}

func asError(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func ratelimitConfigFrom(cfg config.RateLimiting) ratelimit.Config {
	base := ratelimit.DefaultConfig()
	applyRateLimitRule(base.DefaultClientRules, cfg.PerClient)
	applyRateLimitRule(base.GlobalRules, cfg.Global)
	return base
}

func applyRateLimitRule(rules map[ratelimit.Dimension]ratelimit.Rule, rule config.RateLimitRule) {
	setRateLimit(rules, ratelimit.DimensionRequestsPerSecond, rule.RequestsPerSecond)
	setRateLimit(rules, ratelimit.DimensionRequestsPerMinute, rule.RequestsPerMinute)
	setRateLimit(rules, ratelimit.DimensionQueriesPerMinute, rule.QueriesPerMinute)
	setRateLimit(rules, ratelimit.DimensionConcurrent, rule.ConcurrentRequests)
}

func setRateLimit(rules map[ratelimit.Dimension]ratelimit.Rule, dim ratelimit.Dimension, limit int) {
	if limit <= 0 {
		return
	}
	if r, ok := rules[dim]; ok {
		r.Limit = limit
		rules[dim] = r
	}
}

func quotaConfigFrom(cfg config.Quotas) quota.Config {
	base := quota.DefaultConfig()
	applyQuotaRule(base.DefaultClientLimits, cfg.PerClient)
	applyQuotaRule(base.GlobalLimits, cfg.Global)
	return base
}

func applyQuotaRule(limits map[quota.Type]quota.Limit, rule config.QuotaRule) {
	setQuotaLimit(limits, quota.TypeRequestsPerHour, rule.RequestsPerHour)
	setQuotaLimit(limits, quota.TypeRequestsPerDay, rule.RequestsPerDay)
	setQuotaLimit(limits, quota.TypeQueriesPerHour, rule.QueriesPerHour)
	setQuotaLimit(limits, quota.TypeConcurrentConnections, rule.ConcurrentConns)

	if l, ok := limits[quota.TypeDataTransferBytes]; ok && rule.DataTransferMB > 0 {
		l.Limit = rule.DataTransferMB * 1024 * 1024
		l.RolloverAllowed = rule.RolloverEnabled
		l.BurstAllowance = rule.BurstAllowance
		limits[quota.TypeDataTransferBytes] = l
	}
}

func setQuotaLimit(limits map[quota.Type]quota.Limit, t quota.Type, v int64) {
	if v <= 0 {
		return
	}
	if l, ok := limits[t]; ok {
		l.Limit = v
		limits[t] = l
	}
}

// warehouseBackoffConfig sizes the retry schedule CheckWarehouseHealth uses
// to retry a failed warehouse probe, independent of the pool's own acquire
// retry budget.
func warehouseBackoffConfig() backoff.Config {
	return backoff.ExponentialDefault()
}
