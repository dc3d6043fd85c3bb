// Package monitoring implements the monitoring surface of spec §4.15:
// Prometheus counters/gauges/histograms, a query-pattern performance
// tracker, and an alert-rule evaluator that can page out over AMQP.
//
// Grounded on the supplemented monitoring/metrics.py (MCPMetrics' metric
// families and convenience recording methods) for what to expose, wired
// to the corpus's own github.com/prometheus/client_golang rather than
// hand-rolled counters — that dependency already sat unused in go.mod,
// inherited from the teacher's require block with no component
// exercising it until now.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the centralized Prometheus metric set for one gateway
// instance.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ConcurrentRequests *prometheus.GaugeVec

	ConnectionPoolSize        *prometheus.GaugeVec
	ConnectionPoolUtilization prometheus.Gauge
	ConnectionAcquireDuration prometheus.Histogram
	ConnectionLeaseDuration   *prometheus.HistogramVec

	QueriesTotal        *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	QueryRowsReturned   *prometheus.HistogramVec
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram

	ActiveClients           prometheus.Gauge
	ClientSessions          *prometheus.GaugeVec
	ClientIsolationBlocked  *prometheus.CounterVec

	ResourceAllocation *prometheus.GaugeVec
	ResourceQueueSize  *prometheus.GaugeVec

	ErrorsTotal          *prometheus.CounterVec
	RateLimitHits        *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	FailedConnections    *prometheus.CounterVec

	UptimeSeconds prometheus.Gauge
}

// New builds and registers every metric family against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg}

	m.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_requests_total",
		Help: "Total number of MCP tool requests.",
	}, []string{"client_id", "tool_name", "status"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowgate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"client_id", "tool_name"})

	m.ConcurrentRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_concurrent_requests",
		Help: "Number of concurrent in-flight requests.",
	}, []string{"client_id"})

	m.ConnectionPoolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_connection_pool_size",
		Help: "Connection pool size by status.",
	}, []string{"status"})

	m.ConnectionPoolUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snowgate_connection_pool_utilization_percent",
		Help: "Connection pool utilization percentage.",
	})

	m.ConnectionAcquireDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snowgate_connection_acquisition_seconds",
		Help:    "Time to acquire a connection from the pool.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	m.ConnectionLeaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowgate_connection_lease_seconds",
		Help:    "Connection lease duration.",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	}, []string{"client_id"})

	m.QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_queries_total",
		Help: "Total number of warehouse queries.",
	}, []string{"database", "query_type", "status"})

	m.QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowgate_query_duration_seconds",
		Help:    "Warehouse query execution time.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"database", "query_type"})

	m.QueryRowsReturned = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowgate_query_rows_returned",
		Help:    "Number of rows returned by queries.",
		Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
	}, []string{"database"})

	m.TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_transactions_total",
		Help: "Total number of transactions by outcome.",
	}, []string{"status"})

	m.TransactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snowgate_transaction_duration_seconds",
		Help:    "Transaction duration.",
		Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
	})

	m.ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snowgate_active_clients",
		Help: "Number of distinct clients with an open session.",
	})

	m.ClientSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_client_sessions",
		Help: "Number of active sessions by client type.",
	}, []string{"client_type"})

	m.ClientIsolationBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_client_isolation_violations_total",
		Help: "Number of client isolation policy violations.",
	}, []string{"client_id", "violation_type"})

	m.ResourceAllocation = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_resource_allocation",
		Help: "Resource allocation per client.",
	}, []string{"client_id", "resource_type"})

	m.ResourceQueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_resource_queue_size",
		Help: "Pending resource allocation requests.",
	}, []string{"resource_type"})

	m.ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_errors_total",
		Help: "Total number of errors by type/component/severity.",
	}, []string{"error_type", "component", "severity"})

	m.RateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_rate_limit_hits_total",
		Help: "Number of rate limit violations.",
	}, []string{"client_id", "limit_type"})

	m.CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowgate_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open).",
	}, []string{"component"})

	m.FailedConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowgate_failed_connections_total",
		Help: "Number of failed connection attempts by reason.",
	}, []string{"reason"})

	m.UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snowgate_uptime_seconds",
		Help: "Server uptime in seconds.",
	})

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.ConcurrentRequests,
		m.ConnectionPoolSize, m.ConnectionPoolUtilization, m.ConnectionAcquireDuration, m.ConnectionLeaseDuration,
		m.QueriesTotal, m.QueryDuration, m.QueryRowsReturned, m.TransactionsTotal, m.TransactionDuration,
		m.ActiveClients, m.ClientSessions, m.ClientIsolationBlocked,
		m.ResourceAllocation, m.ResourceQueueSize,
		m.ErrorsTotal, m.RateLimitHits, m.CircuitBreakerState, m.FailedConnections,
		m.UptimeSeconds,
	)

	return m
}

// RecordRequest records one completed MCP tool call.
func (m *Metrics) RecordRequest(clientID, toolName, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(clientID, toolName, status).Inc()
	m.RequestDuration.WithLabelValues(clientID, toolName).Observe(duration)
}

// RecordQuery records one completed warehouse query.
func (m *Metrics) RecordQuery(database, queryType, status string, duration float64, rowsReturned int) {
	m.QueriesTotal.WithLabelValues(database, queryType, status).Inc()
	m.QueryDuration.WithLabelValues(database, queryType).Observe(duration)
	if rowsReturned > 0 {
		m.QueryRowsReturned.WithLabelValues(database).Observe(float64(rowsReturned))
	}
}

// RecordError records one error occurrence.
func (m *Metrics) RecordError(errorType, component, severity string) {
	m.ErrorsTotal.WithLabelValues(errorType, component, severity).Inc()
}

// UpdateConnectionPool mirrors update_connection_pool_metrics.
func (m *Metrics) UpdateConnectionPool(active, idle, total int) {
	m.ConnectionPoolSize.WithLabelValues("active").Set(float64(active))
	m.ConnectionPoolSize.WithLabelValues("idle").Set(float64(idle))
	m.ConnectionPoolSize.WithLabelValues("total").Set(float64(total))

	utilization := 0.0
	if total > 0 {
		utilization = float64(active) / float64(total) * 100
	}
	m.ConnectionPoolUtilization.Set(utilization)
}

// CircuitState values for the circuit-breaker state gauge (0=closed,
// 1=half_open, 2=open).
const (
	CircuitStateClosed   = 0
	CircuitStateHalfOpen = 1
	CircuitStateOpen     = 2
)

// SetCircuitBreakerState records a breaker's numeric state for component.
func (m *Metrics) SetCircuitBreakerState(component string, state float64) {
	m.CircuitBreakerState.WithLabelValues(component).Set(state)
}
