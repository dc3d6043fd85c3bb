package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// QueryMetrics describes one completed warehouse query, grounded on
// monitoring/query_tracker.py's QueryMetrics dataclass.
type QueryMetrics struct {
	QueryID       string
	ClientID      string
	Database      string
	Schema        string
	QueryType     string
	QueryText     string
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	RowsReturned  int
	Status        string // success, error, timeout
	ErrorMessage  string
}

// QueryPattern aggregates statistics for queries sharing a normalized
// shape (literals stripped).
type QueryPattern struct {
	PatternID       string
	NormalizedQuery string
	QueryType       string
	ExecutionCount  int64
	TotalDuration   time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	AvgRowsReturned float64
	FailureCount    int64
	LastSeen        time.Time
}

func (p *QueryPattern) update(m QueryMetrics) {
	p.ExecutionCount++
	p.TotalDuration += m.Duration
	if p.MinDuration == 0 || m.Duration < p.MinDuration {
		p.MinDuration = m.Duration
	}
	if m.Duration > p.MaxDuration {
		p.MaxDuration = m.Duration
	}
	p.AvgRowsReturned = (p.AvgRowsReturned*float64(p.ExecutionCount-1) + float64(m.RowsReturned)) / float64(p.ExecutionCount)
	if m.Status != "success" {
		p.FailureCount++
	}
	p.LastSeen = time.Now()
}

func (p *QueryPattern) avgDuration() time.Duration {
	if p.ExecutionCount == 0 {
		return 0
	}
	return p.TotalDuration / time.Duration(p.ExecutionCount)
}

func (p *QueryPattern) failureRate() float64 {
	if p.ExecutionCount == 0 {
		return 0
	}
	return float64(p.FailureCount) / float64(p.ExecutionCount)
}

var (
	whitespaceNormRe = regexp.MustCompile(`\s+`)
	stringLiteralRe  = regexp.MustCompile(`'[^']*'`)
	numericLiteralRe = regexp.MustCompile(`\b\d+\b`)
	inClauseRe       = regexp.MustCompile(`(?i)IN\s*\([^)]+\)`)
	leadingKeywordRe = regexp.MustCompile(`(?i)^\s*(SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|SHOW|DESCRIBE|EXPLAIN)`)
)

// NormalizeQuery strips literals so structurally identical queries collapse
// to the same pattern, mirroring QueryNormalizer.normalize_query.
func NormalizeQuery(query string) string {
	normalized := strings.ToUpper(strings.TrimSpace(query))
	normalized = whitespaceNormRe.ReplaceAllString(normalized, " ")
	normalized = stringLiteralRe.ReplaceAllString(normalized, "'?'")
	normalized = numericLiteralRe.ReplaceAllString(normalized, "?")
	normalized = inClauseRe.ReplaceAllString(normalized, "IN (?)")
	return normalized
}

// ExtractQueryType pulls the leading SQL keyword off a query.
func ExtractQueryType(query string) string {
	m := leadingKeywordRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(query)))
	if m == nil {
		return "UNKNOWN"
	}
	return m[1]
}

// PatternID derives a stable identifier for a normalized query, replacing
// query_tracker.py's hashlib.md5 truncation with sha256 (no corpus
// dependency needs md5's weaker guarantees here).
func PatternID(normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return hex.EncodeToString(sum[:])[:16]
}

// slowQueryDetector keeps a bounded ring of queries that crossed the slow
// threshold.
type slowQueryDetector struct {
	threshold time.Duration
	mu        sync.Mutex
	queries   []QueryMetrics
	maxKeep   int
}

func newSlowQueryDetector(threshold time.Duration) *slowQueryDetector {
	return &slowQueryDetector{threshold: threshold, maxKeep: 1000}
}

func (d *slowQueryDetector) check(m QueryMetrics) bool {
	if m.Duration < d.threshold {
		return false
	}
	d.mu.Lock()
	d.queries = append(d.queries, m)
	if len(d.queries) > d.maxKeep {
		d.queries = d.queries[len(d.queries)-d.maxKeep:]
	}
	d.mu.Unlock()
	return true
}

func (d *slowQueryDetector) recent(limit int) []QueryMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.queries) {
		limit = len(d.queries)
	}
	out := make([]QueryMetrics, limit)
	copy(out, d.queries[len(d.queries)-limit:])
	return out
}

type clientStats struct {
	queryCount     int64
	totalDuration  time.Duration
	errorCount     int64
	slowQueryCount int64
}

type databaseStats struct {
	queryCount    int64
	totalDuration time.Duration
	totalRows     int64
}

// QueryTracker is the main query-performance tracking surface (spec
// §4.15 "query pattern tracker").
type QueryTracker struct {
	metrics *Metrics

	mu            sync.Mutex
	recentQueries []QueryMetrics
	maxRecent     int
	patterns      map[string]*QueryPattern
	clientStats   map[string]*clientStats
	databaseStats map[string]*databaseStats

	slowDetector *slowQueryDetector
}

// NewQueryTracker builds a tracker that reports into metrics and flags
// queries slower than slowThreshold.
func NewQueryTracker(metrics *Metrics, slowThreshold time.Duration) *QueryTracker {
	if slowThreshold <= 0 {
		slowThreshold = 5 * time.Second
	}
	return &QueryTracker{
		metrics:       metrics,
		maxRecent:     10_000,
		patterns:      make(map[string]*QueryPattern),
		clientStats:   make(map[string]*clientStats),
		databaseStats: make(map[string]*databaseStats),
		slowDetector:  newSlowQueryDetector(slowThreshold),
	}
}

// Track records one completed query across patterns, client stats,
// database stats, the slow-query detector, and Prometheus.
func (t *QueryTracker) Track(m QueryMetrics) {
	if m.Duration == 0 && !m.EndTime.IsZero() && !m.StartTime.IsZero() {
		m.Duration = m.EndTime.Sub(m.StartTime)
	}

	t.mu.Lock()
	t.recentQueries = append(t.recentQueries, m)
	if len(t.recentQueries) > t.maxRecent {
		t.recentQueries = t.recentQueries[len(t.recentQueries)-t.maxRecent:]
	}

	normalized := NormalizeQuery(m.QueryText)
	id := PatternID(normalized)
	pattern, ok := t.patterns[id]
	if !ok {
		pattern = &QueryPattern{PatternID: id, NormalizedQuery: normalized, QueryType: m.QueryType}
		t.patterns[id] = pattern
	}
	pattern.update(m)

	cs, ok := t.clientStats[m.ClientID]
	if !ok {
		cs = &clientStats{}
		t.clientStats[m.ClientID] = cs
	}
	cs.queryCount++
	cs.totalDuration += m.Duration
	if m.Status != "success" {
		cs.errorCount++
	}

	ds, ok := t.databaseStats[m.Database]
	if !ok {
		ds = &databaseStats{}
		t.databaseStats[m.Database] = ds
	}
	ds.queryCount++
	ds.totalDuration += m.Duration
	ds.totalRows += int64(m.RowsReturned)
	t.mu.Unlock()

	if t.slowDetector.check(m) {
		t.mu.Lock()
		cs.slowQueryCount++
		t.mu.Unlock()
	}

	if t.metrics != nil {
		t.metrics.RecordQuery(m.Database, m.QueryType, m.Status, m.Duration.Seconds(), m.RowsReturned)
	}
}

// Statistics reports overall tracker state, mirroring
// get_query_statistics.
func (t *QueryTracker) Statistics() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	var totalDuration time.Duration
	byType := map[string]int{}
	byStatus := map[string]int{}
	for _, q := range t.recentQueries {
		totalDuration += q.Duration
		byType[q.QueryType]++
		byStatus[q.Status]++
	}

	avg := time.Duration(0)
	if len(t.recentQueries) > 0 {
		avg = totalDuration / time.Duration(len(t.recentQueries))
	}

	return map[string]any{
		"total_queries":      len(t.recentQueries),
		"avg_duration":       avg.Seconds(),
		"query_type_counts":  byType,
		"status_counts":      byStatus,
		"pattern_count":      len(t.patterns),
		"tracked_clients":    len(t.clientStats),
		"tracked_databases":  len(t.databaseStats),
	}
}

// ClientPerformance reports per-client aggregates, mirroring
// get_client_performance.
func (t *QueryTracker) ClientPerformance(clientID string) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.clientStats[clientID]
	if !ok {
		return nil
	}
	avg := time.Duration(0)
	if cs.queryCount > 0 {
		avg = cs.totalDuration / time.Duration(cs.queryCount)
	}
	return map[string]any{
		"query_count":      cs.queryCount,
		"avg_duration":     avg.Seconds(),
		"error_count":      cs.errorCount,
		"slow_query_count": cs.slowQueryCount,
	}
}

// TopPatterns returns the limit most frequently executed query patterns.
func (t *QueryTracker) TopPatterns(limit int) []QueryPattern {
	t.mu.Lock()
	patterns := make([]QueryPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		patterns = append(patterns, *p)
	}
	t.mu.Unlock()

	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].ExecutionCount > patterns[j].ExecutionCount
	})
	if limit > 0 && limit < len(patterns) {
		patterns = patterns[:limit]
	}
	return patterns
}

// SlowQueries returns up to limit of the most recent slow queries.
func (t *QueryTracker) SlowQueries(limit int) []QueryMetrics {
	return t.slowDetector.recent(limit)
}
