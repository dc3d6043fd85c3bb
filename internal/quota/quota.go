// Package quota implements the quota manager of spec §4.12: period-based
// usage caps per client and globally, with soft-limit warnings, optional
// rollover of unused quota into the next period, and a burst allowance
// above the hard limit.
//
// Grounded on the supplemented quota_manager.py (original_source) for the
// quota type set, the soft-limit/rollover/burst accounting, and the
// "check global first, then client" consume order; period resets use a
// fixed Period duration (Go has no calendar-aware next-reset-time
// computation in its standard library the way Python's datetime does, so
// HOURLY/DAILY/WEEKLY/MONTHLY become parameterized durations rather than
// wall-clock-boundary-aligned resets — documented as a deliberate
// simplification, since the spec only requires periodic reset semantics,
// not calendar alignment).
package quota

import (
	"sync"
	"time"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

// Type names one quota dimension (spec §4.12).
type Type string

const (
	TypeRequestsPerHour      Type = "requests_per_hour"
	TypeRequestsPerDay       Type = "requests_per_day"
	TypeQueriesPerHour       Type = "queries_per_hour"
	TypeQueriesPerDay        Type = "queries_per_day"
	TypeDataTransferBytes    Type = "data_transfer_bytes"
	TypeComputeSeconds       Type = "compute_seconds"
	TypeStorageBytes         Type = "storage_bytes"
	TypeConcurrentConnections Type = "concurrent_connections"
)

// Limit defines one quota's cap, reset period, and overflow handling.
type Limit struct {
	Type            Type
	Limit           int64
	Period          time.Duration // 0 means never auto-resets
	SoftLimit       int64         // 0 triggers the 80%-of-limit default
	RolloverAllowed bool
	BurstAllowance  int64
}

func (l Limit) effectiveSoftLimit() int64 {
	if l.SoftLimit > 0 {
		return l.SoftLimit
	}
	return int64(float64(l.Limit) * 0.8)
}

// usage tracks one quota's live counters.
type usage struct {
	currentUsage     int64
	peakUsage        int64
	lastReset        time.Time
	warningTriggered bool
	limitExceeded    bool
	burstUsed        int64
	rolloverBalance  int64
}

func newUsage() *usage { return &usage{lastReset: time.Now()} }

// clientQuota manages every quota type for one client.
type clientQuota struct {
	clientID string
	limits   map[Type]Limit

	mu    sync.Mutex
	usage map[Type]*usage
}

func newClientQuota(clientID string, limits map[Type]Limit) *clientQuota {
	c := &clientQuota{clientID: clientID, limits: limits, usage: make(map[Type]*usage)}
	for t := range limits {
		c.usage[t] = newUsage()
	}
	return c
}

// checkResetLocked must be called with c.mu held.
func (c *clientQuota) checkResetLocked(t Type) {
	limit := c.limits[t]
	u := c.usage[t]
	if limit.Period <= 0 {
		return
	}
	if time.Since(u.lastReset) >= limit.Period {
		c.resetLocked(t, false)
	}
}

// resetLocked must be called with c.mu held.
func (c *clientQuota) resetLocked(t Type, force bool) {
	limit := c.limits[t]
	u := c.usage[t]

	if limit.RolloverAllowed && !force {
		unused := limit.Limit - u.currentUsage
		if unused < 0 {
			unused = 0
		}
		max := limit.Limit / 2
		if unused < max {
			max = unused
		}
		u.rolloverBalance = max
	} else {
		u.rolloverBalance = 0
	}

	u.currentUsage = 0
	u.peakUsage = 0
	u.burstUsed = 0
	u.warningTriggered = false
	u.limitExceeded = false
	u.lastReset = time.Now()
}

func (c *clientQuota) availableQuotaLocked(t Type) int64 {
	limit := c.limits[t]
	u := c.usage[t]
	return limit.Limit + u.rolloverBalance + (limit.BurstAllowance - u.burstUsed)
}

// consume attempts to use amount of t, returning a *errs.Error on
// exhaustion.
func (c *clientQuota) consume(t Type, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[t]
	if !ok {
		return nil
	}
	c.checkResetLocked(t)
	u := c.usage[t]

	available := c.availableQuotaLocked(t)
	if u.currentUsage+amount > available {
		u.limitExceeded = true
		var retryAfter time.Duration
		if limit.Period > 0 {
			retryAfter = limit.Period - time.Since(u.lastReset)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return errs.QuotaExceeded(retryAfter, string(t))
	}

	u.currentUsage += amount
	if u.currentUsage > u.peakUsage {
		u.peakUsage = u.currentUsage
	}

	effectiveFloor := limit.Limit + u.rolloverBalance
	if u.currentUsage > effectiveFloor {
		u.burstUsed = u.currentUsage - effectiveFloor
	}

	if !u.warningTriggered && u.currentUsage >= limit.effectiveSoftLimit() {
		u.warningTriggered = true
	}

	return nil
}

func (c *clientQuota) checkAvailable(t Type, amount int64) (bool, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.limits[t]; !ok {
		return true, -1
	}
	c.checkResetLocked(t)
	u := c.usage[t]
	available := c.availableQuotaLocked(t)
	remaining := available - u.currentUsage
	return remaining >= amount, remaining
}

func (c *clientQuota) status(t Type) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[t]
	if !ok {
		return nil, false
	}
	c.checkResetLocked(t)
	u := c.usage[t]

	available := limit.Limit + u.rolloverBalance
	remaining := available - u.currentUsage
	var utilization float64
	if available > 0 {
		utilization = float64(u.currentUsage) / float64(available) * 100
	}

	return map[string]any{
		"quota_type":           t,
		"limit":                limit.Limit,
		"soft_limit":           limit.effectiveSoftLimit(),
		"current_usage":        u.currentUsage,
		"remaining":            remaining,
		"utilization_percent":  utilization,
		"peak_usage":           u.peakUsage,
		"burst_allowance":      limit.BurstAllowance,
		"burst_used":           u.burstUsed,
		"rollover_balance":     u.rolloverBalance,
		"warning_triggered":    u.warningTriggered,
		"limit_exceeded":       u.limitExceeded,
		"last_reset":           u.lastReset,
	}, true
}

func (c *clientQuota) allStatus() map[string]any {
	c.mu.Lock()
	types := make([]Type, 0, len(c.limits))
	for t := range c.limits {
		types = append(types, t)
	}
	c.mu.Unlock()

	out := make(map[string]any, len(types))
	for _, t := range types {
		if s, ok := c.status(t); ok {
			out[string(t)] = s
		}
	}
	return out
}

func (c *clientQuota) reset(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.limits[t]; ok {
		c.resetLocked(t, true)
	}
}

func (c *clientQuota) resetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.limits {
		c.resetLocked(t, true)
	}
}

func (c *clientQuota) lastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var latest time.Time
	for _, u := range c.usage {
		if u.lastReset.After(latest) {
			latest = u.lastReset
		}
	}
	return latest
}

// Config supplies the default per-client and global quota sets.
type Config struct {
	DefaultClientLimits map[Type]Limit
	GlobalLimits        map[Type]Limit
	InactiveTimeout     time.Duration
	CleanupInterval     time.Duration
}

// DefaultConfig mirrors _get_default_quotas/_get_global_quotas.
func DefaultConfig() Config {
	return Config{
		DefaultClientLimits: map[Type]Limit{
			TypeRequestsPerHour:  {Type: TypeRequestsPerHour, Limit: 1000, Period: time.Hour, SoftLimit: 800, BurstAllowance: 100},
			TypeRequestsPerDay:   {Type: TypeRequestsPerDay, Limit: 10000, Period: 24 * time.Hour, SoftLimit: 8000, RolloverAllowed: true},
			TypeQueriesPerHour:   {Type: TypeQueriesPerHour, Limit: 500, Period: time.Hour, SoftLimit: 400, BurstAllowance: 50},
			TypeDataTransferBytes: {Type: TypeDataTransferBytes, Limit: 1000 * 1024 * 1024, Period: 24 * time.Hour, SoftLimit: 800 * 1024 * 1024, RolloverAllowed: true},
			TypeConcurrentConnections: {Type: TypeConcurrentConnections, Limit: 10, SoftLimit: 8},
		},
		GlobalLimits: map[Type]Limit{
			TypeRequestsPerHour:       {Type: TypeRequestsPerHour, Limit: 100000, Period: time.Hour, SoftLimit: 80000},
			TypeQueriesPerHour:        {Type: TypeQueriesPerHour, Limit: 50000, Period: time.Hour, SoftLimit: 40000},
			TypeConcurrentConnections: {Type: TypeConcurrentConnections, Limit: 1000, SoftLimit: 800},
		},
		InactiveTimeout: 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Manager is the central manager for every client's and the global
// quota usage.
type Manager struct {
	cfg    Config
	global *clientQuota

	mu      sync.Mutex
	clients map[string]*clientQuota

	stop chan struct{}
	done chan struct{}
}

// New builds a quota manager from cfg.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		global:  newClientQuota("__global__", cfg.GlobalLimits),
		clients: make(map[string]*clientQuota),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background inactive-client sweep.
func (m *Manager) Start() {
	go m.cleanupLoop()
}

// Stop halts the sweep.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanupInactive()
		}
	}
}

func (m *Manager) cleanupInactive() {
	cutoff := time.Now().Add(-m.cfg.InactiveTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		if c.lastActivity().Before(cutoff) {
			delete(m.clients, id)
		}
	}
}

func (m *Manager) clientFor(clientID string) *clientQuota {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		c = newClientQuota(clientID, m.cfg.DefaultClientLimits)
		m.clients[clientID] = c
	}
	return c
}

// Consume checks the global quota first, then clientID's own quota, and
// debits both on success.
func (m *Manager) Consume(clientID string, t Type, amount int64) error {
	if _, ok := m.cfg.GlobalLimits[t]; ok {
		if err := m.global.consume(t, amount); err != nil {
			return err
		}
	}
	return m.clientFor(clientID).consume(t, amount)
}

// CheckAvailable reports whether amount of t is available for clientID
// without consuming it.
func (m *Manager) CheckAvailable(clientID string, t Type, amount int64) (bool, int64) {
	if _, ok := m.cfg.GlobalLimits[t]; ok {
		if ok, remaining := m.global.checkAvailable(t, amount); !ok {
			return false, remaining
		}
	}
	return m.clientFor(clientID).checkAvailable(t, amount)
}

// ClientStatus reports clientID's quota status, for one type if t != "",
// otherwise for all configured types.
func (m *Manager) ClientStatus(clientID string, t Type) map[string]any {
	c := m.clientFor(clientID)
	if t != "" {
		if s, ok := c.status(t); ok {
			return s
		}
		return nil
	}
	return c.allStatus()
}

// GlobalStatus reports aggregate global quota usage.
func (m *Manager) GlobalStatus() map[string]any {
	return m.global.allStatus()
}

// SetClientLimits replaces clientID's quota set with custom limits.
func (m *Manager) SetClientLimits(clientID string, limits map[Type]Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = newClientQuota(clientID, limits)
}

// ResetClient force-resets one quota type for clientID, or every type if
// t == "".
func (m *Manager) ResetClient(clientID string, t Type) {
	c := m.clientFor(clientID)
	if t == "" {
		c.resetAll()
		return
	}
	c.reset(t)
}

// Summary reports aggregate client counts and global status for the
// monitoring surface.
func (m *Manager) Summary() map[string]any {
	m.mu.Lock()
	total := len(m.clients)
	m.mu.Unlock()

	return map[string]any{
		"total_clients": total,
		"global_quotas": m.GlobalStatus(),
	}
}
