// Package breaker implements the circuit breaker of spec §4.11: a
// closed/open/half-open state machine per named dependency (e.g. the
// warehouse connection, or a specific query class), with a sliding-window
// failure rate, a half-open trial budget, and an exponentially-growing
// reopen timeout.
//
// Grounded on the supplemented circuit_breaker.py (original_source) for
// the state machine shape (CircuitState, failure/success thresholds,
// half-open call budget, exponential recovery-timeout growth) and the
// other_examples 1mb-dev-autobreaker reference for the idiomatic Go
// "generic Call(ctx, func() (T, error))" wrapper shape, reconciled with
// the teacher's convention of returning typed *errs.Error values instead
// of raw errors.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes one circuit breaker's thresholds (spec §4.11).
type Config struct {
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	SuccessThreshold   int
	MonitoringWindow   time.Duration
	ExponentialBackoff bool
	MaxRecoveryTimeout time.Duration
	HalfOpenMaxCalls   int
}

// DefaultConfig mirrors CircuitBreakerConfig's field defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		RecoveryTimeout:    60 * time.Second,
		SuccessThreshold:   3,
		MonitoringWindow:   60 * time.Second,
		ExponentialBackoff: true,
		MaxRecoveryTimeout: 300 * time.Second,
		HalfOpenMaxCalls:   5,
	}
}

type metrics struct {
	totalRequests    int64
	successfulCalls  int64
	failedCalls      int64
	rejectedCalls    int64
	stateChanges     int64
	lastFailure      time.Time
	lastSuccess      time.Time
	recentFailures   []time.Time
	recentSuccesses  []time.Time
}

func (m *metrics) recordSuccess(now time.Time) {
	m.successfulCalls++
	m.totalRequests++
	m.lastSuccess = now
	m.recentSuccesses = append(m.recentSuccesses, now)
}

func (m *metrics) recordFailure(now time.Time) {
	m.failedCalls++
	m.totalRequests++
	m.lastFailure = now
	m.recentFailures = append(m.recentFailures, now)
}

func (m *metrics) pruneWindow(window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	m.recentFailures = pruneBefore(m.recentFailures, cutoff)
	m.recentSuccesses = pruneBefore(m.recentSuccesses, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return ts[i:]
}

func (m *metrics) recentFailureCount(window time.Duration, now time.Time) int {
	m.pruneWindow(window, now)
	return len(m.recentFailures)
}

func (m *metrics) failureRate(window time.Duration, now time.Time) float64 {
	m.pruneWindow(window, now)
	total := len(m.recentFailures) + len(m.recentSuccesses)
	if total == 0 {
		return 0
	}
	return float64(len(m.recentFailures)) / float64(total)
}

func (m *metrics) snapshot() map[string]any {
	var successRate, failureRate float64
	if m.totalRequests > 0 {
		successRate = float64(m.successfulCalls) / float64(m.totalRequests)
		failureRate = float64(m.failedCalls) / float64(m.totalRequests)
	}
	return map[string]any{
		"total_requests":       m.totalRequests,
		"successful_requests":  m.successfulCalls,
		"failed_requests":      m.failedCalls,
		"rejected_requests":    m.rejectedCalls,
		"state_changes":        m.stateChanges,
		"success_rate":         successRate,
		"failure_rate":         failureRate,
		"recent_failure_rate":  m.failureRate(60*time.Second, time.Now()),
		"last_failure_time":    m.lastFailure,
		"last_success_time":    m.lastSuccess,
	}
}

// Breaker is one named circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	stateChangedAt time.Time
	failureCount   int
	successCount   int
	halfOpenCalls  int
	metrics        metrics
}

// New builds a breaker named name using cfg.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// Call executes fn through the breaker, rejecting with
// errs.KindCircuitOpen if the circuit is open or over its half-open call
// budget.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	if !b.canExecuteLocked() {
		b.metrics.rejectedCalls++
		retryAfter := b.retryAfterLocked()
		b.mu.Unlock()
		return errs.CircuitOpen(retryAfter, b.name)
	}
	if b.state == StateHalfOpen {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn(ctx)

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// canExecuteLocked must be called with b.mu held.
func (b *Breaker) canExecuteLocked() bool {
	now := time.Now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.stateChangedAt) >= b.recoveryTimeoutLocked() {
			b.transitionToLocked(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return b.halfOpenCalls < b.cfg.HalfOpenMaxCalls
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.recordSuccess(time.Now())

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionToLocked(StateClosed)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.metrics.recordFailure(now)

	switch b.state {
	case StateClosed:
		b.failureCount++
		recentFailures := b.metrics.recentFailureCount(b.cfg.MonitoringWindow, now)
		if b.failureCount >= b.cfg.FailureThreshold || recentFailures >= b.cfg.FailureThreshold {
			b.transitionToLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionToLocked(StateOpen)
	}
}

// transitionToLocked must be called with b.mu held.
func (b *Breaker) transitionToLocked(next State) {
	if b.state == next {
		return
	}
	b.state = next
	b.stateChangedAt = time.Now()
	b.successCount = 0
	b.halfOpenCalls = 0
	if next == StateOpen {
		b.failureCount = 0
	}
	b.metrics.stateChanges++
}

// recoveryTimeoutLocked must be called with b.mu held.
func (b *Breaker) recoveryTimeoutLocked() time.Duration {
	if !b.cfg.ExponentialBackoff {
		return b.cfg.RecoveryTimeout
	}
	maxMultiplier := float64(b.cfg.MaxRecoveryTimeout) / float64(b.cfg.RecoveryTimeout)
	multiplier := float64(int64(1) << uint(b.metrics.stateChanges/2))
	if multiplier > maxMultiplier {
		multiplier = maxMultiplier
	}
	timeout := time.Duration(float64(b.cfg.RecoveryTimeout) * multiplier)
	if timeout > b.cfg.MaxRecoveryTimeout {
		timeout = b.cfg.MaxRecoveryTimeout
	}
	return timeout
}

// retryAfterLocked must be called with b.mu held.
func (b *Breaker) retryAfterLocked() time.Duration {
	recovery := b.recoveryTimeoutLocked()
	elapsed := time.Since(b.stateChangedAt)
	remaining := recovery - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ForceOpen manually trips the circuit open.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToLocked(StateOpen)
}

// ForceClose manually resets the circuit closed.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToLocked(StateClosed)
}

// Reset clears all state and metrics back to a fresh closed circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.stateChangedAt = time.Now()
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
	b.metrics = metrics{}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status reports the full introspection view (spec §4.15 monitoring
// surface consumes this).
func (b *Breaker) Status() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := map[string]any{
		"name":                   b.name,
		"state":                  b.state,
		"state_duration_seconds": time.Since(b.stateChangedAt).Seconds(),
		"failure_count":          b.failureCount,
		"success_count":          b.successCount,
		"half_open_calls":        b.halfOpenCalls,
		"config": map[string]any{
			"failure_threshold":  b.cfg.FailureThreshold,
			"recovery_timeout":   b.cfg.RecoveryTimeout.Seconds(),
			"success_threshold":  b.cfg.SuccessThreshold,
			"monitoring_window":  b.cfg.MonitoringWindow.Seconds(),
		},
		"metrics": b.metrics.snapshot(),
	}
	if b.state == StateOpen {
		status["retry_after_seconds"] = b.retryAfterLocked().Seconds()
	}
	return status
}

// Manager owns a named set of circuit breakers.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager builds an empty breaker manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the named breaker, creating it with cfg if absent.
func (m *Manager) GetOrCreate(name string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, cfg)
	m.breakers[name] = b
	return b
}

// Get returns the named breaker if it exists.
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Remove deletes the named breaker.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.breakers[name]; !ok {
		return false
	}
	delete(m.breakers, name)
	return true
}

// AllStatus reports every breaker's status, keyed by name.
func (m *Manager) AllStatus() map[string]any {
	m.mu.Lock()
	names := make([]string, 0, len(m.breakers))
	breakers := make([]*Breaker, 0, len(m.breakers))
	for name, b := range m.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	statuses := make(map[string]any, len(names))
	for i, name := range names {
		statuses[name] = breakers[i].Status()
	}
	return map[string]any{
		"circuit_breakers": statuses,
		"total_count":      len(names),
	}
}

// ResetAll resets every managed breaker.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
}
