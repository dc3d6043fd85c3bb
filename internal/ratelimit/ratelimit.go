// Package ratelimit implements the rate limiter of spec §4.10: per-client
// and global limits across multiple dimensions (requests/second,
// requests/minute, queries/minute, concurrent requests), backed by a
// token bucket for smooth per-second/per-minute limits and a sliding
// window counter for everything else.
//
// Grounded on the supplemented rate_limiter.py (original_source) for the
// dimension set and the token-bucket-vs-sliding-window split, and on the
// teacher's server/rate_limiter.go (TokenBucket, RateLimiter,
// DefaultRateLimiterConfig, background cleanup goroutine) for the Go
// concurrency shape: the teacher's single-dimension, RWMutex-protected,
// cleanup-ticker design is generalized here to multiple named dimensions
// per client plus a mirrored global limiter.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Dimension names one axis a limit can be enforced on (spec §4.10).
type Dimension string

const (
	DimensionRequestsPerSecond Dimension = "requests_per_second"
	DimensionRequestsPerMinute Dimension = "requests_per_minute"
	DimensionQueriesPerMinute  Dimension = "queries_per_minute"
	DimensionConcurrent        Dimension = "concurrent_requests"
)

// Rule is one limit: limit requests per windowSeconds, plus an optional
// burst allowance.
type Rule struct {
	Dimension      Dimension
	Limit          int
	WindowSeconds  int
	BurstAllowance int
}

// Violation reports which rule tripped and how long to wait before retry.
type Violation struct {
	Dimension    Dimension
	RetryAfter   time.Duration
	CurrentUsage int
	Limit        int
}

func (v *Violation) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (usage=%d limit=%d, retry after %s)",
		v.Dimension, v.CurrentUsage, v.Limit, v.RetryAfter)
}

// tokenBucket smooths per-second/per-minute limits (spec §4.10).
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity float64, refillRate float64) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillRate: refillRate, lastRefill: time.Now()}
}

// consume tries to take one token, returning (ok, retryAfter).
func (b *tokenBucket) consume() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}
	needed := 1.0 - b.tokens
	retryAfter := time.Duration(needed/b.refillRate*1000) * time.Millisecond
	return false, retryAfter
}

func (b *tokenBucket) available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	tokens := min(b.capacity, b.tokens+elapsed*b.refillRate)
	return int(tokens)
}

// slidingWindow enforces a "no more than N in the last window" limit.
type slidingWindow struct {
	mu         sync.Mutex
	windowSize time.Duration
	maxEvents  int
	events     []time.Time
}

func newSlidingWindow(windowSize time.Duration, maxEvents int) *slidingWindow {
	return &slidingWindow{windowSize: windowSize, maxEvents: maxEvents}
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.windowSize)
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = w.events[i:]
	}
}

func (w *slidingWindow) allow() (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.prune(now)

	if len(w.events) < w.maxEvents {
		w.events = append(w.events, now)
		return true, 0
	}
	retryAfter := w.events[0].Add(w.windowSize).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

func (w *slidingWindow) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	return len(w.events)
}

// clientLimiter holds one client's limiters across every configured
// dimension, plus its concurrent-request gauge.
type clientLimiter struct {
	clientID string
	rules    map[Dimension]Rule

	buckets  map[Dimension]*tokenBucket
	windows  map[Dimension]*slidingWindow

	mu              sync.Mutex
	concurrent      int
	totalRequests   int64
	blockedRequests int64
	lastRequest     time.Time
}

func newClientLimiter(clientID string, rules map[Dimension]Rule) *clientLimiter {
	c := &clientLimiter{
		clientID:    clientID,
		rules:       rules,
		buckets:     make(map[Dimension]*tokenBucket),
		windows:     make(map[Dimension]*slidingWindow),
		lastRequest: time.Now(),
	}
	for dim, rule := range rules {
		switch dim {
		case DimensionConcurrent:
			continue
		case DimensionRequestsPerSecond, DimensionQueriesPerMinute:
			refillRate := float64(rule.Limit) / float64(rule.WindowSeconds)
			capacity := float64(rule.Limit + rule.BurstAllowance)
			c.buckets[dim] = newTokenBucket(capacity, refillRate)
		default:
			c.windows[dim] = newSlidingWindow(time.Duration(rule.WindowSeconds)*time.Second, rule.Limit)
		}
	}
	return c
}

func (c *clientLimiter) checkLimits() error {
	c.mu.Lock()
	c.totalRequests++
	c.lastRequest = time.Now()
	concurrent := c.concurrent
	c.mu.Unlock()

	if rule, ok := c.rules[DimensionConcurrent]; ok && concurrent >= rule.Limit {
		c.bumpBlocked()
		return &Violation{Dimension: DimensionConcurrent, CurrentUsage: concurrent, Limit: rule.Limit}
	}

	for dim, bucket := range c.buckets {
		if ok, retryAfter := bucket.consume(); !ok {
			c.bumpBlocked()
			return &Violation{Dimension: dim, RetryAfter: retryAfter, Limit: c.rules[dim].Limit}
		}
	}

	for dim, window := range c.windows {
		if ok, retryAfter := window.allow(); !ok {
			c.bumpBlocked()
			return &Violation{Dimension: dim, RetryAfter: retryAfter, CurrentUsage: window.count(), Limit: c.rules[dim].Limit}
		}
	}

	return nil
}

func (c *clientLimiter) bumpBlocked() {
	c.mu.Lock()
	c.blockedRequests++
	c.mu.Unlock()
}

func (c *clientLimiter) acquireConcurrent() {
	if _, ok := c.rules[DimensionConcurrent]; !ok {
		return
	}
	c.mu.Lock()
	c.concurrent++
	c.mu.Unlock()
}

func (c *clientLimiter) releaseConcurrent() {
	if _, ok := c.rules[DimensionConcurrent]; !ok {
		return
	}
	c.mu.Lock()
	if c.concurrent > 0 {
		c.concurrent--
	}
	c.mu.Unlock()
}

func (c *clientLimiter) status() map[string]any {
	c.mu.Lock()
	total, blocked, concurrent, last := c.totalRequests, c.blockedRequests, c.concurrent, c.lastRequest
	c.mu.Unlock()

	var blockRate float64
	if total > 0 {
		blockRate = float64(blocked) / float64(total)
	}

	limits := make(map[string]any, len(c.rules))
	for dim, rule := range c.rules {
		entry := map[string]any{"limit": rule.Limit, "window_seconds": rule.WindowSeconds, "burst_allowance": rule.BurstAllowance}
		if b, ok := c.buckets[dim]; ok {
			entry["available_tokens"] = b.available()
			entry["capacity"] = b.capacity
		} else if w, ok := c.windows[dim]; ok {
			entry["current_count"] = w.count()
		} else if dim == DimensionConcurrent {
			entry["current_count"] = concurrent
		}
		limits[string(dim)] = entry
	}

	return map[string]any{
		"client_id":           c.clientID,
		"total_requests":      total,
		"blocked_requests":    blocked,
		"block_rate":          blockRate,
		"concurrent_requests": concurrent,
		"last_request_time":   last,
		"limits":              limits,
	}
}

// Config tunes the default client and global rule sets, plus cleanup
// cadence for inactive clients.
type Config struct {
	DefaultClientRules map[Dimension]Rule
	GlobalRules        map[Dimension]Rule
	InactiveTimeout    time.Duration
	CleanupInterval    time.Duration
}

// DefaultConfig mirrors _get_default_client_limits/_get_global_limits.
func DefaultConfig() Config {
	return Config{
		DefaultClientRules: map[Dimension]Rule{
			DimensionRequestsPerSecond: {Dimension: DimensionRequestsPerSecond, Limit: 10, WindowSeconds: 1, BurstAllowance: 5},
			DimensionRequestsPerMinute: {Dimension: DimensionRequestsPerMinute, Limit: 300, WindowSeconds: 60, BurstAllowance: 50},
			DimensionQueriesPerMinute:  {Dimension: DimensionQueriesPerMinute, Limit: 100, WindowSeconds: 60, BurstAllowance: 20},
			DimensionConcurrent:        {Dimension: DimensionConcurrent, Limit: 5},
		},
		GlobalRules: map[Dimension]Rule{
			DimensionRequestsPerSecond: {Dimension: DimensionRequestsPerSecond, Limit: 100, WindowSeconds: 1, BurstAllowance: 50},
			DimensionQueriesPerMinute:  {Dimension: DimensionQueriesPerMinute, Limit: 1000, WindowSeconds: 60, BurstAllowance: 200},
			DimensionConcurrent:        {Dimension: DimensionConcurrent, Limit: 50},
		},
		InactiveTimeout: time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// Limiter is the main rate limiter managing per-client and global limits.
type Limiter struct {
	cfg    Config
	global *clientLimiter

	mu      sync.RWMutex
	clients map[string]*clientLimiter

	stop chan struct{}
	done chan struct{}
}

// New builds a limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		global:  newClientLimiter("__global__", cfg.GlobalRules),
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background inactive-client cleanup loop.
func (l *Limiter) Start() {
	go l.cleanupLoop()
}

// Stop halts the cleanup loop.
func (l *Limiter) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) cleanupLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanupInactive()
		}
	}
}

func (l *Limiter) cleanupInactive() {
	cutoff := time.Now().Add(-l.cfg.InactiveTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.clients {
		c.mu.Lock()
		stale := c.lastRequest.Before(cutoff)
		c.mu.Unlock()
		if stale {
			delete(l.clients, id)
		}
	}
}

func (l *Limiter) clientFor(clientID string) *clientLimiter {
	l.mu.RLock()
	c, ok := l.clients[clientID]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[clientID]; ok {
		return c
	}
	c = newClientLimiter(clientID, l.cfg.DefaultClientRules)
	l.clients[clientID] = c
	return c
}

// CheckLimits checks both the global limiter and clientID's limiter,
// returning a *Violation (wrapped as error) on the first one that trips.
func (l *Limiter) CheckLimits(clientID string) error {
	if clientID == "" {
		clientID = "unknown"
	}

	if err := l.global.checkLimits(); err != nil {
		return err
	}
	return l.clientFor(clientID).checkLimits()
}

// AcquireSlot reserves a concurrent-request slot globally and for
// clientID. Call ReleaseSlot in a defer once the request completes.
func (l *Limiter) AcquireSlot(clientID string) {
	l.global.acquireConcurrent()
	l.clientFor(clientID).acquireConcurrent()
}

// ReleaseSlot releases a concurrent-request slot acquired by AcquireSlot.
func (l *Limiter) ReleaseSlot(clientID string) {
	l.global.releaseConcurrent()

	l.mu.RLock()
	c, ok := l.clients[clientID]
	l.mu.RUnlock()
	if ok {
		c.releaseConcurrent()
	}
}

// SetClientRules replaces clientID's rule set with custom rules.
func (l *Limiter) SetClientRules(clientID string, rules map[Dimension]Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[clientID] = newClientLimiter(clientID, rules)
}

// ClientStatus reports clientID's current usage per dimension.
func (l *Limiter) ClientStatus(clientID string) (map[string]any, bool) {
	l.mu.RLock()
	c, ok := l.clients[clientID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.status(), true
}

// GlobalStatus reports aggregate global usage.
func (l *Limiter) GlobalStatus() map[string]any {
	l.mu.RLock()
	activeClients := len(l.clients)
	l.mu.RUnlock()

	status := l.global.status()
	status["active_clients"] = activeClients
	return status
}
