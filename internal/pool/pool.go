// Package pool implements the connection pool of spec §4.2: a bounded
// (MaxSize) set of warehouse.Session values, MinSize of them opened at
// Start, idle ones health-checked on an interval and retired when unhealthy
// or idle too long, and acquired with a bounded timeout and retry/backoff.
// Sessions removed by the maintenance loop are not reopened by it; the pool
// grows again only through Acquire.
//
// It is grounded on the teacher's PoolConfig (server/types.go) for the
// sizing knobs, generalized from database/sql's own pool (which the
// teacher delegates to) into an explicit pool this package owns, because
// spec §4.2 requires maintenance behavior database/sql does not expose
// (forced minimum size, external health checks, acquire backoff/retry).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/warehouse"
)

// Config mirrors the teacher's PoolConfig, extended with the sizing and
// timing knobs spec §4.2 calls for.
type Config struct {
	MinSize             int
	MaxSize             int
	MaxInactiveTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	RetryAttempts       int
}

// entry is one pooled connection plus the bookkeeping the maintenance loop
// needs.
type entry struct {
	session  *warehouse.Session
	lastUsed time.Time
	inUse    bool
}

// Pool owns a set of warehouse sessions opened against a single Config.
type Pool struct {
	cfg     Config
	adapter *warehouse.Adapter
	whCfg   warehouse.Config

	mu      sync.Mutex
	entries []*entry
	closed  bool

	stopMaintenance chan struct{}
	maintenanceDone chan struct{}
}

// Stats reports pool occupancy for the monitoring surface (spec §4.15).
type Stats struct {
	Size      int
	InUse     int
	Idle      int
	MaxSize   int
	MinSize   int
}

// New constructs a pool. Call Start to open the minimum connections and
// launch the maintenance loop.
func New(cfg Config, adapter *warehouse.Adapter, whCfg warehouse.Config) *Pool {
	return &Pool{
		cfg:             cfg,
		adapter:         adapter,
		whCfg:           whCfg,
		stopMaintenance: make(chan struct{}),
		maintenanceDone: make(chan struct{}),
	}
}

// Start opens MinSize connections and launches the background maintenance
// loop (health checks + idle retirement). A failed warmup attempt is
// skipped rather than aborting the whole pool; it is not logged here, and
// Start returns the first such error only if every attempt failed and zero
// sessions opened.
func (p *Pool) Start(ctx context.Context) error {
	opened := 0
	var firstErr error
	for i := 0; i < p.cfg.MinSize; i++ {
		sess, err := p.adapter.OpenSession(ctx, p.whCfg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.mu.Lock()
		p.entries = append(p.entries, &entry{session: sess, lastUsed: time.Now()})
		p.mu.Unlock()
		opened++
	}

	if opened == 0 && p.cfg.MinSize > 0 {
		return firstErr
	}

	go p.maintenanceLoop()
	return nil
}

// Acquire returns a pooled session, opening a new one if under MaxSize, or
// waiting (with backoff) up to AcquireTimeout for one to free up.
func (p *Pool) Acquire(ctx context.Context) (*warehouse.Session, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	acquireCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.RetryAttempts)),
		acquireCtx,
	)

	var sess *warehouse.Session
	op := func() error {
		s, err := p.tryAcquire(acquireCtx)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		if acquireCtx.Err() != nil {
			return nil, errs.PoolExhausted(p.cfg.AcquireTimeout)
		}
		return nil, err
	}
	return sess, nil
}

// tryAcquire attempts one non-blocking pass: reuse an idle entry, open a
// fresh one under MaxSize, or report exhaustion (triggering the caller's
// backoff retry).
func (p *Pool) tryAcquire(ctx context.Context) (*warehouse.Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.PoolClosed()
	}

	for _, e := range p.entries {
		if !e.inUse {
			e.inUse = true
			e.lastUsed = time.Now()
			p.mu.Unlock()
			return e.session, nil
		}
	}

	if len(p.entries) >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, errs.PoolExhausted(0)
	}
	p.mu.Unlock()

	sess, err := p.adapter.OpenSession(ctx, p.whCfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.adapter.CloseSession(ctx, sess)
		return nil, errs.PoolClosed()
	}
	p.entries = append(p.entries, &entry{session: sess, lastUsed: time.Now(), inUse: true})
	p.mu.Unlock()
	return sess, nil
}

// Release returns session to the pool for reuse.
func (p *Pool) Release(session *warehouse.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.session == session {
			e.inUse = false
			e.lastUsed = time.Now()
			return
		}
	}
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Size: len(p.entries), MaxSize: p.cfg.MaxSize, MinSize: p.cfg.MinSize}
	for _, e := range p.entries {
		if e.inUse {
			s.InUse++
		} else {
			s.Idle++
		}
	}
	return s
}

// Close stops the maintenance loop and closes every pooled session.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	close(p.stopMaintenance)
	<-p.maintenanceDone

	var firstErr error
	for _, e := range entries {
		if err := p.adapter.CloseSession(ctx, e.session); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maintenanceLoop health-checks idle sessions, removing unhealthy ones, and
// retires connections that have been idle longer than MaxInactiveTime
// while more than MinSize idle sessions remain (spec §4.2 "Idle
// retirement"). Removed sessions are not replaced.
func (p *Pool) maintenanceLoop() {
	defer close(p.maintenanceDone)

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMaintenance:
			return
		case <-ticker.C:
			p.runMaintenance()
		}
	}
}

func (p *Pool) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HealthCheckInterval)
	defer cancel()

	p.mu.Lock()
	candidates := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.inUse {
			candidates = append(candidates, e)
		}
	}
	keepMin := p.cfg.MinSize
	totalIdle := len(candidates)
	p.mu.Unlock()

	for _, e := range candidates {
		if !p.adapter.HealthCheck(ctx, e.session) {
			p.removeEntry(ctx, e)
			totalIdle--
			continue
		}

		if totalIdle > keepMin && time.Since(e.lastUsed) > p.cfg.MaxInactiveTime {
			p.removeEntry(ctx, e)
			totalIdle--
		}
	}
}

func (p *Pool) removeEntry(ctx context.Context, target *entry) {
	p.mu.Lock()
	for i, e := range p.entries {
		if e == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.adapter.CloseSession(ctx, target.session)
}
