// Package backoff implements the backoff engine of spec §4.13: fixed,
// linear, exponential, fibonacci, and polynomial delay schedules with
// full/equal/decorrelated/ratio jitter modes, plus an adaptive wrapper
// that tunes aggressiveness to recent success/failure history.
//
// Grounded on the supplemented backoff.py (original_source) for the
// strategy set, the jitter modes, and AdaptiveBackoff's success-rate-
// driven multiplier; Backoff implements cenkalti/backoff/v4's
// BackOff interface (NextBackOff/Reset) so it drops directly into
// backoff.Retry/backoff.RetryNotify alongside internal/pool's own use of
// the same library, instead of the teacher's hand-rolled
// client/reconnect.go loop (ReconnectConfig's exponential-delay-with-cap
// shape is kept conceptually, generalized to every strategy this package
// needs).
package backoff

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"
)

// Strategy selects the delay growth curve.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
	StrategyPolynomial  Strategy = "polynomial"
)

// JitterMode selects how randomness is layered onto the computed delay.
type JitterMode string

const (
	JitterNone         JitterMode = "none"
	JitterFull         JitterMode = "full"
	JitterEqual        JitterMode = "equal"
	JitterDecorrelated JitterMode = "decorrelated"
	JitterRatio        JitterMode = "ratio"
)

// Config tunes one backoff schedule (spec §4.13).
type Config struct {
	Strategy Strategy

	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	TotalTimeout time.Duration // 0 means unbounded

	ExponentialBase     float64
	LinearIncrement     time.Duration
	PolynomialDegree    float64
	FibonacciMultiplier float64

	Jitter         JitterMode
	JitterMaxRatio float64
}

// ExponentialDefault mirrors get_default_configs()["connection_retry"].
func ExponentialDefault() Config {
	return Config{
		Strategy:        StrategyExponential,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		MaxAttempts:     5,
		ExponentialBase: 2.0,
		Jitter:          JitterFull,
	}
}

// LinearDefault mirrors get_default_configs()["rate_limit_backoff"].
func LinearDefault() Config {
	return Config{
		Strategy:        StrategyLinear,
		InitialDelay:    time.Second,
		MaxDelay:        300 * time.Second,
		MaxAttempts:     10,
		LinearIncrement: 2 * time.Second,
		Jitter:          JitterFull,
	}
}

// FibonacciDefault mirrors get_default_configs()["circuit_breaker_recovery"].
func FibonacciDefault() Config {
	return Config{
		Strategy:            StrategyFibonacci,
		InitialDelay:        5 * time.Second,
		MaxDelay:            300 * time.Second,
		MaxAttempts:         8,
		FibonacciMultiplier: 1.0,
		Jitter:              JitterDecorrelated,
	}
}

// Backoff computes successive delays for cfg.Strategy. It satisfies
// cenkalti/backoff/v4's BackOff interface.
type Backoff struct {
	cfg       Config
	attempt   int
	startTime time.Time
	rnd       *rand.Rand
}

// New builds a Backoff from cfg, ready for use as a cenkalti BackOff or
// via Wait/GetNextDelay directly.
func New(cfg Config) *Backoff {
	return &Backoff{cfg: cfg, startTime: time.Now(), rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Reset restarts the attempt counter and elapsed-time clock.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.startTime = time.Now()
}

// NextBackOff returns the next delay, or cenkaltibackoff.Stop once
// MaxAttempts or TotalTimeout is exceeded.
func (b *Backoff) NextBackOff() time.Duration {
	if b.attempt >= b.cfg.MaxAttempts {
		return cenkaltibackoff.Stop
	}
	if b.cfg.TotalTimeout > 0 && time.Since(b.startTime) >= b.cfg.TotalTimeout {
		return cenkaltibackoff.Stop
	}
	delay := b.calculateDelay(b.attempt)
	b.attempt++
	return delay
}

// GetNextDelay previews the next delay without advancing the attempt
// counter, or returns false once the schedule is exhausted.
func (b *Backoff) GetNextDelay() (time.Duration, bool) {
	if b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	if b.cfg.TotalTimeout > 0 && time.Since(b.startTime) >= b.cfg.TotalTimeout {
		return 0, false
	}
	return b.calculateDelay(b.attempt), true
}

// Wait blocks for the next delay, or returns ctx.Err() if ctx is
// cancelled first, or an error once the schedule is exhausted.
func (b *Backoff) Wait(ctx context.Context) error {
	delay := b.NextBackOff()
	if delay == cenkaltibackoff.Stop {
		return &ExhaustedError{Attempts: b.attempt, TotalTime: time.Since(b.startTime)}
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch b.cfg.Strategy {
	case StrategyFixed:
		delay = b.cfg.InitialDelay
	case StrategyLinear:
		delay = b.cfg.InitialDelay + time.Duration(attempt)*b.cfg.LinearIncrement
	case StrategyExponential:
		base := b.cfg.ExponentialBase
		if base <= 0 {
			base = 2.0
		}
		delay = time.Duration(float64(b.cfg.InitialDelay) * math.Pow(base, float64(attempt)))
	case StrategyFibonacci:
		mult := b.cfg.FibonacciMultiplier
		if mult <= 0 {
			mult = 1.0
		}
		delay = time.Duration(float64(b.cfg.InitialDelay) * mult * float64(fibonacci(attempt+1)))
	case StrategyPolynomial:
		degree := b.cfg.PolynomialDegree
		if degree <= 0 {
			degree = 2.0
		}
		delay = time.Duration(float64(b.cfg.InitialDelay) * math.Pow(float64(attempt), degree))
	default:
		delay = b.cfg.InitialDelay
	}

	if b.cfg.MaxDelay > 0 && delay > b.cfg.MaxDelay {
		delay = b.cfg.MaxDelay
	}

	if b.cfg.Jitter != "" && b.cfg.Jitter != JitterNone {
		delay = b.applyJitter(delay, attempt)
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}

func fibonacci(n int) int64 {
	if n <= 1 {
		return int64(n)
	}
	var a, b int64 = 0, 1
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (b *Backoff) applyJitter(delay time.Duration, attempt int) time.Duration {
	switch b.cfg.Jitter {
	case JitterFull:
		return time.Duration(b.rnd.Float64() * float64(delay))
	case JitterEqual:
		half := float64(delay) / 2
		return time.Duration(half + b.rnd.Float64()*half)
	case JitterDecorrelated:
		if attempt == 0 {
			return delay
		}
		lo := float64(b.cfg.InitialDelay)
		hi := float64(delay) * 3
		return time.Duration(lo + b.rnd.Float64()*(hi-lo))
	case JitterRatio:
		ratio := b.cfg.JitterMaxRatio
		if ratio <= 0 {
			ratio = 0.1
		}
		jitterAmount := float64(delay) * ratio
		return delay + time.Duration((b.rnd.Float64()*2-1)*jitterAmount)
	default:
		return delay
	}
}

// Stats reports the schedule's progress.
func (b *Backoff) Stats() map[string]any {
	return map[string]any{
		"attempt_count":       b.attempt,
		"elapsed_time":        time.Since(b.startTime).Seconds(),
		"strategy":            b.cfg.Strategy,
		"max_attempts":        b.cfg.MaxAttempts,
		"remaining_attempts":  max(0, b.cfg.MaxAttempts-b.attempt),
	}
}

// ExhaustedError reports that a backoff schedule ran out of attempts or
// time budget.
type ExhaustedError struct {
	Attempts  int
	TotalTime time.Duration
}

func (e *ExhaustedError) Error() string {
	return "backoff: schedule exhausted after " + strconv.Itoa(e.Attempts) + " attempts"
}

// Retry runs op through cenkalti's retry driver using cfg's schedule,
// retrying only while retryable(err) is true (or always, if retryable is
// nil).
func Retry(ctx context.Context, cfg Config, retryable func(error) bool, op func(context.Context) error) error {
	b := New(cfg)
	wrapped := cenkaltibackoff.WithContext(b, ctx)

	return cenkaltibackoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return cenkaltibackoff.Permanent(err)
		}
		return err
	}, wrapped)
}

// AdaptiveBackoff adjusts a base Config's aggressiveness based on recent
// outcomes: a high recent success rate shrinks delays, a low one grows
// them (spec §4.13 "adaptive" mode).
type AdaptiveBackoff struct {
	base    Config
	current Config

	successCount int64
	failureCount int64
	history      []bool
	maxHistory   int
}

// NewAdaptive builds an adaptive backoff seeded from base.
func NewAdaptive(base Config) *AdaptiveBackoff {
	return &AdaptiveBackoff{base: base, current: base, maxHistory: 100}
}

// RecordOutcome records whether the last attempt succeeded and re-tunes
// the current schedule.
func (a *AdaptiveBackoff) RecordOutcome(success bool) {
	a.history = append(a.history, success)
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}
	if success {
		a.successCount++
	} else {
		a.failureCount++
	}
	a.adapt()
}

func (a *AdaptiveBackoff) adapt() {
	if len(a.history) < 10 {
		return
	}
	window := a.history
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	var successes int
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	rate := float64(successes) / float64(len(window))

	multiplier := 1.0
	switch {
	case rate > 0.8:
		multiplier = 0.8
	case rate > 0.5:
		multiplier = 1.0
	default:
		multiplier = 1.5
	}

	adapted := a.base
	adapted.InitialDelay = time.Duration(float64(a.base.InitialDelay) * multiplier)
	adapted.MaxDelay = a.base.MaxDelay
	a.current = adapted
}

// GetBackoff returns a fresh Backoff using the current adapted config.
func (a *AdaptiveBackoff) GetBackoff() *Backoff {
	return New(a.current)
}

// Stats reports adaptive tuning state.
func (a *AdaptiveBackoff) Stats() map[string]any {
	total := a.successCount + a.failureCount
	var overallRate float64
	if total > 0 {
		overallRate = float64(a.successCount) / float64(total)
	}
	var recentRate float64
	if len(a.history) > 0 {
		var successes int
		for _, ok := range a.history {
			if ok {
				successes++
			}
		}
		recentRate = float64(successes) / float64(len(a.history))
	}
	var adaptationRatio float64
	if a.base.InitialDelay > 0 {
		adaptationRatio = float64(a.current.InitialDelay) / float64(a.base.InitialDelay)
	}

	return map[string]any{
		"total_operations":       total,
		"success_count":          a.successCount,
		"failure_count":          a.failureCount,
		"overall_success_rate":   overallRate,
		"recent_success_rate":    recentRate,
		"current_initial_delay":  a.current.InitialDelay,
		"base_initial_delay":     a.base.InitialDelay,
		"adaptation_ratio":       adaptationRatio,
	}
}
