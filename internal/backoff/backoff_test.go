package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateDelay_FixedStrategyIsConstant(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: 50 * time.Millisecond, MaxAttempts: 5})
	d1 := b.calculateDelay(0)
	d2 := b.calculateDelay(3)
	assert.Equal(t, d1, d2)
	assert.Equal(t, 50*time.Millisecond, d1)
}

func TestCalculateDelay_LinearStrategyGrowsByIncrement(t *testing.T) {
	b := New(Config{Strategy: StrategyLinear, InitialDelay: 10 * time.Millisecond, LinearIncrement: 10 * time.Millisecond, MaxAttempts: 5})
	assert.Equal(t, 10*time.Millisecond, b.calculateDelay(0))
	assert.Equal(t, 30*time.Millisecond, b.calculateDelay(2))
}

func TestCalculateDelay_ExponentialStrategyDoublesByDefault(t *testing.T) {
	b := New(Config{Strategy: StrategyExponential, InitialDelay: 10 * time.Millisecond, ExponentialBase: 2.0, MaxAttempts: 10})
	assert.Equal(t, 10*time.Millisecond, b.calculateDelay(0))
	assert.Equal(t, 40*time.Millisecond, b.calculateDelay(2))
}

func TestCalculateDelay_RespectsMaxDelayCap(t *testing.T) {
	b := New(Config{Strategy: StrategyExponential, InitialDelay: 10 * time.Millisecond, ExponentialBase: 2.0, MaxDelay: 25 * time.Millisecond, MaxAttempts: 10})
	assert.Equal(t, 25*time.Millisecond, b.calculateDelay(5))
}

func TestCalculateDelay_FibonacciStrategyFollowsSequence(t *testing.T) {
	b := New(Config{Strategy: StrategyFibonacci, InitialDelay: time.Millisecond, FibonacciMultiplier: 1.0, MaxAttempts: 10})
	// fibonacci(1)=1, fibonacci(2)=1, fibonacci(3)=2, fibonacci(4)=3, fibonacci(5)=5
	assert.Equal(t, time.Millisecond, b.calculateDelay(0))
	assert.Equal(t, 2*time.Millisecond, b.calculateDelay(2))
	assert.Equal(t, 5*time.Millisecond, b.calculateDelay(4))
}

func TestCalculateDelay_PolynomialStrategyUsesDegree(t *testing.T) {
	b := New(Config{Strategy: StrategyPolynomial, InitialDelay: time.Millisecond, PolynomialDegree: 2.0, MaxAttempts: 10})
	assert.Equal(t, 4*time.Millisecond, b.calculateDelay(2))
	assert.Equal(t, 9*time.Millisecond, b.calculateDelay(3))
}

func TestApplyJitter_FullJitterStaysWithinBounds(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: 100 * time.Millisecond, Jitter: JitterFull, MaxAttempts: 5})
	for i := 0; i < 50; i++ {
		d := b.calculateDelay(0)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestApplyJitter_EqualJitterStaysAboveHalf(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: 100 * time.Millisecond, Jitter: JitterEqual, MaxAttempts: 5})
	for i := 0; i < 50; i++ {
		d := b.calculateDelay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestApplyJitter_RatioJitterStaysWithinRatio(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: 100 * time.Millisecond, Jitter: JitterRatio, JitterMaxRatio: 0.1, MaxAttempts: 5})
	for i := 0; i < 50; i++ {
		d := b.calculateDelay(0)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestNextBackOff_StopsAfterMaxAttempts(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 2})
	d1 := b.NextBackOff()
	require.NotEqual(t, -1*time.Nanosecond, d1)
	d2 := b.NextBackOff()
	require.NotEqual(t, -1*time.Nanosecond, d2)
	d3 := b.NextBackOff()
	assert.Equal(t, -1*time.Nanosecond, d3) // cenkaltibackoff.Stop
}

func TestGetNextDelay_DoesNotAdvanceAttempt(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: 5 * time.Millisecond, MaxAttempts: 3})
	d1, ok1 := b.GetNextDelay()
	d2, ok2 := b.GetNextDelay()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, d1, d2)
}

func TestReset_RestartsAttemptCounter(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 1})
	b.NextBackOff()
	_, ok := b.GetNextDelay()
	assert.False(t, ok)

	b.Reset()
	_, ok = b.GetNextDelay()
	assert.True(t, ok)
}

func TestWait_ReturnsExhaustedErrorAfterMaxAttempts(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 1})
	require.NoError(t, b.Wait(context.Background()))
	err := b.Wait(context.Background())
	require.Error(t, err)
	var exhausted *ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestWait_HonorsContextCancellation(t *testing.T) {
	b := New(Config{Strategy: StrategyFixed, InitialDelay: time.Second, MaxAttempts: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	permanentErr := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 5},
		func(error) bool { return false },
		func(context.Context) error {
			calls++
			return permanentErr
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 5},
		nil,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAdaptiveBackoff_ShrinksDelayOnHighSuccessRate(t *testing.T) {
	a := NewAdaptive(Config{Strategy: StrategyFixed, InitialDelay: 100 * time.Millisecond, MaxAttempts: 5})
	for i := 0; i < 20; i++ {
		a.RecordOutcome(true)
	}
	b := a.GetBackoff()
	assert.Less(t, b.cfg.InitialDelay, 100*time.Millisecond)
}

func TestAdaptiveBackoff_GrowsDelayOnLowSuccessRate(t *testing.T) {
	a := NewAdaptive(Config{Strategy: StrategyFixed, InitialDelay: 100 * time.Millisecond, MaxAttempts: 5})
	for i := 0; i < 20; i++ {
		a.RecordOutcome(false)
	}
	b := a.GetBackoff()
	assert.Greater(t, b.cfg.InitialDelay, 100*time.Millisecond)
}

func TestAdaptiveBackoff_StatsReportsCounts(t *testing.T) {
	a := NewAdaptive(Config{Strategy: StrategyFixed, InitialDelay: time.Millisecond, MaxAttempts: 5})
	a.RecordOutcome(true)
	a.RecordOutcome(false)
	stats := a.Stats()
	assert.Equal(t, int64(1), stats["success_count"])
	assert.Equal(t, int64(1), stats["failure_count"])
}
