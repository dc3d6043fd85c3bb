package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_ReturnsValueFromWorker(t *testing.T) {
	p := New(Config{WorkerCount: 2, QueueSize: 4})
	p.Start()
	defer p.Stop(time.Second)

	v, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSubmit_PropagatesWorkerError(t *testing.T) {
	p := New(Config{WorkerCount: 1, QueueSize: 1})
	p.Start()
	defer p.Stop(time.Second)

	want := errors.New("boom")
	_, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, want
	})
	assert.ErrorIs(t, err, want)
}

func TestSubmit_BeforeStartErrors(t *testing.T) {
	p := New(Config{WorkerCount: 1, QueueSize: 1})
	_, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestSubmit_ReturnsWhenCallerContextCancelled(t *testing.T) {
	p := New(Config{WorkerCount: 1, QueueSize: 1})
	p.Start()
	defer p.Stop(time.Second)

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()

	// Let the first submission occupy the only worker, then submit a second
	// one whose caller context is cancelled before the worker is free.
	time.Sleep(10 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after context cancellation")
	}
	close(release)
}

func TestStop_WaitsForWorkersToDrain(t *testing.T) {
	p := New(Config{WorkerCount: 2, QueueSize: 2})
	p.Start()
	assert.NoError(t, p.Stop(time.Second))
}

func TestStop_IsIdempotentWhenNeverStarted(t *testing.T) {
	p := New(Config{WorkerCount: 1, QueueSize: 1})
	assert.NoError(t, p.Stop(time.Second))
}
