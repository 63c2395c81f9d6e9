package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolRunsTasks(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 8}, nil)

	var n atomic.Int32
	done := make(chan struct{}, 5)
	for range 5 {
		require.NoError(t, p.Submit(func(context.Context) {
			n.Add(1)
			done <- struct{}{}
		}))
	}
	for range 5 {
		<-done
	}
	assert.EqualValues(t, 5, n.Load())
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolQueueFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	defer func() { _ = p.Stop(context.Background()) }()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(func(context.Context) {}))

	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
	close(release)
}

func TestPoolStopCancelsRunningTasks(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	<-cancelled

	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrStopped)
	assert.NoError(t, p.Stop(ctx))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 2}, nil)

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { close(done) }))
	<-done
	require.NoError(t, p.Stop(context.Background()))
}
