package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type funcRenderer struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

func (f *funcRenderer) Name() string { return f.name }

func (f *funcRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func okImage() *RenderResult {
	return &RenderResult{Image: Image{Data: []byte("img"), MIMEType: "image/png"}}
}

func TestGuardPassesResultThrough(t *testing.T) {
	r := &funcRenderer{name: "ok", fn: func(context.Context, RenderRequest) (*RenderResult, error) {
		return okImage(), nil
	}}
	g := NewGuard(r, GuardOptions{})

	res, err := g.Render(context.Background(), RenderRequest{View: ViewBlueprint})
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), res.Data)
	assert.Equal(t, "ok", g.Name())
}

func TestGuardTimeout(t *testing.T) {
	r := &funcRenderer{name: "slow", fn: func(ctx context.Context, _ RenderRequest) (*RenderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := NewGuard(r, GuardOptions{Timeout: 20 * time.Millisecond})

	_, err := g.Render(context.Background(), RenderRequest{View: ViewExterior})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "exterior agent did not respond")
}

func TestGuardCallerCancelIsNotTimeout(t *testing.T) {
	r := &funcRenderer{name: "slow", fn: func(ctx context.Context, _ RenderRequest) (*RenderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := NewGuard(r, GuardOptions{Timeout: time.Minute, FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Render(ctx, RenderRequest{View: ViewBlueprint})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)

	// A cancelled call must not open the breaker.
	r.fn = func(context.Context, RenderRequest) (*RenderResult, error) { return okImage(), nil }
	_, err = g.Render(context.Background(), RenderRequest{View: ViewBlueprint})
	assert.NoError(t, err)
}

func TestGuardEmptyResult(t *testing.T) {
	r := &funcRenderer{name: "empty", fn: func(context.Context, RenderRequest) (*RenderResult, error) {
		return &RenderResult{}, nil
	}}
	_, err := NewGuard(r, GuardOptions{}).Render(context.Background(), RenderRequest{View: ViewBlueprint})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestGuardBreakerOpens(t *testing.T) {
	boom := errors.New("boom")
	r := &funcRenderer{name: "flaky", fn: func(context.Context, RenderRequest) (*RenderResult, error) {
		return nil, boom
	}}
	g := NewGuard(r, GuardOptions{FailureThreshold: 2, OpenTimeout: time.Hour})

	for range 2 {
		_, err := g.Render(context.Background(), RenderRequest{View: ViewBlueprint})
		require.ErrorIs(t, err, boom)
	}
	_, err := g.Render(context.Background(), RenderRequest{View: ViewBlueprint})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, r.calls.Load())
	assert.ErrorIs(t, g.Health(context.Background()), gobreaker.ErrOpenState)
}

type healthRenderer struct {
	funcRenderer
	err error
}

func (h *healthRenderer) Health(context.Context) error { return h.err }

func TestGuardHealth(t *testing.T) {
	assert.NoError(t, NewGuard(PlaceholderRenderer{}, GuardOptions{}).Health(context.Background()))

	down := errors.New("agent not serving")
	g := NewGuard(&healthRenderer{funcRenderer: funcRenderer{name: "grpc"}, err: down}, GuardOptions{})
	assert.ErrorIs(t, g.Health(context.Background()), down)
}

func TestGuardSharedSemaphore(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		highest int
	)
	release := make(chan struct{})
	r := &funcRenderer{name: "busy", fn: func(context.Context, RenderRequest) (*RenderResult, error) {
		mu.Lock()
		active++
		highest = max(highest, active)
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return okImage(), nil
	}}
	sem := semaphore.NewWeighted(1)
	a := NewGuard(r, GuardOptions{Semaphore: sem})
	b := NewGuard(r, GuardOptions{Semaphore: sem})

	var wg sync.WaitGroup
	for _, g := range []*Guard{a, b, a} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Render(context.Background(), RenderRequest{View: ViewIsometric})
		}()
	}
	for range 3 {
		release <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, 1, highest)
	assert.EqualValues(t, 3, r.calls.Load())
}
