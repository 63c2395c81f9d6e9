package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/ecoplan/internal/metrics"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when an agent call exceeds its deadline.
var ErrTimeout = errors.New("agent call timed out")

// GuardOptions bound every call to the wrapped renderer.
type GuardOptions struct {
	Timeout time.Duration
	// Semaphore is shared by every guarded renderer so the limit is global.
	Semaphore *semaphore.Weighted
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
}

// Guard wraps a Renderer with a per-call timeout, a concurrency limit, a
// circuit breaker, a trace span and call metrics.
type Guard struct {
	next    Renderer
	timeout time.Duration
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// NewGuard wraps next.
func NewGuard(next Renderer, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Semaphore == nil {
		opts.Semaphore = semaphore.NewWeighted(4)
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("agent circuit breaker changed state", "agent", name, "from", from.String(), "to", to.String())
		},
		// Caller cancellation does not count against the agent.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Guard{
		next:    next,
		timeout: opts.Timeout,
		sem:     opts.Semaphore,
		breaker: gobreaker.NewCircuitBreaker(settings),
		tracer:  otel.Tracer("ecoplan/agent"),
	}
}

// Name implements Renderer.
func (g *Guard) Name() string { return g.next.Name() }

// Health checks the wrapped renderer when it can report health, and fails
// while the breaker is open.
func (g *Guard) Health(ctx context.Context) error {
	if g.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	if h, ok := g.next.(interface{ Health(context.Context) error }); ok {
		return h.Health(ctx)
	}
	return nil
}

// Render implements Renderer.
func (g *Guard) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	ctx, span := g.tracer.Start(ctx, "agent.render", trace.WithAttributes(
		attribute.String("agent", g.next.Name()),
		attribute.String("view", string(req.View)),
		attribute.String("session_id", req.SessionID),
		attribute.String("attempt_id", req.AttemptID),
	))
	defer span.End()

	start := time.Now()
	res, err := g.render(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrTimeout) {
			status = "timeout"
		} else if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.AgentCallTotal.WithLabelValues(g.next.Name(), string(req.View), status).Inc()
	metrics.AgentCallDuration.WithLabelValues(g.next.Name(), string(req.View)).Observe(time.Since(start).Seconds())
	return res, err
}

func (g *Guard) render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for agent slot: %w", err)
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (interface{}, error) {
		res, err := g.next.Render(callCtx, req)
		if err == nil && (res == nil || len(res.Data) == 0) {
			err = ErrNoImage
		}
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%s agent did not respond within %s: %w", req.View, g.timeout, ErrTimeout)
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	return out.(*RenderResult), nil
}
