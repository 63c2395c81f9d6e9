// Package worker runs background generation tasks on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ashureev/ecoplan/internal/metrics"
)

var (
	// ErrQueueFull is returned when the queue cannot accept more tasks.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrStopped is returned once the pool is shutting down.
	ErrStopped = errors.New("worker pool is stopped")
)

// Task is a unit of background work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context)

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 64}
}

// Pool is a fixed set of goroutines draining a buffered queue.
type Pool struct {
	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts the workers.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("Worker pool started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return p
}

// Submit queues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- t:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.WorkerTasksRejected.Inc()
		return fmt.Errorf("%w: %d tasks waiting", ErrQueueFull, cap(p.queue))
	}
}

// Stop rejects new tasks, cancels running ones and waits for the workers to
// exit or ctx to expire. Tasks still queued are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		if p.ctx.Err() != nil {
			continue
		}
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	t(p.ctx)
}
