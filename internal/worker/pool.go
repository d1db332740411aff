// Package worker runs background tasks on a small supervised pool. Submission
// never blocks the caller: a saturated pool rejects work instead of queueing
// it without bound. Task errors and panics are logged and counted by the pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrClosed    = errors.New("worker pool closed")
)

// Task is a unit of background work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context) error

// Pool is a fixed set of workers reading from a bounded queue.
type Pool struct {
	size    int
	queue   chan Task
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a pool of size workers with room for queueDepth waiting tasks.
// clock times the tasks.
func New(size, queueDepth int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Pool{
		size:    size,
		queue:   make(chan Task, queueDepth),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Start launches the workers. Tasks run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(p.size)
	for range p.size {
		go p.work(ctx)
	}
	p.logger.Info("worker pool started", "workers", p.size, "queue_depth", cap(p.queue))
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	// The gauge is raised before the send so a worker's Dec never runs first.
	p.metrics.WorkerQueueDepth.Inc()
	select {
	case p.queue <- t:
		return nil
	default:
		p.metrics.WorkerQueueDepth.Dec()
		p.metrics.WorkerTasks.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Stop rejects further submissions, cancels running tasks and waits for the
// workers to exit or ctx to expire. Queued tasks that have not started are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop worker pool: %w", ctx.Err())
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for t := range p.queue {
		p.metrics.WorkerQueueDepth.Dec()
		if ctx.Err() != nil {
			p.metrics.WorkerTasks.WithLabelValues("dropped").Inc()
			continue
		}
		p.run(ctx, t)
	}
}

func (p *Pool) run(ctx context.Context, t Task) {
	start := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.WorkerTasks.WithLabelValues("panic").Inc()
			p.logger.Error("background task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := t(ctx); err != nil {
		p.metrics.WorkerTasks.WithLabelValues("error").Inc()
		p.logger.Error("background task failed", "error", err, "duration", p.clock.Since(start))
		return
	}
	p.metrics.WorkerTasks.WithLabelValues("success").Inc()
	p.logger.Debug("background task done", "duration", p.clock.Since(start))
}
