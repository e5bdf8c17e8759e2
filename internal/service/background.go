package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"viewer-backend/internal/logging"
	"viewer-backend/internal/metrics"
)

var (
	ErrBackgroundQueueFull = errors.New("background queue is full")
	ErrPoolClosed          = errors.New("background pool is shut down")
)

// Task is one unit of background work. Run receives a context bounded by the
// pool's task timeout; it is not tied to any HTTP request.
type Task struct {
	Name      string
	SessionID string
	Run       func(ctx context.Context) error
}

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
type Pool struct {
	queue   chan Task
	timeout time.Duration
	workers int

	// base is canceled only when a shutdown deadline expires.
	base   context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueSize int, taskTimeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   make(chan Task, queueSize),
		timeout: taskTimeout,
		workers: workers,
		base:    base,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for task := range p.queue {
				p.run(task)
			}
			return nil
		})
	}
}

// Submit queues t without blocking. It fails with ErrBackgroundQueueFull when
// every slot is taken.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- t:
		metrics.BackgroundTasksInFlight.Inc()
		return nil
	default:
		metrics.BackgroundTasks.WithLabelValues("rejected").Inc()
		return ErrBackgroundQueueFull
	}
}

func (p *Pool) run(t Task) {
	defer metrics.BackgroundTasksInFlight.Dec()

	ctx, cancel := context.WithTimeout(p.base, p.timeout)
	defer cancel()

	log := logging.With().Str("task", t.Name).Str("session_id", t.SessionID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("background task panicked")
		}
	}()

	if err := t.Run(ctx); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("background task failed")
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("background task finished")
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks are canceled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
