// Package workerpool runs detached store commands on a bounded set of
// goroutines. It backs the fire-and-forget dispatch path.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one detached store command
type Task struct {
	Operation string
	Key       string
	Fn        func(context.Context) error
	Context   context.Context
}

// ResultHook observes every finished task. err is nil on success.
type ResultHook func(task Task, err error, duration time.Duration)

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
	OnResult   ResultHook
}

var (
	// ErrQueueFull is returned by Submit when no queue slot is free
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool is stopped")
)

// Pool is a fixed set of workers reading one bounded queue. Submit never
// blocks; Stop closes the queue and the workers finish whatever was
// accepted before returning.
type Pool struct {
	cfg   Config
	queue chan Task
	wg    sync.WaitGroup

	// guards closing queue against concurrent Submit
	mu     sync.RWMutex
	closed bool

	active    atomic.Int32
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a pool. Zero values in cfg get 4 workers, a 1024 slot queue
// and a no-op logger.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{cfg: cfg, queue: make(chan Task, cfg.QueueSize)}
	p.wg.Add(cfg.MaxWorkers)
	for i := 0; i < cfg.MaxWorkers; i++ {
		go p.work(i)
	}

	cfg.Logger.Debug("Worker pool started",
		zap.String("name", cfg.Name),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(id, task)
	}
}

func (p *Pool) run(workerID int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.call(task)
	elapsed := time.Since(start)

	if err != nil {
		p.failed.Add(1)
		p.cfg.Logger.Error("Detached command failed",
			zap.String("pool", p.cfg.Name),
			zap.Int("worker_id", workerID),
			zap.String("operation", task.Operation),
			zap.String("key", task.Key),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else {
		p.succeeded.Add(1)
	}

	if p.cfg.OnResult != nil {
		p.cfg.OnResult(task, err, elapsed)
	}
}

func (p *Pool) call(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Operation, r)
		}
	}()

	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return task.Fn(ctx)
}

// Submit queues a task without blocking. It returns ErrQueueFull or
// ErrStopped when the task is not accepted.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits up to timeout for accepted ones to
// finish. Workers keep draining after a timeout; only the wait is cut
// short. Calling Stop again returns nil at once.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cfg.Logger.Debug("Worker pool stopped", zap.String("name", p.cfg.Name))
		return nil
	case <-timer.C:
		p.cfg.Logger.Warn("Worker pool stop timed out",
			zap.String("name", p.cfg.Name),
			zap.Int("queued", len(p.queue)),
			zap.Int32("active", p.active.Load()))
		return fmt.Errorf("worker pool %q: %d tasks still pending after %v", p.cfg.Name, p.Stats().Pending(), timeout)
	}
}

// Stats is a point-in-time snapshot of pool counters
type Stats struct {
	Name          string
	MaxWorkers    int
	ActiveWorkers int
	QueueSize     int
	QueuedTasks   int
	Submitted     uint64
	Succeeded     uint64
	Failed        uint64
	Rejected      uint64
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:          p.cfg.Name,
		MaxWorkers:    p.cfg.MaxWorkers,
		ActiveWorkers: int(p.active.Load()),
		QueueSize:     p.cfg.QueueSize,
		QueuedTasks:   len(p.queue),
		Submitted:     p.submitted.Load(),
		Succeeded:     p.succeeded.Load(),
		Failed:        p.failed.Load(),
		Rejected:      p.rejected.Load(),
	}
}

// Pending returns accepted tasks that have not finished yet
func (s Stats) Pending() uint64 {
	done := s.Succeeded + s.Failed
	if done > s.Submitted {
		return 0
	}
	return s.Submitted - done
}
