// Package workerpool provides a managed goroutine pool with configurable concurrency limits.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Pool manages a fixed number of worker goroutines that execute submitted tasks.
type Pool struct {
	workers    int
	taskQueue  chan Task
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
	running    bool
	stopped    bool
	dropOnFull bool
}

// Task represents a unit of work to be executed by the pool. Execute receives
// the pool's context, which is cancelled once Stop has drained the queue.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Result contains the outcome of a task execution.
type Result struct {
	TaskID string
	Error  error
}

// PanicError is returned for a task that panicked. The worker survives.
type PanicError struct {
	TaskID string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value)
}

// Config defines pool configuration options.
type Config struct {
	Workers    int
	QueueSize  int
	DropOnFull bool
}

// DefaultConfig returns sensible defaults for pool configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		QueueSize:  64,
		DropOnFull: false,
	}
}

// New creates a new worker pool with the specified configuration.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    cfg.Workers,
		taskQueue:  make(chan Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		dropOnFull: cfg.DropOnFull,
	}
}

// Start initializes the worker goroutines. A stopped pool cannot be restarted.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool already running")
	}
	if p.stopped {
		return fmt.Errorf("pool already stopped")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.running = true
	return nil
}

// Stop stops accepting tasks, waits for queued tasks to finish and then
// cancels the pool context.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool not running")
	}
	p.running = false
	p.stopped = true
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return nil
}

// Submit adds a task to the pool. It blocks while the queue is full unless
// the pool drops on full, and gives up when ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("pool not running")
	}

	if p.dropOnFull {
		select {
		case p.taskQueue <- task:
			return nil
		default:
			return fmt.Errorf("task queue full, task %s dropped", task.ID)
		}
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync submits a task and returns a channel that receives its result.
func (p *Pool) SubmitAsync(ctx context.Context, task Task) (<-chan Result, error) {
	resultCh := make(chan Result, 1)

	wrapped := Task{
		ID: task.ID,
		Execute: func(ctx context.Context) (err error) {
			defer func() {
				resultCh <- Result{TaskID: task.ID, Error: err}
				close(resultCh)
			}()
			return runTask(ctx, task)
		},
	}

	if err := p.Submit(ctx, wrapped); err != nil {
		return nil, err
	}
	return resultCh, nil
}

// GetQueueDepth returns the current number of tasks in the queue.
func (p *Pool) GetQueueDepth() int {
	return len(p.taskQueue)
}

// GetQueueCapacity returns the maximum capacity of the task queue.
func (p *Pool) GetQueueCapacity() int {
	return cap(p.taskQueue)
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is active.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		_ = runTask(p.ctx, task)
	}
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{TaskID: task.ID, Value: r, Stack: debug.Stack()}
		}
	}()
	return task.Execute(ctx)
}
