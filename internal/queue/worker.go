package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nomnom/receiver/internal/metrics"
)

var (
	// ErrQueueFull is returned when the dispatcher buffer is saturated
	ErrQueueFull = errors.New("dispatcher queue full")
	// ErrDispatcherClosed is returned after Shutdown has been called
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrNoHandler is returned for task types without a registered handler
	ErrNoHandler = errors.New("no handler registered for task type")
)

// Task is a unit of background work
type Task struct {
	Type    string
	Payload []byte
}

// NewTask creates a task of the given type
func NewTask(typeName string, payload []byte) *Task {
	return &Task{Type: typeName, Payload: payload}
}

// HandlerFunc processes one task
type HandlerFunc func(ctx context.Context, t *Task) error

// ErrorHandler is called for every task that returns an error or panics
type ErrorHandler interface {
	HandleError(ctx context.Context, t *Task, err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler
type ErrorHandlerFunc func(ctx context.Context, t *Task, err error)

// HandleError implements ErrorHandler
func (f ErrorHandlerFunc) HandleError(ctx context.Context, t *Task, err error) {
	f(ctx, t, err)
}

// Config contains configuration for the dispatcher
type Config struct {
	// Concurrency is the number of worker goroutines
	Concurrency int
	// QueueSize bounds how many tasks may wait; Enqueue fails fast beyond it
	QueueSize int
	// ShutdownTimeout bounds how long Shutdown drains queued work
	ShutdownTimeout time.Duration
	ErrorHandler    ErrorHandler
	Logger          *slog.Logger
}

// Dispatcher is an in-process bounded worker pool. Tasks are dropped rather
// than blocking the caller when the queue is full, and nothing survives a
// process restart.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool

	tasks           chan *Task
	concurrency     int
	shutdownTimeout time.Duration
	errorHandler    ErrorHandler
	logger          *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewDispatcher creates a dispatcher; call Start to launch workers
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Concurrency * 16
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = ErrorHandlerFunc(func(ctx context.Context, t *Task, err error) {
			logger.Error("task processing error",
				"task_type", t.Type,
				"error", err,
			)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handlers:        make(map[string]HandlerFunc),
		tasks:           make(chan *Task, cfg.QueueSize),
		concurrency:     cfg.Concurrency,
		shutdownTimeout: cfg.ShutdownTimeout,
		errorHandler:    cfg.ErrorHandler,
		logger:          cfg.Logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// HandleFunc registers the handler for a task type
func (d *Dispatcher) HandleFunc(typeName string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typeName] = handler
}

// Start launches the worker goroutines. It does not block.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	d.logger.Info("starting dispatcher",
		"concurrency", d.concurrency,
		"queue_size", cap(d.tasks),
	)

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
}

// Enqueue hands a task to the pool without blocking
func (d *Dispatcher) Enqueue(t *Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, ok := d.handlers[t.Type]; !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Type)
	}

	select {
	case d.tasks <- t:
		metrics.SetQueueDepth(len(d.tasks))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of tasks waiting for a worker
func (d *Dispatcher) Len() int {
	return len(d.tasks)
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()

	for t := range d.tasks {
		metrics.SetQueueDepth(len(d.tasks))
		if d.ctx.Err() != nil {
			d.logger.Warn("dropping task after shutdown timeout", "worker", id, "task_type", t.Type)
			continue
		}
		d.process(t)
	}
}

func (d *Dispatcher) process(t *Task) {
	d.mu.RLock()
	handler := d.handlers[t.Type]
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			d.errorHandler.HandleError(d.ctx, t, fmt.Errorf("panic in %s handler: %v", t.Type, r))
		}
	}()

	if err := handler(d.ctx, t); err != nil {
		d.errorHandler.HandleError(d.ctx, t, err)
	}
}

// Shutdown stops accepting tasks and waits for queued work to drain.
// Work still queued when ShutdownTimeout expires is dropped.
func (d *Dispatcher) Shutdown() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	started := d.started
	d.mu.Unlock()

	d.logger.Info("shutting down dispatcher", "pending", len(d.tasks))
	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-timer.C:
		remaining := len(d.tasks)
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher shutdown timed out after %s with %d tasks undrained", d.shutdownTimeout, remaining)
	}
}
