package core

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueClosed is returned by Sync when the queue no longer accepts tasks.
var ErrQueueClosed = errors.New("serial queue is closed")

const defaultSerialQueueBuffer = 100

// SerialQueue binds a dedicated Goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same Goroutine (Thread Affinity).
//
// Use cases:
// 1. Owning the GPU context for the lifetime of a recording
// 2. Leased background work from a QueuePool
// 3. Serializing appends to a single container-writer session
type SerialQueue struct {
	// Task queue: Buffered channel for tasks
	workQueue chan Task

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool

	name         string
	panicHandler PanicHandler
	metrics      Metrics
}

// SerialQueueOption configures a SerialQueue.
type SerialQueueOption func(*SerialQueue)

// WithPanicHandler routes recovered task panics to h.
func WithPanicHandler(h PanicHandler) SerialQueueOption {
	return func(q *SerialQueue) {
		if h != nil {
			q.panicHandler = h
		}
	}
}

// WithQueueMetrics records task panics on m.
func WithQueueMetrics(m Metrics) SerialQueueOption {
	return func(q *SerialQueue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithBuffer sets how many tasks may wait before PostTask blocks the sender.
func WithBuffer(n int) SerialQueueOption {
	return func(q *SerialQueue) {
		if n > 0 {
			q.workQueue = make(chan Task, n)
		}
	}
}

// NewSerialQueue creates and starts a new SerialQueue.
// It immediately spawns a dedicated goroutine for task execution.
func NewSerialQueue(name string, opts ...SerialQueueOption) *SerialQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &SerialQueue{
		workQueue:    make(chan Task, defaultSerialQueueBuffer),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		name:         name,
		panicHandler: &DefaultPanicHandler{},
		metrics:      &NilMetrics{},
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.runLoop()

	return q
}

// Name returns the name of the queue
func (q *SerialQueue) Name() string {
	return q.name
}

// PostTask submits a task for execution. Tasks posted after Stop are dropped.
func (q *SerialQueue) PostTask(task Task) {
	if q.closed.Load() {
		return
	}

	select {
	case <-q.ctx.Done():
		return
	case q.workQueue <- task:
	}
}

// PostDelayedTask submits a task after delay.
// Uses time.AfterFunc which is independent of the queue's own loop.
func (q *SerialQueue) PostDelayedTask(task Task, delay time.Duration) {
	if q.closed.Load() {
		return
	}
	time.AfterFunc(delay, func() {
		q.PostTask(task)
	})
}

// PostRepeatingTask submits a task that repeats at a fixed interval until the
// returned handle is stopped or the queue is stopped.
func (q *SerialQueue) PostRepeatingTask(task Task, interval time.Duration) RepeatingTaskHandle {
	h := &repeatingHandle{queue: q, task: task, interval: interval}
	q.PostTask(h.createRepeatingTask())
	return h
}

// Sync runs task on the queue and waits for it to return.
//
// When ctx belongs to a task already running on this queue the task runs
// inline, so nested Sync calls cannot deadlock.
func (q *SerialQueue) Sync(ctx context.Context, task Task) error {
	if GetCurrentQueue(ctx) == Queue(q) {
		task(ctx)
		return nil
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	done := make(chan struct{})
	q.PostTask(func(taskCtx context.Context) {
		defer close(done)
		task(taskCtx)
	})

	select {
	case <-done:
		return nil
	case <-q.stopped:
		// The task may have raced the shutdown; report it only if it never ran.
		select {
		case <-done:
			return nil
		default:
			return ErrQueueClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until all currently queued tasks have completed execution.
func (q *SerialQueue) WaitIdle(ctx context.Context) error {
	return q.Sync(ctx, func(context.Context) {})
}

// IsClosed returns true if the queue has been stopped
func (q *SerialQueue) IsClosed() bool {
	return q.closed.Load()
}

// Stop stops the queue and waits for the running task (if any) to finish.
// Tasks still buffered are discarded.
func (q *SerialQueue) Stop() {
	q.once.Do(func() {
		q.closed.Store(true)
		q.cancel()
		<-q.stopped
	})
}

// runLoop is the core of this queue, it occupies a dedicated goroutine
func (q *SerialQueue) runLoop() {
	defer close(q.stopped)

	runCtx := context.WithValue(q.ctx, currentQueueKey, Queue(q))

	for {
		select {
		case task := <-q.workQueue:
			q.execute(runCtx, task)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *SerialQueue) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.RecordTaskPanic(q.name, r)
			q.panicHandler.HandlePanic(ctx, q.name, r, debug.Stack())
		}
	}()
	task(ctx)
}

// =============================================================================
// Repeating Task Handle
// =============================================================================

type repeatingHandle struct {
	queue    *SerialQueue
	task     Task
	interval time.Duration
	stopped  atomic.Bool
}

func (h *repeatingHandle) Stop() {
	h.stopped.Store(true)
}

func (h *repeatingHandle) IsStopped() bool {
	return h.stopped.Load()
}

func (h *repeatingHandle) createRepeatingTask() Task {
	return func(ctx context.Context) {
		if h.queue.IsClosed() || h.IsStopped() {
			return
		}

		h.task(ctx)

		if !h.IsStopped() && !h.queue.IsClosed() {
			h.queue.PostDelayedTask(h.createRepeatingTask(), h.interval)
		}
	}
}
