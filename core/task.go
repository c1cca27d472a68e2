package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// Queue: Define task submission interface
// =============================================================================

// Queue is the interface for posting tasks onto a serial execution context.
// Tasks posted to the same Queue never run concurrently and run in FIFO order.
type Queue interface {
	Name() string
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)
	Sync(ctx context.Context, task Task) error
}

// RepeatingTaskHandle controls the lifecycle of a repeating task
type RepeatingTaskHandle interface {
	Stop()
	IsStopped() bool
}

// =============================================================================
// Context Helper
// =============================================================================
type currentQueueKeyType struct{}

var currentQueueKey currentQueueKeyType

// GetCurrentQueue returns the queue executing the task that owns ctx,
// or nil when ctx did not come from a queued task.
func GetCurrentQueue(ctx context.Context) Queue {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(currentQueueKey); v != nil {
		return v.(Queue)
	}
	return nil
}
