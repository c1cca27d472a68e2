package moviewriter

import (
	"context"
	"image"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/recorder"
)

// =============================================================================
// Shared Queue Pool Helpers
// =============================================================================

// InitSharedQueuePool sets the capacity of the process-wide queue pool. Call
// it at startup, before the first recording: once the pool exists its size
// is fixed and this call has no effect.
func InitSharedQueuePool(size int) {
	core.SetSharedQueuePoolSize(size)
}

// SharedQueuePool returns the process-wide queue pool, creating it on first use.
func SharedQueuePool() *QueuePool {
	return core.SharedQueuePool()
}

// NewQueuePool creates a private pool of size serial queues.
func NewQueuePool(name string, size int) *QueuePool {
	return core.NewQueuePool(name, size)
}

// RunOnPooledQueue leases a queue from the shared pool, runs task on it and
// waits for it to return. It blocks while every queue is leased, until ctx
// is done, in which case the error matches ErrResourceExhausted.
func RunOnPooledQueue(ctx context.Context, task func(ctx context.Context)) error {
	return core.SharedQueuePool().WithLease(ctx, func(ctx context.Context) error {
		task(ctx)
		return nil
	})
}

// NewMovieWriter creates an idle MovieWriter recording size frames to path.
// Unless overridden with WithQueuePool it leases from the shared pool.
func NewMovieWriter(writer ContainerWriter, path string, size image.Point, opts ...Option) (*MovieWriter, error) {
	return recorder.New(writer, path, size, opts...)
}
