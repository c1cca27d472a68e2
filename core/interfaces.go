package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task
	// - queueName: The name of the queue where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Queue %s] Panic: %v\nStack trace:\n%s", queueName, panicInfo, stackTrace)
}

// LoggingPanicHandler reports panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	h.Logger.Error("task panicked",
		F("queue", queueName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting recording and queue metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast: they are called on the append path.
type Metrics interface {
	// RecordSampleAppended records a sample accepted by a track input.
	//
	// Parameters:
	// - track: "video" or "audio"
	// - latency: How long the writer's append call took
	RecordSampleAppended(track string, latency time.Duration)

	// RecordSampleDropped records a sample that was not appended.
	//
	// Parameters:
	// - track: "video" or "audio"
	// - reason: Why it was dropped (e.g. "not_ready", "paused", "disabled")
	RecordSampleDropped(track string, reason string)

	// RecordRecordingFinished records the terminal outcome of a recording
	// attempt ("completed", "failed", "cancelled").
	RecordRecordingFinished(outcome string, duration time.Duration)

	// RecordLeaseWait records how long a caller waited in QueuePool.Dequeue.
	RecordLeaseWait(pool string, wait time.Duration)

	// RecordLeasesOutstanding records the number of queues currently leased.
	RecordLeasesOutstanding(pool string, outstanding int)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordSampleAppended is a no-op.
func (m *NilMetrics) RecordSampleAppended(track string, latency time.Duration) {}

// RecordSampleDropped is a no-op.
func (m *NilMetrics) RecordSampleDropped(track string, reason string) {}

// RecordRecordingFinished is a no-op.
func (m *NilMetrics) RecordRecordingFinished(outcome string, duration time.Duration) {}

// RecordLeaseWait is a no-op.
func (m *NilMetrics) RecordLeaseWait(pool string, wait time.Duration) {}

// RecordLeasesOutstanding is a no-op.
func (m *NilMetrics) RecordLeasesOutstanding(pool string, outstanding int) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any) {}

// =============================================================================
// Clock
// =============================================================================

// Clock supplies the wall time used to measure paused intervals.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }
