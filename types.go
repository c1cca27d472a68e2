package moviewriter

import (
	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/recorder"
	"github.com/Swind/go-movie-writer/sink"
)

// Re-export commonly used types so most callers only import this package.

// MovieWriter records frames and audio into a container file.
type MovieWriter = recorder.MovieWriter

// Option configures a MovieWriter.
type Option = recorder.Option

// Delegate receives the terminal notification of a recording.
type Delegate = recorder.Delegate

// DelegateFunc adapts a function to Delegate.
type DelegateFunc = recorder.DelegateFunc

// State is the recorder lifecycle state.
type State = recorder.State

// FrameSink consumes rendered frames.
type FrameSink = sink.FrameSink

// Frame is one rendered frame.
type Frame = sink.Frame

// Broadcaster fans frames out to many sinks.
type Broadcaster = sink.Broadcaster

// QueuePool hands out serial queues as exclusive leases.
type QueuePool = core.QueuePool

// Lease is exclusive ownership of one pooled queue.
type Lease = core.Lease

// ContainerWriter creates container writer sessions.
type ContainerWriter = media.ContainerWriter

// Error sentinels, for errors.Is.
var (
	ErrConfiguration     = core.ErrConfiguration
	ErrWriter            = core.ErrWriter
	ErrCancelled         = core.ErrCancelled
	ErrResourceExhausted = core.ErrResourceExhausted
	ErrPoolClosed        = core.ErrPoolClosed
	ErrLeaseReleased     = core.ErrLeaseReleased
)

// Option constructors.
var (
	WithLogger        = recorder.WithLogger
	WithMetrics       = recorder.WithMetrics
	WithQueuePool     = recorder.WithQueuePool
	WithGPUContext    = recorder.WithGPUContext
	WithDelegate      = recorder.WithDelegate
	WithFileType      = recorder.WithFileType
	WithVideoSettings = recorder.WithVideoSettings
)

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return sink.NewBroadcaster()
}
