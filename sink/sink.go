// Package sink defines the contract between a render graph and the consumers
// of its frames, such as the movie writer or an on-screen view.
package sink

import (
	"time"

	"github.com/Swind/go-movie-writer/gpu"
)

// Frame is one rendered frame delivered to a sink.
type Frame struct {
	Framebuffer *gpu.Framebuffer
	Timestamp   time.Duration
	Rotation    gpu.Rotation
}

// FrameSink consumes rendered frames.
//
// Producers must check Enabled before forwarding a frame; NewFrame must not
// block waiting for the sink's downstream, a sink that cannot keep up drops.
type FrameSink interface {
	// SetInputRotation records the rotation that applies to subsequent frames.
	SetInputRotation(rotation gpu.Rotation)

	// NewFrame delivers one frame.
	NewFrame(frame Frame)

	// Enabled reports whether the sink currently wants frames.
	Enabled() bool
}
