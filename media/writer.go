// Package media defines the container-writer collaborator used by the movie
// writer: sessions, typed track inputs, sample and pixel buffers.
//
// A session accepts timestamped samples on one or more track inputs and
// muxes them into a single file. Each input exposes a readiness signal that
// callers must poll before every append; appending to an input that is not
// ready is a caller error and may fail the session.
package media

import (
	"time"

	"github.com/Swind/go-movie-writer/gpu"
)

// MediaType identifies the kind of samples a track carries.
type MediaType int

const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus int

const (
	StatusUnknown SessionStatus = iota
	StatusWriting
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s SessionStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusWriting:
		return "writing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// ContainerWriter opens sessions.
type ContainerWriter interface {
	// CreateSession opens a session writing fileType to path.
	CreateSession(path string, fileType FileType) (Session, error)
}

// InputSettings configures a track input.
type InputSettings struct {
	Video *VideoSettings
	Audio *AudioSettings

	// Transform is stored as the track's display orientation.
	Transform gpu.AffineTransform

	// ExpectsRealTime tells the writer that samples arrive from a live source.
	ExpectsRealTime bool
}

// Session is one container file being written.
type Session interface {
	// AddInput creates a track input. Only valid before StartWriting.
	AddInput(mediaType MediaType, settings InputSettings) (TrackInput, error)

	// NewPixelBufferAdaptor wraps a video input for raw pixel buffers.
	NewPixelBufferAdaptor(input TrackInput) (PixelBufferAdaptor, error)

	// SetMetadata attaches container-level metadata. Only valid before StartWriting.
	SetMetadata(items []MetadataItem)

	// StartWriting moves the session to StatusWriting.
	StartWriting() error

	// StartSessionAtSourceTime anchors the output timeline: samples before t are trimmed.
	StartSessionAtSourceTime(t time.Duration)

	// Finish flushes buffered samples, finalizes the file and then calls
	// completion from a writer goroutine. Status is Completed or Failed by then.
	Finish(completion func())

	// Cancel aborts writing and removes the partial file.
	Cancel()

	Status() SessionStatus

	// Err returns the failure once Status is StatusFailed.
	Err() error
}

// TrackInput is one typed channel into a Session.
type TrackInput interface {
	MediaType() MediaType

	// ReadyForMoreMediaData is the backpressure signal.
	ReadyForMoreMediaData() bool

	// Append hands sample to the writer. The writer retains the sample if it
	// keeps it past the call. A false return means the sample was rejected;
	// check the session status to learn whether the session failed.
	Append(sample *SampleBuffer) bool

	// MarkAsFinished declares that no more samples will be appended.
	MarkAsFinished()
}

// PixelBufferAdaptor appends raw pixel buffers to a video input.
type PixelBufferAdaptor interface {
	Input() TrackInput
	Append(buf *PixelBuffer, pts time.Duration) bool
}

// MetadataItem is a container-level key/value entry.
type MetadataItem struct {
	Key   string
	Value string
}
