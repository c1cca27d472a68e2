package media

import (
	"sync/atomic"
	"time"
)

// Ownership states who releases a sample buffer's backing storage once the
// writer has consumed it.
type Ownership int

const (
	// CallerOwned: the caller keeps its reference and releases it itself.
	// The consumer never mutates caller storage.
	CallerOwned Ownership = iota
	// TransferOnConsume: the caller hands its reference over; the consumer
	// releases it right after the writer consumed the sample (or dropped it).
	TransferOnConsume
)

func (o Ownership) String() string {
	if o == TransferOnConsume {
		return "transfer_on_consume"
	}
	return "caller_owned"
}

// storage is the reference-counted backing store shared by sample headers.
type storage struct {
	samples []int16
	data    []byte
	refs    atomic.Int32
	onFree  func()
}

func (s *storage) release() {
	if s.refs.Add(-1) == 0 {
		s.samples = nil
		s.data = nil
		if s.onFree != nil {
			s.onFree()
		}
	}
}

// SampleBuffer is a timestamped media sample: interleaved PCM audio or one
// pre-encoded video access unit. Headers share reference-counted storage;
// the storage is invalidated once every header has been released.
type SampleBuffer struct {
	mediaType  MediaType
	pts        time.Duration
	duration   time.Duration
	channels   int
	sampleRate int
	keyframe   bool

	st *storage
}

// NewAudioSampleBuffer wraps interleaved 16-bit PCM. The returned buffer
// holds one reference.
func NewAudioSampleBuffer(pts time.Duration, samples []int16, channels, sampleRate int) *SampleBuffer {
	if channels < 1 {
		channels = 1
	}
	st := &storage{samples: samples}
	st.refs.Store(1)
	b := &SampleBuffer{
		mediaType:  MediaTypeAudio,
		pts:        pts,
		channels:   channels,
		sampleRate: sampleRate,
		st:         st,
	}
	if sampleRate > 0 {
		b.duration = time.Duration(b.NumSamples()) * time.Second / time.Duration(sampleRate)
	}
	return b
}

// NewEncodedVideoSampleBuffer wraps one encoded video access unit.
func NewEncodedVideoSampleBuffer(pts, duration time.Duration, data []byte, keyframe bool) *SampleBuffer {
	st := &storage{data: data}
	st.refs.Store(1)
	return &SampleBuffer{
		mediaType: MediaTypeVideo,
		pts:       pts,
		duration:  duration,
		keyframe:  keyframe,
		st:        st,
	}
}

// OnInvalidate registers fn to run when the backing storage is freed.
func (b *SampleBuffer) OnInvalidate(fn func()) { b.st.onFree = fn }

func (b *SampleBuffer) MediaType() MediaType            { return b.mediaType }
func (b *SampleBuffer) PresentationTime() time.Duration { return b.pts }
func (b *SampleBuffer) Duration() time.Duration         { return b.duration }
func (b *SampleBuffer) Channels() int                   { return b.channels }
func (b *SampleBuffer) SampleRate() int                 { return b.sampleRate }
func (b *SampleBuffer) Keyframe() bool                  { return b.keyframe }

// Samples returns the interleaved PCM, or nil once invalidated.
func (b *SampleBuffer) Samples() []int16 { return b.st.samples }

// Data returns the encoded payload, or nil once invalidated.
func (b *SampleBuffer) Data() []byte { return b.st.data }

// NumSamples returns the number of frames per channel.
func (b *SampleBuffer) NumSamples() int {
	return len(b.st.samples) / b.channels
}

// IsValid reports whether the backing storage is still alive.
func (b *SampleBuffer) IsValid() bool {
	return b.st.refs.Load() > 0
}

// CopyWithTiming returns a new header sharing this buffer's storage with a
// different presentation time. The copy holds its own reference.
func (b *SampleBuffer) CopyWithTiming(pts time.Duration) *SampleBuffer {
	b.st.refs.Add(1)
	return &SampleBuffer{
		mediaType:  b.mediaType,
		pts:        pts,
		duration:   b.duration,
		channels:   b.channels,
		sampleRate: b.sampleRate,
		keyframe:   b.keyframe,
		st:         b.st,
	}
}

// Clone returns an independent deep copy with a fresh reference.
func (b *SampleBuffer) Clone() *SampleBuffer {
	st := &storage{}
	if b.st.samples != nil {
		st.samples = append([]int16(nil), b.st.samples...)
	}
	if b.st.data != nil {
		st.data = append([]byte(nil), b.st.data...)
	}
	st.refs.Store(1)
	return &SampleBuffer{
		mediaType:  b.mediaType,
		pts:        b.pts,
		duration:   b.duration,
		channels:   b.channels,
		sampleRate: b.sampleRate,
		keyframe:   b.keyframe,
		st:         st,
	}
}

// Retain adds a reference held by a new owner of the same header.
// Each Retain must be matched by a Release.
func (b *SampleBuffer) Retain() *SampleBuffer {
	b.st.refs.Add(1)
	return b
}

// Release drops one reference. Releasing more often than the buffer was
// created, copied or retained corrupts the count.
func (b *SampleBuffer) Release() {
	b.st.release()
}

// PixelFormat is the byte order of a PixelBuffer.
type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
)

func (f PixelFormat) String() string {
	if f == PixelFormatBGRA {
		return "BGRA"
	}
	return "RGBA"
}

// PixelBuffer is one uncompressed video frame.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// NewPixelBuffer allocates a tightly packed w×h buffer.
func NewPixelBuffer(w, h int, format PixelFormat) *PixelBuffer {
	return &PixelBuffer{
		Width:  w,
		Height: h,
		Stride: w * 4,
		Format: format,
		Data:   make([]byte, w*h*4),
	}
}
