//go:build gst

package gstwriter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
)

const (
	// DefaultFinishTimeout bounds how long Finish waits for end-of-stream.
	DefaultFinishTimeout = 10 * time.Second

	// DefaultQueueDepth is how many samples an appsrc buffers before it
	// reports itself not ready.
	DefaultQueueDepth = 8

	busPollInterval = 50 * time.Millisecond
)

var initOnce sync.Once

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the writer logger.
func WithLogger(l core.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFinishTimeout sets how long Finish waits for the muxer to drain.
func WithFinishTimeout(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.finishTimeout = d
		}
	}
}

// WithQueueDepth sets the per-track appsrc depth in samples.
func WithQueueDepth(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueDepth = n
		}
	}
}

// Writer creates GStreamer-backed sessions.
type Writer struct {
	logger        core.Logger
	finishTimeout time.Duration
	queueDepth    int
}

var _ media.ContainerWriter = (*Writer)(nil)

// New initializes GStreamer on first use and returns a Writer.
func New(opts ...Option) *Writer {
	initOnce.Do(func() { gst.Init(nil) })
	w := &Writer{
		logger:        core.NewNoOpLogger(),
		finishTimeout: DefaultFinishTimeout,
		queueDepth:    DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateSession builds the mux and file sink for path. Track chains are
// added by AddInput and linked when writing starts.
func (w *Writer) CreateSession(path string, fileType media.FileType) (media.Session, error) {
	muxName, err := muxerFor(fileType)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, media.NewWriterError(media.CodeFileAlreadyExists, "create session", fmt.Errorf("%s", path))
	}
	if st, err := os.Stat(filepath.Dir(path)); err != nil || !st.IsDir() {
		return nil, media.NewWriterError(media.CodeWriteFailed, "create session",
			fmt.Errorf("output directory for %s is not usable", path))
	}

	id := uuid.New()
	pipeline, err := gst.NewPipeline("movie-writer-" + id.String()[:8])
	if err != nil {
		return nil, media.NewWriterError(media.CodeWriteFailed, "create pipeline", err)
	}
	mux, err := gst.NewElement(muxName)
	if err != nil {
		return nil, media.NewWriterError(media.CodeUnsupportedFileType, "create muxer", err)
	}
	sink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, media.NewWriterError(media.CodeWriteFailed, "create filesink", err)
	}
	if err := sink.SetProperty("location", path); err != nil {
		return nil, media.NewWriterError(media.CodeWriteFailed, "create filesink", err)
	}
	if err := pipeline.AddMany(mux, sink); err != nil {
		return nil, media.NewWriterError(media.CodeWriteFailed, "create pipeline", err)
	}
	if err := mux.Link(sink); err != nil {
		return nil, media.NewWriterError(media.CodeWriteFailed, "link muxer", err)
	}

	s := &session{
		writer:   w,
		id:       id,
		path:     path,
		fileType: fileType,
		pipeline: pipeline,
		mux:      mux,
		stop:     make(chan struct{}),
		eos:      make(chan struct{}),
	}
	w.logger.Debug("gstwriter session created",
		core.F("path", path),
		core.F("muxer", muxName),
		core.F("session", id.String()),
	)
	return s, nil
}

type session struct {
	writer   *Writer
	id       uuid.UUID
	path     string
	fileType media.FileType
	pipeline *gst.Pipeline
	mux      *gst.Element

	mu        sync.Mutex
	status    media.SessionStatus
	err       error
	inputs    []*trackInput
	metadata  []media.MetadataItem
	start     time.Duration
	finishing bool

	stop     chan struct{}
	stopOnce sync.Once
	eos      chan struct{}
	eosOnce  sync.Once
}

func (s *session) AddInput(mediaType media.MediaType, settings media.InputSettings) (media.TrackInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != media.StatusUnknown {
		return nil, media.NewWriterError(media.CodeSessionNotRunning, "add input",
			errors.New("inputs must be added before writing starts"))
	}
	switch mediaType {
	case media.MediaTypeVideo:
		if settings.Video == nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add video input",
				errors.New("video settings are required"))
		}
		if err := settings.Video.Validate(); err != nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add video input", err)
		}
		if _, err := videoCodec(settings.Video.Codec); err != nil {
			return nil, err
		}
	case media.MediaTypeAudio:
		if settings.Audio == nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add audio input",
				errors.New("audio settings are required"))
		}
		if err := settings.Audio.Validate(); err != nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add audio input", err)
		}
		if _, err := audioCodec(settings.Audio.Codec); err != nil {
			return nil, err
		}
	default:
		return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add input",
			fmt.Errorf("media type %d", int(mediaType)))
	}
	in := &trackInput{session: s, mediaType: mediaType, settings: settings}
	s.inputs = append(s.inputs, in)
	return in, nil
}

func (s *session) NewPixelBufferAdaptor(input media.TrackInput) (media.PixelBufferAdaptor, error) {
	in, ok := input.(*trackInput)
	if !ok || in.session != s || in.mediaType != media.MediaTypeVideo {
		return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "pixel buffer adaptor",
			errors.New("input is not a video input of this session"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != media.StatusUnknown {
		return nil, media.NewWriterError(media.CodeSessionNotRunning, "pixel buffer adaptor",
			errors.New("adaptors must be created before writing starts"))
	}
	in.raw = true
	return &pixelAdaptor{input: in}, nil
}

func (s *session) SetMetadata(items []media.MetadataItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == media.StatusUnknown {
		s.metadata = append([]media.MetadataItem(nil), items...)
	}
}

// StartWriting builds and links one chain per input, then sets the pipeline
// playing.
func (s *session) StartWriting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != media.StatusUnknown {
		return media.NewWriterError(media.CodeSessionNotRunning, "start writing",
			fmt.Errorf("status is %s", s.status))
	}
	if len(s.inputs) == 0 {
		return media.NewWriterError(media.CodeInvalidSourceMedia, "start writing", errors.New("no inputs"))
	}
	tagged := false
	for _, in := range s.inputs {
		var tags string
		if in.mediaType == media.MediaTypeVideo && !tagged {
			tags = tagString(s.metadata, orientation(in.settings.Transform))
			tagged = true
		}
		if err := s.buildChain(in, tags); err != nil {
			s.failLocked(err)
			return err
		}
	}
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		err = media.NewWriterError(media.CodeWriteFailed, "start pipeline", err)
		s.failLocked(err)
		return err
	}
	s.status = media.StatusWriting
	go s.watchBus()
	return nil
}

func (s *session) buildChain(in *trackInput, tags string) error {
	src, err := app.NewAppSrc()
	if err != nil {
		return media.NewWriterError(media.CodeWriteFailed, "create appsrc", err)
	}
	src.SetProperty("format", int(gst.FormatTime))
	src.SetProperty("is-live", in.settings.ExpectsRealTime)
	src.SetProperty("block", false)
	in.src = src
	in.ready.Store(true)
	src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc:   func(*app.Source, uint) { in.ready.Store(true) },
		EnoughDataFunc: func(*app.Source) { in.ready.Store(false) },
	})

	var chain []*gst.Element
	switch in.mediaType {
	case media.MediaTypeVideo:
		v := in.settings.Video
		codec, _ := videoCodec(v.Codec)
		if in.raw {
			in.format = media.PixelFormatRGBA
			src.SetCaps(gst.NewCapsFromString(rawVideoCaps(v, in.format)))
			src.SetProperty("max-bytes", uint64(v.Width*v.Height*4*s.writer.queueDepth))
			convert, err := gst.NewElement("videoconvert")
			if err != nil {
				return media.NewWriterError(media.CodeEncoderNotFound, "create videoconvert", err)
			}
			enc, err := firstElement(codec.encoders)
			if err != nil {
				return err
			}
			if v.BitRate > 0 {
				enc.SetProperty("bitrate", uint(v.BitRate/1000))
			}
			if in.settings.ExpectsRealTime {
				enc.SetProperty("tune", 4) // zerolatency
			}
			chain = append(chain, convert, enc)
		} else {
			src.SetCaps(gst.NewCapsFromString(codec.caps))
		}
		parse, err := gst.NewElement(codec.parser)
		if err != nil {
			return media.NewWriterError(media.CodeEncoderNotFound, "create "+codec.parser, err)
		}
		chain = append(chain, parse)
		if tags != "" {
			inject, err := gst.NewElement("taginject")
			if err != nil {
				return media.NewWriterError(media.CodeWriteFailed, "create taginject", err)
			}
			inject.SetProperty("tags", tags)
			chain = append(chain, inject)
		}

	case media.MediaTypeAudio:
		a := in.settings.Audio
		codec, _ := audioCodec(a.Codec)
		src.SetCaps(gst.NewCapsFromString(rawAudioCaps(a)))
		convert, err := gst.NewElement("audioconvert")
		if err != nil {
			return media.NewWriterError(media.CodeEncoderNotFound, "create audioconvert", err)
		}
		resample, err := gst.NewElement("audioresample")
		if err != nil {
			return media.NewWriterError(media.CodeEncoderNotFound, "create audioresample", err)
		}
		enc, err := firstElement(codec.encoders)
		if err != nil {
			return err
		}
		if a.BitRate > 0 {
			enc.SetProperty("bitrate", a.BitRate)
		}
		chain = append(chain, convert, resample, enc)
	}

	all := append([]*gst.Element{src.Element}, chain...)
	if err := s.pipeline.AddMany(all...); err != nil {
		return media.NewWriterError(media.CodeWriteFailed, "add "+in.mediaType.String()+" chain", err)
	}
	if err := gst.ElementLinkMany(append(all, s.mux)...); err != nil {
		return media.NewWriterError(media.CodeWriteFailed, "link "+in.mediaType.String()+" chain", err)
	}
	return nil
}

func firstElement(factories []string) (*gst.Element, error) {
	var lastErr error
	for _, name := range factories {
		el, err := gst.NewElement(name)
		if err == nil {
			return el, nil
		}
		lastErr = err
	}
	return nil, media.NewWriterError(media.CodeEncoderNotFound, "create encoder",
		fmt.Errorf("none of %v available: %w", factories, lastErr))
}

// watchBus turns pipeline errors into session failures and signals
// end-of-stream to Finish.
func (s *session) watchBus() {
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.eosOnce.Do(func() { close(s.eos) })
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.writer.logger.Error("gstwriter pipeline error",
				core.F("path", s.path),
				core.F("error", gerr.Error()),
				core.F("debug", gerr.DebugString()),
			)
			s.mu.Lock()
			s.failLocked(media.NewWriterError(classify(gerr.Error()), "pipeline", errors.New(gerr.Error())))
			s.mu.Unlock()
			s.eosOnce.Do(func() { close(s.eos) })
			return
		}
	}
}

func (s *session) StartSessionAtSourceTime(t time.Duration) {
	s.mu.Lock()
	s.start = t
	s.mu.Unlock()
}

func (s *session) Status() media.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish ends every appsrc stream and waits for the muxer to write its
// trailer before calling completion.
func (s *session) Finish(completion func()) {
	s.mu.Lock()
	switch {
	case s.finishing, s.status == media.StatusCompleted, s.status == media.StatusCancelled:
		s.mu.Unlock()
		notify(completion)
		return
	case s.status == media.StatusUnknown:
		s.failLocked(media.NewWriterError(media.CodeSessionNotRunning, "finish", nil))
		s.mu.Unlock()
		notify(completion)
		return
	}
	s.finishing = true
	failed := s.status == media.StatusFailed
	for _, in := range s.inputs {
		if !in.finished && !failed {
			in.src.EndStream()
		}
		in.finished = true
	}
	s.mu.Unlock()

	go func() {
		if !failed {
			select {
			case <-s.eos:
			case <-time.After(s.writer.finishTimeout):
				s.mu.Lock()
				s.failLocked(media.NewWriterError(media.CodeWriteFailed, "finish",
					fmt.Errorf("no end-of-stream after %s", s.writer.finishTimeout)))
				s.mu.Unlock()
			}
		}
		s.shutdown()
		s.mu.Lock()
		if s.status == media.StatusWriting {
			s.status = media.StatusCompleted
			s.writer.logger.Debug("gstwriter session completed", core.F("path", s.path))
		}
		s.mu.Unlock()
		if completion != nil {
			completion()
		}
	}()
}

func notify(completion func()) {
	if completion != nil {
		go completion()
	}
}

func (s *session) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			s.writer.logger.Warn("gstwriter: stop pipeline failed", core.F("path", s.path), core.F("error", err))
		}
	})
}

func (s *session) Cancel() {
	s.mu.Lock()
	switch s.status {
	case media.StatusCompleted, media.StatusCancelled:
		s.mu.Unlock()
		return
	}
	s.status = media.StatusCancelled
	s.err = media.NewWriterError(media.CodeCancelled, "cancel", nil)
	s.finishing = true
	s.mu.Unlock()

	s.shutdown()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.writer.logger.Warn("gstwriter: remove cancelled output failed", core.F("path", s.path), core.F("error", err))
	}
}

func (s *session) failLocked(err error) {
	if s.status == media.StatusFailed || s.status == media.StatusCancelled {
		return
	}
	s.status = media.StatusFailed
	s.err = err
	s.writer.logger.Error("gstwriter session failed", core.F("path", s.path), core.F("error", media.Describe(err)))
}

// push validates the readiness contract and hands data to the input's appsrc.
func (s *session) push(in *trackInput, data []byte, pts, dur time.Duration, keyframe bool) bool {
	s.mu.Lock()
	switch {
	case s.status != media.StatusWriting, s.finishing:
		s.mu.Unlock()
		return false
	case in.finished:
		s.failLocked(media.NewWriterError(media.CodeInputFinished, "append "+in.mediaType.String(), nil))
		s.mu.Unlock()
		return false
	case !in.ready.Load():
		s.failLocked(media.NewWriterError(media.CodeInputNotReady, "append "+in.mediaType.String(), nil))
		s.mu.Unlock()
		return false
	case in.hasLast && pts <= in.lastPTS:
		s.failLocked(media.NewWriterError(media.CodeMediaDiscontinuity, "append "+in.mediaType.String(),
			fmt.Errorf("pts %s after %s", pts, in.lastPTS)))
		s.mu.Unlock()
		return false
	}
	in.lastPTS, in.hasLast = pts, true
	start := s.start
	s.mu.Unlock()

	if pts < start {
		return true
	}
	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(pts - start)
	if dur > 0 {
		buf.SetDuration(dur)
	}
	if !keyframe && in.mediaType == media.MediaTypeVideo && !in.raw {
		buf.SetFlags(gst.BufferFlagDeltaUnit)
	}
	if ret := in.src.PushBuffer(buf); ret != gst.FlowOK {
		s.mu.Lock()
		s.failLocked(media.NewWriterError(media.CodeWriteFailed, "append "+in.mediaType.String(),
			fmt.Errorf("appsrc returned %v", ret)))
		s.mu.Unlock()
		return false
	}
	return true
}

type trackInput struct {
	session   *session
	mediaType media.MediaType
	settings  media.InputSettings
	raw       bool
	src       *app.Source
	ready     atomic.Bool

	// guarded by session.mu
	format   media.PixelFormat
	finished bool
	lastPTS  time.Duration
	hasLast  bool
}

func (in *trackInput) MediaType() media.MediaType { return in.mediaType }

func (in *trackInput) ReadyForMoreMediaData() bool {
	s := in.session
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == media.StatusWriting && !in.finished && in.ready.Load()
}

func (in *trackInput) Append(sample *media.SampleBuffer) bool {
	if sample == nil || !sample.IsValid() || sample.MediaType() != in.mediaType {
		return false
	}
	var data []byte
	switch in.mediaType {
	case media.MediaTypeAudio:
		data = s16le(sample.Samples())
	default:
		if in.raw {
			return false
		}
		data = append([]byte(nil), sample.Data()...)
	}
	return in.session.push(in, data, sample.PresentationTime(), sample.Duration(), sample.Keyframe())
}

func (in *trackInput) MarkAsFinished() {
	s := in.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.finished || in.src == nil {
		in.finished = true
		return
	}
	in.finished = true
	if s.status == media.StatusWriting {
		in.src.EndStream()
	}
}

type pixelAdaptor struct {
	input *trackInput
}

func (a *pixelAdaptor) Input() media.TrackInput { return a.input }

func (a *pixelAdaptor) Append(buf *media.PixelBuffer, pts time.Duration) bool {
	in := a.input
	if buf == nil {
		return false
	}
	v := in.settings.Video
	if buf.Width != v.Width || buf.Height != v.Height {
		in.session.mu.Lock()
		in.session.failLocked(media.NewWriterError(media.CodeInvalidSourceMedia, "append pixel buffer",
			fmt.Errorf("buffer %dx%d, track %dx%d", buf.Width, buf.Height, v.Width, v.Height)))
		in.session.mu.Unlock()
		return false
	}
	in.session.mu.Lock()
	if buf.Format != in.format {
		in.format = buf.Format
		in.src.SetCaps(gst.NewCapsFromString(rawVideoCaps(v, buf.Format)))
	}
	in.session.mu.Unlock()

	var dur time.Duration
	if v.FrameRate > 0 {
		dur = time.Duration(float64(time.Second) / v.FrameRate)
	}
	return in.session.push(in, append([]byte(nil), packed(buf)...), pts, dur, true)
}
