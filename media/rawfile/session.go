package rawfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
)

// DefaultTrackBuffer is how many samples a track input holds before it
// reports itself not ready.
const DefaultTrackBuffer = 8

// Option configures a Writer.
type Option func(*Writer)

// WithTrackBuffer sets the per-track buffer depth.
func WithTrackBuffer(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.trackBuffer = n
		}
	}
}

// WithLogger sets the writer logger.
func WithLogger(l core.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBeforeWrite installs a hook run by the muxer goroutine before each
// sample is written.
func WithBeforeWrite(fn func(media.MediaType)) Option {
	return func(w *Writer) { w.beforeWrite = fn }
}

// Writer creates rawfile sessions.
type Writer struct {
	trackBuffer int
	logger      core.Logger
	beforeWrite func(media.MediaType)
}

var _ media.ContainerWriter = (*Writer)(nil)

// New returns a Writer.
func New(opts ...Option) *Writer {
	w := &Writer{
		trackBuffer: DefaultTrackBuffer,
		logger:      core.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateSession opens path for writing. The file must not exist yet.
func (w *Writer) CreateSession(path string, fileType media.FileType) (media.Session, error) {
	if fileType != media.FileTypeRaw {
		return nil, media.NewWriterError(media.CodeUnsupportedFileType, "create session",
			fmt.Errorf("rawfile writes %q, got %q", media.FileTypeRaw, fileType))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		code := media.CodeWriteFailed
		if errors.Is(err, os.ErrExist) {
			code = media.CodeFileAlreadyExists
		}
		return nil, media.NewWriterError(code, "create session", err)
	}
	s := &session{
		writer:   w,
		id:       uuid.New(),
		path:     path,
		fileType: fileType,
		file:     f,
		out:      bufio.NewWriterSize(f, 1<<20),
		muxDone:  make(chan struct{}),
		abort:    make(chan struct{}),
	}
	w.logger.Debug("rawfile session created", core.F("path", path), core.F("session", s.id.String()))
	return s, nil
}

type pending struct {
	input   *trackInput
	kind    uint8
	pts     time.Duration
	dur     time.Duration
	sample  *media.SampleBuffer
	payload []byte
}

type session struct {
	writer   *Writer
	id       uuid.UUID
	path     string
	fileType media.FileType
	file     *os.File
	out      *bufio.Writer

	mu        sync.Mutex
	status    media.SessionStatus
	err       error
	inputs    []*trackInput
	metadata  []media.MetadataItem
	start     time.Duration
	finishing bool
	records   chan pending
	muxDone   chan struct{}
	abort     chan struct{}
	lastPTS   time.Duration
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
		if settings.Video != nil {
			if err := settings.Video.Validate(); err != nil {
				return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add video input", err)
			}
		}
	case media.MediaTypeAudio:
		if settings.Audio == nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add audio input",
				errors.New("audio settings are required"))
		}
		if err := settings.Audio.Validate(); err != nil {
			return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add audio input", err)
		}
		if settings.Audio.Codec != "aac" && settings.Audio.Codec != "pcm" {
			return nil, media.NewWriterError(media.CodeEncoderNotFound, "add audio input",
				fmt.Errorf("codec %q", settings.Audio.Codec))
		}
	default:
		return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "add input",
			fmt.Errorf("media type %d", int(mediaType)))
	}
	in := &trackInput{
		session:   s,
		id:        len(s.inputs),
		mediaType: mediaType,
		settings:  settings,
		capacity:  s.writer.trackBuffer,
	}
	s.inputs = append(s.inputs, in)
	return in, nil
}

func (s *session) NewPixelBufferAdaptor(input media.TrackInput) (media.PixelBufferAdaptor, error) {
	in, ok := input.(*trackInput)
	if !ok || in.session != s || in.mediaType != media.MediaTypeVideo {
		return nil, media.NewWriterError(media.CodeInvalidSourceMedia, "pixel buffer adaptor",
			errors.New("input is not a video input of this session"))
	}
	return &pixelAdaptor{input: in}, nil
}

func (s *session) SetMetadata(items []media.MetadataItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == media.StatusUnknown {
		s.metadata = append([]media.MetadataItem(nil), items...)
	}
}

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

	h := Header{
		SessionID: s.id.String(),
		FileType:  s.fileType,
		CreatedAt: time.Now().UTC(),
		Metadata:  s.metadata,
	}
	capacity := 0
	for _, in := range s.inputs {
		h.Tracks = append(h.Tracks, TrackHeader{
			ID:              in.id,
			Type:            in.mediaType.String(),
			Video:           in.settings.Video,
			Audio:           in.settings.Audio,
			Transform:       in.settings.Transform,
			ExpectsRealTime: in.settings.ExpectsRealTime,
		})
		capacity += in.capacity
	}
	if err := writeHeader(s.out, h); err != nil {
		s.failLocked(media.NewWriterError(media.CodeWriteFailed, "write header", err))
		return s.err
	}

	s.records = make(chan pending, capacity)
	s.status = media.StatusWriting
	go s.mux()
	return nil
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

func (s *session) Finish(completion func()) {
	s.mu.Lock()
	switch {
	case s.finishing, s.status == media.StatusCompleted, s.status == media.StatusCancelled:
		s.mu.Unlock()
		notify(completion)
		return
	case s.status == media.StatusUnknown:
		s.failLocked(media.NewWriterError(media.CodeSessionNotRunning, "finish", nil))
		s.file.Close()
		s.mu.Unlock()
		notify(completion)
		return
	}
	s.finishing = true
	for _, in := range s.inputs {
		in.finished = true
	}
	close(s.records)
	s.mu.Unlock()

	go func() {
		<-s.muxDone
		s.finalize()
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

func (s *session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != media.StatusWriting {
		s.file.Close()
		return
	}

	t := Trailer{StartTime: s.start, Duration: s.lastPTS}
	for _, in := range s.inputs {
		t.Samples = append(t.Samples, in.written)
	}
	payload, err := json.Marshal(t)
	if err == nil {
		err = writeRecord(s.out, trailerTrack, 0, 0, 0, payload)
	}
	if err == nil {
		err = s.out.Flush()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.failLocked(media.NewWriterError(media.CodeWriteFailed, "finalize", err))
		return
	}
	s.status = media.StatusCompleted
	s.writer.logger.Debug("rawfile session completed",
		core.F("path", s.path),
		core.F("samples", t.Samples),
		core.F("duration", t.Duration),
	)
}

func (s *session) Cancel() {
	s.mu.Lock()
	switch s.status {
	case media.StatusCompleted, media.StatusCancelled:
		s.mu.Unlock()
		return
	}
	started := s.records != nil
	s.status = media.StatusCancelled
	s.err = media.NewWriterError(media.CodeCancelled, "cancel", nil)
	close(s.abort)
	if started && !s.finishing {
		s.finishing = true
		close(s.records)
	}
	s.mu.Unlock()

	if started {
		<-s.muxDone
	}
	s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.writer.logger.Warn("rawfile: remove cancelled output failed", core.F("path", s.path), core.F("error", err))
	}
}

func (s *session) failLocked(err error) {
	if s.status == media.StatusFailed || s.status == media.StatusCancelled {
		return
	}
	s.status = media.StatusFailed
	s.err = err
	s.writer.logger.Error("rawfile session failed", core.F("path", s.path), core.F("error", media.Describe(err)))
}

// mux drains queued samples in arrival order.
func (s *session) mux() {
	defer close(s.muxDone)
	for p := range s.records {
		s.writeOne(p)
	}
}

func (s *session) writeOne(p pending) {
	defer func() {
		if p.sample != nil {
			p.sample.Release()
		}
		s.mu.Lock()
		p.input.queued--
		s.mu.Unlock()
	}()

	select {
	case <-s.abort:
		return
	default:
	}
	if s.writer.beforeWrite != nil {
		s.writer.beforeWrite(p.input.mediaType)
	}

	s.mu.Lock()
	start := s.start
	failed := s.status != media.StatusWriting
	s.mu.Unlock()
	if failed || p.pts < start {
		return
	}

	payload := p.payload
	if p.sample != nil {
		if p.kind == KindPCM {
			payload = pcmBytes(p.sample.Samples())
		} else {
			payload = p.sample.Data()
		}
	}
	if err := writeRecord(s.out, p.input.id, p.kind, p.pts-start, p.dur, payload); err != nil {
		s.mu.Lock()
		s.failLocked(media.NewWriterError(media.CodeWriteFailed, "write sample", err))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	p.input.written++
	if end := p.pts - start + p.dur; end > s.lastPTS {
		s.lastPTS = end
	}
	s.mu.Unlock()
}

// enqueue hands a sample to the muxer, enforcing the readiness contract.
func (s *session) enqueue(in *trackInput, p pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status != media.StatusWriting, s.finishing:
		return false
	case in.finished:
		s.failLocked(media.NewWriterError(media.CodeInputFinished, "append "+in.mediaType.String(), nil))
		return false
	case in.queued >= in.capacity:
		s.failLocked(media.NewWriterError(media.CodeInputNotReady, "append "+in.mediaType.String(), nil))
		return false
	case in.hasLast && p.pts <= in.lastPTS:
		s.failLocked(media.NewWriterError(media.CodeMediaDiscontinuity, "append "+in.mediaType.String(),
			fmt.Errorf("pts %s after %s", p.pts, in.lastPTS)))
		return false
	}
	in.queued++
	in.lastPTS = p.pts
	in.hasLast = true
	s.records <- p
	return true
}

type trackInput struct {
	session   *session
	id        int
	mediaType media.MediaType
	settings  media.InputSettings
	capacity  int

	// guarded by session.mu
	queued   int
	written  int
	finished bool
	lastPTS  time.Duration
	hasLast  bool
}

func (in *trackInput) MediaType() media.MediaType { return in.mediaType }

func (in *trackInput) ReadyForMoreMediaData() bool {
	s := in.session
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == media.StatusWriting && !in.finished && in.queued < in.capacity
}

func (in *trackInput) Append(sample *media.SampleBuffer) bool {
	if sample == nil || !sample.IsValid() {
		return false
	}
	kind := KindPCM
	if sample.MediaType() == media.MediaTypeVideo {
		kind = KindEncoded
	}
	if sample.MediaType() != in.mediaType {
		return false
	}
	sample.Retain()
	ok := in.session.enqueue(in, pending{
		input:  in,
		kind:   kind,
		pts:    sample.PresentationTime(),
		dur:    sample.Duration(),
		sample: sample,
	})
	if !ok {
		sample.Release()
	}
	return ok
}

func (in *trackInput) MarkAsFinished() {
	in.session.mu.Lock()
	in.finished = true
	in.session.mu.Unlock()
}

type pixelAdaptor struct {
	input *trackInput
}

func (a *pixelAdaptor) Input() media.TrackInput { return a.input }

func (a *pixelAdaptor) Append(buf *media.PixelBuffer, pts time.Duration) bool {
	if buf == nil {
		return false
	}
	var dur time.Duration
	if v := a.input.settings.Video; v != nil && v.FrameRate > 0 {
		dur = time.Duration(float64(time.Second) / v.FrameRate)
	}
	return a.input.session.enqueue(a.input, pending{
		input:   a.input,
		kind:    KindPixels,
		pts:     pts,
		dur:     dur,
		payload: pixelBytes(buf),
	})
}
