// Package recorder writes frames from a render graph, and optionally an
// audio stream, into a container file.
//
// A MovieWriter is a sink.FrameSink. Every interaction with the container
// writer session runs on the writer's own serial queue, created with the
// writer and held for its whole life, so appends, finish and cancel are
// serialized with each other and with the GPU work of rendering a frame.
//
// Lifecycle:
//
//	Idle ─Start─▶ Recording ◀─Pause/Resume─▶ Paused
//	Recording/Paused ─Finish─▶ Finishing ─▶ Finished | Failed
//	Recording/Paused ─Cancel─▶ Cancelled
//	Recording/Paused ─writer failure─▶ Failed
//
// Exactly one terminal notification is delivered per MovieWriter: the
// completion path on success, the failure path otherwise. Cancellation is
// reported on the failure path with an error matching core.ErrCancelled.
package recorder

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/sink"
)

// MovieWriter records one movie. It is single-use: once it reaches a
// terminal state it accepts no further operations.
type MovieWriter struct {
	id       uuid.UUID
	path     string
	size     image.Point
	fileType media.FileType
	writer   media.ContainerWriter

	logger       core.Logger
	metrics      core.Metrics
	clock        core.Clock
	pool         *core.QueuePool
	gpu          *gpu.Context
	dropLog      *rate.Limiter
	pollInterval time.Duration

	delegate  Delegate
	callbacks Callbacks

	// queue owns the session, its inputs and the adaptor.
	queue *core.SerialQueue

	enabled atomic.Bool
	// inCallback is set while a user callback runs on the queue; finish and
	// cancel then queue their work instead of waiting for it.
	inCallback atomic.Bool
	// alreadyFinished is set when finish, cancel or a pipeline failure
	// begins. Appends, finishes and cancels observed afterwards are no-ops.
	alreadyFinished atomic.Bool

	mu sync.Mutex
	// configuration, frozen once recording starts
	state              State
	videoSettings      *media.VideoSettings
	hasAudio           bool
	audioSettings      *media.AudioSettings
	transform          gpu.AffineTransform
	rotation           gpu.Rotation
	metadata           []media.MetadataItem
	encodingLiveVideo  bool
	videoPassthrough   bool
	passthroughAudio   bool
	videoReadyCallback func() bool
	audioReadyCallback func() bool
	audioProcessing    func(samples []int16, n int)
	sampleWritten      func(track media.MediaType, pts time.Duration)
	// timing
	timeline timeline
	duration time.Duration
	err      error

	// owned by queue
	session        media.Session
	videoInput     media.TrackInput
	audioInput     media.TrackInput
	adaptor        *frameAdaptor
	sessionStarted bool
	videoFinished  bool
	audioFinished  bool
	pull           *pullLoop

	notifyOnce sync.Once
	done       chan struct{}
}

var _ sink.FrameSink = (*MovieWriter)(nil)

// New creates an idle MovieWriter that will record size frames to path using
// writer. The container type is taken from the path extension unless
// WithFileType is given.
func New(writer media.ContainerWriter, path string, size image.Point, opts ...Option) (*MovieWriter, error) {
	if writer == nil {
		return nil, core.NewError(core.KindConfiguration, "new movie writer", nil, "container writer is nil")
	}
	if path == "" {
		return nil, core.NewError(core.KindConfiguration, "new movie writer", nil, "output path is empty")
	}

	w := &MovieWriter{
		id:           uuid.New(),
		path:         path,
		size:         size,
		writer:       writer,
		logger:       core.NewNoOpLogger(),
		metrics:      &core.NilMetrics{},
		clock:        core.SystemClock{},
		pollInterval: defaultPollInterval,
		dropLog:      rate.NewLimiter(rate.Every(defaultDropLogEvery), defaultDropLogBurst),
		transform:    gpu.IdentityTransform,
		done:         make(chan struct{}),
	}
	w.videoSettings = media.DefaultVideoSettings(size)
	for _, opt := range opts {
		opt(w)
	}
	if w.pool == nil {
		w.pool = core.SharedQueuePool()
	}
	if w.gpu == nil {
		w.gpu = gpu.SharedContext()
	}

	if w.fileType == "" {
		ft, err := media.ParseFileType(filepath.Ext(path))
		if err != nil {
			return nil, core.NewError(core.KindConfiguration, "new movie writer", err, "cannot infer file type of %q", path)
		}
		w.fileType = ft
	}
	w.videoSettings.Width, w.videoSettings.Height = size.X, size.Y
	if err := w.videoSettings.Validate(); err != nil {
		return nil, core.NewError(core.KindConfiguration, "new movie writer", err, "invalid video settings")
	}

	w.enabled.Store(true)
	w.queue = core.NewSerialQueue("movie-writer-"+w.id.String()[:8],
		core.WithPanicHandler(&core.LoggingPanicHandler{Logger: w.logger}),
		core.WithQueueMetrics(w.metrics),
	)
	return w, nil
}

// ID identifies this recording in logs.
func (w *MovieWriter) ID() uuid.UUID { return w.id }

// Path returns the output path.
func (w *MovieWriter) Path() string { return w.path }

// FileType returns the container type.
func (w *MovieWriter) FileType() media.FileType { return w.fileType }

// State returns the current lifecycle state.
func (w *MovieWriter) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed after the terminal notification has been delivered.
func (w *MovieWriter) Done() <-chan struct{} { return w.done }

// Err returns the terminal error once Done is closed: nil on success.
func (w *MovieWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Duration returns the length of the recorded timeline so far.
func (w *MovieWriter) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.duration
}

// =============================================================================
// Configuration (Idle only)
// =============================================================================

var errConfigFrozen = core.NewError(core.KindConfiguration, "configure", nil, "configuration is frozen once recording starts")

func (w *MovieWriter) configure(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle {
		return errConfigFrozen
	}
	fn()
	return nil
}

// SetHasAudioTrack adds or removes the audio track. Nil settings select
// media.DefaultAudioSettings.
func (w *MovieWriter) SetHasAudioTrack(has bool, settings *media.AudioSettings) error {
	if has && settings == nil {
		settings = media.DefaultAudioSettings()
	}
	if has {
		if err := settings.Validate(); err != nil {
			return core.NewError(core.KindConfiguration, "set audio track", err, "invalid audio settings")
		}
	}
	return w.configure(func() {
		w.hasAudio = has
		w.audioSettings = nil
		if has {
			c := *settings
			w.audioSettings = &c
		}
	})
}

// HasAudioTrack reports whether an audio track is configured.
func (w *MovieWriter) HasAudioTrack() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasAudio
}

// SetMetadata sets container metadata entries.
func (w *MovieWriter) SetMetadata(items []media.MetadataItem) error {
	return w.configure(func() {
		w.metadata = append([]media.MetadataItem(nil), items...)
	})
}

// SetTransform sets the display transform stored on the video track by
// StartRecording.
func (w *MovieWriter) SetTransform(transform gpu.AffineTransform) error {
	return w.configure(func() { w.transform = transform })
}

// Transform returns the configured display transform.
func (w *MovieWriter) Transform() gpu.AffineTransform {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transform
}

// SetEncodingLiveVideo marks the inputs as fed from a live source.
func (w *MovieWriter) SetEncodingLiveVideo(live bool) error {
	return w.configure(func() { w.encodingLiveVideo = live })
}

// SetVideoPassthrough switches the video track to pre-encoded samples
// appended with AppendEncodedVideo. Rendered frames are then dropped.
func (w *MovieWriter) SetVideoPassthrough(passthrough bool) error {
	return w.configure(func() { w.videoPassthrough = passthrough })
}

// SetShouldPassthroughAudio forwards audio buffers without running the
// audio processing callback.
func (w *MovieWriter) SetShouldPassthroughAudio(passthrough bool) {
	w.mu.Lock()
	w.passthroughAudio = passthrough
	w.mu.Unlock()
}

// SetAudioProcessingCallback installs fn to inspect or modify PCM samples
// right before they are appended. fn runs synchronously on the append path;
// a finish or cancel requested from fn takes effect once fn returns.
func (w *MovieWriter) SetAudioProcessingCallback(fn func(samples []int16, n int)) {
	w.mu.Lock()
	w.audioProcessing = fn
	w.mu.Unlock()
}

// SetVideoInputReadyCallback sets the pull callback for the video track.
// See EnableSynchronizationCallbacks.
func (w *MovieWriter) SetVideoInputReadyCallback(fn func() bool) {
	w.mu.Lock()
	w.videoReadyCallback = fn
	w.mu.Unlock()
}

// SetAudioInputReadyCallback sets the pull callback for the audio track.
func (w *MovieWriter) SetAudioInputReadyCallback(fn func() bool) {
	w.mu.Lock()
	w.audioReadyCallback = fn
	w.mu.Unlock()
}

// SetSampleWrittenCallback installs fn, called after each sample is appended
// with the sample's output timestamp. It runs on the goroutine that delivered
// the sample, once the append has completed, so fn may finish or cancel the
// recording.
func (w *MovieWriter) SetSampleWrittenCallback(fn func(track media.MediaType, pts time.Duration)) {
	w.mu.Lock()
	w.sampleWritten = fn
	w.mu.Unlock()
}

// SetEnabled gates frame delivery.
func (w *MovieWriter) SetEnabled(enabled bool) { w.enabled.Store(enabled) }

// =============================================================================
// Start
// =============================================================================

// StartRecording opens the session and moves to Recording, storing the
// transform set with SetTransform on the video track.
func (w *MovieWriter) StartRecording() error {
	return w.StartRecordingInOrientation(w.Transform())
}

// StartRecordingInOrientation is StartRecording with a display transform
// stored on the video track.
//
// A rejected destination or configuration moves the writer to Failed,
// delivers the failure notification and is also returned.
func (w *MovieWriter) StartRecordingInOrientation(transform gpu.AffineTransform) error {
	var startErr error
	if err := w.queue.Sync(context.Background(), func(context.Context) {
		startErr = w.start(transform)
	}); err != nil {
		return core.NewError(core.KindConfiguration, "start recording", err, "writer queue unavailable")
	}
	return startErr
}

func (w *MovieWriter) start(transform gpu.AffineTransform) error {
	w.mu.Lock()
	if w.state != StateIdle || w.alreadyFinished.Load() {
		state := w.state
		w.mu.Unlock()
		return core.NewError(core.KindConfiguration, "start recording", nil, "recorder is %s", state)
	}
	w.transform = transform
	videoSettings := *w.videoSettings
	hasAudio, audioSettings := w.hasAudio, w.audioSettings
	live, passthrough := w.encodingLiveVideo, w.videoPassthrough
	metadata := w.metadata
	w.mu.Unlock()

	session, err := w.writer.CreateSession(w.path, w.fileType)
	if err != nil {
		return w.failStart(err, "create session")
	}

	videoInput, err := session.AddInput(media.MediaTypeVideo, media.InputSettings{
		Video:           &videoSettings,
		Transform:       transform,
		ExpectsRealTime: live,
	})
	if err != nil {
		session.Cancel()
		return w.failStart(err, "add video input")
	}
	var adaptor *frameAdaptor
	if !passthrough {
		pa, err := session.NewPixelBufferAdaptor(videoInput)
		if err != nil {
			session.Cancel()
			return w.failStart(err, "create pixel buffer adaptor")
		}
		adaptor = newFrameAdaptor(pa, w.size)
	}

	var audioInput media.TrackInput
	if hasAudio {
		audioInput, err = session.AddInput(media.MediaTypeAudio, media.InputSettings{
			Audio:           audioSettings,
			ExpectsRealTime: live,
		})
		if err != nil {
			session.Cancel()
			return w.failStart(err, "add audio input")
		}
	}
	if len(metadata) > 0 {
		session.SetMetadata(metadata)
	}
	if err := session.StartWriting(); err != nil {
		session.Cancel()
		return w.failStart(err, "start writing")
	}

	w.session = session
	w.videoInput = videoInput
	w.audioInput = audioInput
	w.adaptor = adaptor

	w.mu.Lock()
	w.state = StateRecording
	w.mu.Unlock()

	w.logger.Info("recording started",
		core.F("recorder", w.id.String()),
		core.F("path", w.path),
		core.F("file_type", string(w.fileType)),
		core.F("size", w.size.String()),
		core.F("audio", hasAudio),
	)
	return nil
}

func (w *MovieWriter) failStart(err error, op string) error {
	w.alreadyFinished.Store(true)
	w.mu.Lock()
	w.state = StateFailed
	w.mu.Unlock()

	kind := core.KindConfiguration
	if media.CodeOf(err) == media.CodeWriteFailed {
		kind = core.KindWriter
	}
	startErr := writerError(kind, op, err)
	w.notify(startErr, nil)
	return startErr
}

// =============================================================================
// Pause
// =============================================================================

// Pause stops appending. Samples delivered while paused are dropped and the
// paused interval is cut from the output timeline.
func (w *MovieWriter) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRecording {
		return
	}
	w.state = StatePaused
	w.timeline.pause(w.clock.Now())
	w.logger.Info("recording paused", core.F("recorder", w.id.String()))
}

// Resume continues appending after Pause.
func (w *MovieWriter) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused {
		return
	}
	w.state = StateRecording
	d := w.timeline.resume(w.clock.Now())
	w.logger.Info("recording resumed", core.F("recorder", w.id.String()), core.F("paused_for", d))
}

// IsPaused reports whether the writer is paused.
func (w *MovieWriter) IsPaused() bool {
	return w.State() == StatePaused
}

// =============================================================================
// Finish / Cancel
// =============================================================================

// FinishRecording finalizes the file. See FinishRecordingWithCompletionHandler.
func (w *MovieWriter) FinishRecording() {
	w.FinishRecordingWithCompletionHandler(nil)
}

// FinishRecordingWithCompletionHandler marks every track finished and asks
// the writer to finalize the file. It returns without waiting; handler runs
// once the file is complete, before the completion callback and delegate.
// If finalization fails the failure path runs instead and handler is not
// called.
//
// Only the first finish or cancel of a recording has any effect; later
// calls, and their handlers, are ignored.
func (w *MovieWriter) FinishRecordingWithCompletionHandler(handler func()) {
	if !w.State().active() {
		return
	}
	if !w.alreadyFinished.CompareAndSwap(false, true) {
		return
	}
	task := func(context.Context) { w.finish(handler) }
	if w.inCallback.Load() {
		w.queue.PostTask(task)
		return
	}
	if err := w.queue.Sync(context.Background(), task); err != nil {
		w.notify(core.NewError(core.KindWriter, "finish recording", err, "writer queue unavailable"), nil)
	}
}

func (w *MovieWriter) finish(handler func()) {
	w.mu.Lock()
	if w.state == StatePaused {
		w.timeline.resume(w.clock.Now())
	}
	w.state = StateFinishing
	w.mu.Unlock()

	if !w.videoFinished {
		w.videoFinished = true
		w.videoInput.MarkAsFinished()
	}
	if w.audioInput != nil && !w.audioFinished {
		w.audioFinished = true
		w.audioInput.MarkAsFinished()
	}

	session, adaptor := w.session, w.adaptor
	w.adaptor = nil
	session.Finish(func() {
		w.destroyAdaptor(adaptor)
		if session.Status() == media.StatusCompleted {
			w.setState(StateFinished)
			w.notify(nil, handler)
			return
		}
		w.setState(StateFailed)
		w.notify(writerError(core.KindWriter, "finish recording", session.Err()), nil)
	})
}

// CancelRecording stops appending immediately, discards the partial file and
// reports an error matching core.ErrCancelled. It is safe to call while a
// sample is being appended; that append completes first and any append
// arriving later is dropped.
func (w *MovieWriter) CancelRecording() {
	if !w.State().active() {
		return
	}
	if !w.alreadyFinished.CompareAndSwap(false, true) {
		return
	}
	var adaptor *frameAdaptor
	abort := func(context.Context) {
		w.setState(StateCancelled)
		w.session.Cancel()
		adaptor, w.adaptor = w.adaptor, nil
	}
	release := func() {
		w.destroyAdaptor(adaptor)
		w.notify(core.NewError(core.KindCancelled, "cancel recording", nil, "recording cancelled"), nil)
	}
	if w.inCallback.Load() {
		w.queue.PostTask(func(ctx context.Context) {
			abort(ctx)
			go release()
		})
		return
	}
	_ = w.queue.Sync(context.Background(), abort)
	release()
}

// fail ends the recording after the writer reported a failure. It runs on
// the writer queue.
func (w *MovieWriter) fail(op string, err error) {
	if !w.alreadyFinished.CompareAndSwap(false, true) {
		return
	}
	w.setState(StateFailed)
	w.logger.Error("container writer failed",
		core.F("recorder", w.id.String()),
		core.F("op", op),
		core.F("error", media.Describe(err)),
	)
	w.session.Cancel()
	adaptor := w.adaptor
	w.adaptor = nil
	// Leasing for teardown may wait on a pull loop that is itself waiting
	// on this queue.
	go func() {
		w.destroyAdaptor(adaptor)
		w.notify(writerError(core.KindWriter, op, err), nil)
	}()
}

// writerError wraps a container-writer error with its descriptive string.
func writerError(kind core.ErrorKind, op string, err error) *core.Error {
	return core.NewError(kind, op, err, "%s", media.ErrorString(media.CodeOf(err)))
}

func (w *MovieWriter) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// destroyAdaptor destroys the render target and texture on a queue leased
// from the pool, holding the GPU context. It must not run on w.queue.
func (w *MovieWriter) destroyAdaptor(a *frameAdaptor) {
	if a == nil {
		return
	}
	err := w.gpu.UseLeased(context.Background(), w.pool, w.holder(), func() error {
		a.destroy()
		return nil
	})
	if err != nil && !errors.Is(err, gpu.ErrContextDestroyed) {
		w.logger.Warn("release pixel buffer adaptor failed", core.F("recorder", w.id.String()), core.F("error", err))
	}
}

// callback runs a user callback on the queue with inCallback set.
func (w *MovieWriter) callback(fn func()) {
	w.inCallback.Store(true)
	defer w.inCallback.Store(false)
	fn()
}

func (w *MovieWriter) holder() string {
	return "movie-writer-" + w.id.String()
}

// =============================================================================
// Shared append bookkeeping
// =============================================================================

func (w *MovieWriter) drop(track media.MediaType, reason string) {
	w.metrics.RecordSampleDropped(track.String(), reason)
	if w.dropLog.Allow() {
		w.logger.Debug("sample dropped",
			core.F("recorder", w.id.String()),
			core.F("track", track.String()),
			core.F("reason", reason),
		)
	}
}

// appended records a sample the writer accepted. The returned function, if
// any, delivers the sample-written callback and must be called off the queue.
func (w *MovieWriter) appended(track media.MediaType, src, pts, dur time.Duration, latency time.Duration) func() {
	w.mu.Lock()
	w.timeline.commit(track, src, pts)
	if end := pts + dur; end > w.duration {
		w.duration = end
	}
	written := w.sampleWritten
	w.mu.Unlock()

	w.metrics.RecordSampleAppended(track.String(), latency)
	if written == nil {
		return nil
	}
	return func() { written(track, pts) }
}

// rejected handles a false return from the writer: a failed session fails
// the whole recording, anything else is a drop.
func (w *MovieWriter) rejected(track media.MediaType) {
	if w.session.Status() == media.StatusFailed {
		w.fail("append "+track.String(), w.session.Err())
		return
	}
	w.drop(track, dropRejected)
}
