package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/sink"
)

// ErrVideoPassthrough is returned by AppendEncodedVideo when the video track
// takes rendered frames.
var ErrVideoPassthrough = errors.New("recorder: video track takes rendered frames; enable SetVideoPassthrough")

// SetInputRotation sets the rotation applied to frames that do not carry
// their own.
func (w *MovieWriter) SetInputRotation(rotation gpu.Rotation) {
	w.mu.Lock()
	w.rotation = rotation
	w.mu.Unlock()
}

// Enabled reports whether the writer wants frames.
func (w *MovieWriter) Enabled() bool { return w.enabled.Load() }

// NewFrame appends frame to the video track. It never waits for the
// container writer: a frame that arrives while the writer is disabled,
// paused, not recording, or while the video input is not ready is dropped.
func (w *MovieWriter) NewFrame(frame sink.Frame) {
	if !w.enabled.Load() {
		w.drop(media.MediaTypeVideo, dropDisabled)
		return
	}
	if reason := w.admit(media.MediaTypeVideo); reason != "" {
		w.drop(media.MediaTypeVideo, reason)
		return
	}
	if frame.Framebuffer == nil {
		w.drop(media.MediaTypeVideo, dropRender)
		return
	}

	var written func()
	_ = w.queue.Sync(context.Background(), func(context.Context) {
		written = w.appendFrame(frame)
	})
	if written != nil {
		written()
	}
}

// admit applies the checks shared by both tracks before hopping onto the
// writer queue.
func (w *MovieWriter) admit(track media.MediaType) string {
	if w.alreadyFinished.Load() {
		return dropNotRecording
	}
	w.mu.Lock()
	state := w.state
	passthrough := w.videoPassthrough
	w.mu.Unlock()
	switch {
	case !state.active():
		return dropNotRecording
	case state == StatePaused:
		return dropPaused
	case track == media.MediaTypeVideo && passthrough:
		return dropNoTrack
	}
	return ""
}

func (w *MovieWriter) appendFrame(frame sink.Frame) (written func()) {
	if w.alreadyFinished.Load() || w.adaptor == nil {
		return nil
	}
	if w.videoFinished {
		w.drop(media.MediaTypeVideo, dropTrackDone)
		return nil
	}
	if !w.videoInput.ReadyForMoreMediaData() {
		w.drop(media.MediaTypeVideo, dropNotReady)
		return nil
	}

	w.mu.Lock()
	if w.state == StatePaused {
		w.mu.Unlock()
		w.drop(media.MediaTypeVideo, dropPaused)
		return nil
	}
	pts, reason := w.timeline.rebase(media.MediaTypeVideo, frame.Timestamp)
	rotation := frame.Rotation
	if rotation == gpu.NoRotation {
		rotation = w.rotation
	}
	w.mu.Unlock()
	if reason != "" {
		w.drop(media.MediaTypeVideo, reason)
		return nil
	}

	var buf *media.PixelBuffer
	err := w.gpu.Use(w.holder(), func() error {
		w.adaptor.prime(w.gpu)
		var err error
		buf, err = w.adaptor.render(frame.Framebuffer, rotation)
		return err
	})
	if err != nil {
		w.logger.Warn("render frame into pixel buffer failed",
			core.F("recorder", w.id.String()),
			core.F("error", err),
		)
		w.drop(media.MediaTypeVideo, dropRender)
		return nil
	}

	w.startSession()
	start := time.Now()
	if !w.adaptor.append(buf, pts) {
		w.rejected(media.MediaTypeVideo)
		return nil
	}
	return w.appended(media.MediaTypeVideo, frame.Timestamp, pts, w.frameDuration(), time.Since(start))
}

// AppendEncodedVideo appends one pre-encoded access unit whose presentation
// time is in the same clock as rendered frames. The sample is always the
// caller's; the writer keeps its own reference if it needs one.
func (w *MovieWriter) AppendEncodedVideo(sample *media.SampleBuffer) error {
	if sample == nil || sample.MediaType() != media.MediaTypeVideo {
		return core.NewError(core.KindConfiguration, "append encoded video", nil, "not a video sample")
	}
	w.mu.Lock()
	passthrough := w.videoPassthrough
	w.mu.Unlock()
	if !passthrough {
		return ErrVideoPassthrough
	}
	if w.alreadyFinished.Load() {
		w.drop(media.MediaTypeVideo, dropNotRecording)
		return nil
	}
	if !w.State().active() {
		w.drop(media.MediaTypeVideo, dropNotRecording)
		return nil
	}

	var written func()
	err := w.queue.Sync(context.Background(), func(context.Context) {
		written = w.appendEncoded(sample)
	})
	if written != nil {
		written()
	}
	return err
}

func (w *MovieWriter) appendEncoded(sample *media.SampleBuffer) (written func()) {
	if w.alreadyFinished.Load() {
		return nil
	}
	if w.videoFinished {
		w.drop(media.MediaTypeVideo, dropTrackDone)
		return nil
	}
	if !w.videoInput.ReadyForMoreMediaData() {
		w.drop(media.MediaTypeVideo, dropNotReady)
		return nil
	}

	w.mu.Lock()
	if w.state == StatePaused {
		w.mu.Unlock()
		w.drop(media.MediaTypeVideo, dropPaused)
		return nil
	}
	pts, reason := w.timeline.rebase(media.MediaTypeVideo, sample.PresentationTime())
	w.mu.Unlock()
	if reason != "" {
		w.drop(media.MediaTypeVideo, reason)
		return nil
	}

	w.startSession()
	out := sample.CopyWithTiming(pts)
	defer out.Release()
	start := time.Now()
	if !w.videoInput.Append(out) {
		w.rejected(media.MediaTypeVideo)
		return nil
	}
	return w.appended(media.MediaTypeVideo, sample.PresentationTime(), pts, sample.Duration(), time.Since(start))
}

// startSession anchors the writer session at zero before the first append.
// It is issued once per session, even if that append is then rejected.
func (w *MovieWriter) startSession() {
	if w.sessionStarted {
		return
	}
	w.sessionStarted = true
	w.session.StartSessionAtSourceTime(0)
}

func (w *MovieWriter) frameDuration() time.Duration {
	if fr := w.videoSettings.FrameRate; fr > 0 {
		return time.Duration(float64(time.Second) / fr)
	}
	return 0
}
