package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
)

// EnableSynchronizationCallbacks hands pacing to the caller: while the
// recording is active, the video and audio input-ready callbacks are called
// whenever their track can take another sample. Each callback is expected to
// deliver one sample through NewFrame, AppendEncodedVideo or
// ProcessAudioBuffer and return true, or return false once its source is
// exhausted, which marks that track finished. When every configured track
// is finished the recording is finalized.
//
// Pausing wins over pacing: no callback runs while paused.
//
// The callbacks run on a queue leased from the pool until the recording
// ends. ctx bounds the wait for that lease.
func (w *MovieWriter) EnableSynchronizationCallbacks(ctx context.Context) error {
	if !w.State().active() || w.alreadyFinished.Load() {
		return core.NewError(core.KindConfiguration, "enable synchronization callbacks", nil, "recorder is %s", w.State())
	}

	lease, err := w.pool.Dequeue(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	video, audio := w.videoReadyCallback, w.audioReadyCallback
	hasAudio := w.hasAudio
	w.mu.Unlock()

	l := &pullLoop{
		w:        w,
		lease:    lease,
		video:    video,
		audio:    audio,
		hasAudio: hasAudio,
	}
	var installErr error
	_ = w.queue.Sync(ctx, func(context.Context) {
		if w.pull != nil {
			installErr = core.NewError(core.KindConfiguration, "enable synchronization callbacks", nil, "already enabled")
			return
		}
		w.pull = l
	})
	if installErr != nil {
		lease.Release()
		return installErr
	}

	l.mu.Lock()
	l.handle = lease.Queue().PostRepeatingTask(l.tick, w.pollInterval)
	stopped := l.stopped.Load()
	l.mu.Unlock()
	if stopped {
		l.handle.Stop()
	}
	w.logger.Debug("synchronization callbacks enabled",
		core.F("recorder", w.id.String()),
		core.F("queue", lease.Queue().Name()),
	)
	return nil
}

// pullLoop polls track readiness on a leased queue and invokes the input
// ready callbacks.
type pullLoop struct {
	w        *MovieWriter
	lease    *core.Lease
	video    func() bool
	audio    func() bool
	hasAudio bool

	videoDone bool
	audioDone bool

	mu      sync.Mutex
	handle  core.RepeatingTaskHandle
	stopped atomic.Bool
	once    sync.Once
}

func (l *pullLoop) tick(ctx context.Context) {
	w := l.w
	if l.stopped.Load() {
		return
	}
	if w.alreadyFinished.Load() || !w.State().active() {
		l.stop()
		return
	}
	if w.IsPaused() {
		return
	}

	if l.video != nil && !l.videoDone && l.ready(ctx, media.MediaTypeVideo) {
		if !l.video() {
			l.videoDone = true
			l.finishTrack(ctx, media.MediaTypeVideo)
		}
	}
	if l.audio != nil && l.hasAudio && !l.audioDone && l.ready(ctx, media.MediaTypeAudio) {
		if !l.audio() {
			l.audioDone = true
			l.finishTrack(ctx, media.MediaTypeAudio)
		}
	}

	videoExhausted := l.video != nil && l.videoDone
	audioExhausted := !l.hasAudio || (l.audio != nil && l.audioDone)
	if videoExhausted && audioExhausted {
		l.stop()
		w.FinishRecording()
	}
}

// ready reads the input's readiness on the writer queue.
func (l *pullLoop) ready(ctx context.Context, track media.MediaType) bool {
	w := l.w
	ok := false
	_ = w.queue.Sync(ctx, func(context.Context) {
		if w.alreadyFinished.Load() {
			return
		}
		switch track {
		case media.MediaTypeVideo:
			ok = !w.videoFinished && w.videoInput.ReadyForMoreMediaData()
		case media.MediaTypeAudio:
			ok = w.audioInput != nil && !w.audioFinished && w.audioInput.ReadyForMoreMediaData()
		}
	})
	return ok
}

func (l *pullLoop) finishTrack(ctx context.Context, track media.MediaType) {
	w := l.w
	_ = w.queue.Sync(ctx, func(context.Context) {
		if w.alreadyFinished.Load() {
			return
		}
		switch track {
		case media.MediaTypeVideo:
			if !w.videoFinished {
				w.videoFinished = true
				w.videoInput.MarkAsFinished()
			}
		case media.MediaTypeAudio:
			if w.audioInput != nil && !w.audioFinished {
				w.audioFinished = true
				w.audioInput.MarkAsFinished()
			}
		}
	})
	w.logger.Debug("track exhausted", core.F("recorder", w.id.String()), core.F("track", track.String()))
}

// stop ends the loop and returns the leased queue to the pool.
func (l *pullLoop) stop() {
	l.once.Do(func() {
		l.stopped.Store(true)
		l.mu.Lock()
		if l.handle != nil {
			l.handle.Stop()
		}
		l.mu.Unlock()
		if err := l.lease.Release(); err != nil {
			l.w.logger.Warn("release synchronization queue failed", core.F("error", err))
		}
	})
}
