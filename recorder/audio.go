package recorder

import (
	"context"
	"time"

	"github.com/Swind/go-movie-writer/media"
)

// ProcessAudioBuffer appends buf to the audio track, subject to the same
// readiness, pause and rebasing rules as video frames. Audio that arrives
// before the first video frame has been appended is dropped.
//
// With media.TransferOnConsume the caller hands its reference to buf over
// and the writer releases it once the sample has been appended or dropped;
// the audio processing callback may then modify buf in place. With
// media.CallerOwned the caller keeps its reference and buf is never
// modified: the callback sees a copy.
func (w *MovieWriter) ProcessAudioBuffer(buf *media.SampleBuffer, ownership media.Ownership) {
	if buf == nil {
		return
	}
	if ownership == media.TransferOnConsume {
		defer buf.Release()
	}
	if !buf.IsValid() || buf.MediaType() != media.MediaTypeAudio {
		w.drop(media.MediaTypeAudio, dropRejected)
		return
	}
	if !w.HasAudioTrack() {
		w.drop(media.MediaTypeAudio, dropNoTrack)
		return
	}
	if reason := w.admit(media.MediaTypeAudio); reason != "" {
		w.drop(media.MediaTypeAudio, reason)
		return
	}

	var written func()
	_ = w.queue.Sync(context.Background(), func(context.Context) {
		written = w.appendAudio(buf, ownership)
	})
	if written != nil {
		written()
	}
}

func (w *MovieWriter) appendAudio(buf *media.SampleBuffer, ownership media.Ownership) (written func()) {
	if w.alreadyFinished.Load() || w.audioInput == nil {
		return nil
	}
	if w.audioFinished {
		w.drop(media.MediaTypeAudio, dropTrackDone)
		return nil
	}
	if !w.audioInput.ReadyForMoreMediaData() {
		w.drop(media.MediaTypeAudio, dropNotReady)
		return nil
	}

	w.mu.Lock()
	if w.state == StatePaused {
		w.mu.Unlock()
		w.drop(media.MediaTypeAudio, dropPaused)
		return nil
	}
	pts, reason := w.timeline.rebase(media.MediaTypeAudio, buf.PresentationTime())
	process := w.audioProcessing
	if w.passthroughAudio {
		process = nil
	}
	w.mu.Unlock()
	if reason != "" {
		w.drop(media.MediaTypeAudio, reason)
		return nil
	}

	src := buf
	if process != nil {
		if ownership == media.CallerOwned {
			src = buf.Clone()
			defer src.Release()
		}
		w.callback(func() { process(src.Samples(), src.NumSamples()) })
	}

	out := src.CopyWithTiming(pts)
	defer out.Release()
	start := time.Now()
	if !w.audioInput.Append(out) {
		w.rejected(media.MediaTypeAudio)
		return nil
	}
	return w.appended(media.MediaTypeAudio, buf.PresentationTime(), pts, buf.Duration(), time.Since(start))
}
