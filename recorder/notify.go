package recorder

import (
	"errors"

	"github.com/Swind/go-movie-writer/core"
)

// Delegate observes the end of a recording.
type Delegate interface {
	// MovieWriterDidFinish is called once per recording attempt. err is nil
	// on success and matches core.ErrCancelled after CancelRecording.
	MovieWriterDidFinish(w *MovieWriter, err error)
}

// Callbacks are the closure form of Delegate. Either field may be nil.
type Callbacks struct {
	Completion func()
	Failure    func(err error)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(w *MovieWriter, err error)

func (f DelegateFunc) MovieWriterDidFinish(w *MovieWriter, err error) { f(w, err) }

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, core.ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

// notify delivers the terminal notification. Only the first call has any
// effect; handler is the per-call completion handler of a successful finish.
func (w *MovieWriter) notify(err error, handler func()) {
	w.notifyOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		recorded := w.duration
		w.mu.Unlock()

		outcome := outcomeOf(err)
		w.metrics.RecordRecordingFinished(outcome, recorded)
		if err != nil {
			w.logger.Warn("recording ended",
				core.F("recorder", w.id.String()),
				core.F("outcome", outcome),
				core.F("error", err),
			)
		} else {
			w.logger.Info("recording finished",
				core.F("recorder", w.id.String()),
				core.F("path", w.path),
				core.F("duration", recorded),
			)
		}

		if err == nil {
			if handler != nil {
				handler()
			}
			if w.callbacks.Completion != nil {
				w.callbacks.Completion()
			}
		} else if w.callbacks.Failure != nil {
			w.callbacks.Failure(err)
		}
		if w.delegate != nil {
			w.delegate.MovieWriterDidFinish(w, err)
		}

		close(w.done)
		// The queue may be the caller; stop it from outside.
		go w.queue.Stop()
	})
}
