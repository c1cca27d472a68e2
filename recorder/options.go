package recorder

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
)

const (
	defaultPollInterval = 5 * time.Millisecond
	defaultDropLogEvery = time.Second
	defaultDropLogBurst = 5
)

// Option configures a MovieWriter at construction.
type Option func(*MovieWriter)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l core.Logger) Option {
	return func(w *MovieWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics records appends, drops and the terminal outcome on m.
func WithMetrics(m core.Metrics) Option {
	return func(w *MovieWriter) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithClock sets the clock used to measure paused intervals.
func WithClock(c core.Clock) Option {
	return func(w *MovieWriter) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithQueuePool sets the pool that synchronization callbacks and adaptor
// teardown lease queues from. Defaults to core.SharedQueuePool().
func WithQueuePool(p *core.QueuePool) Option {
	return func(w *MovieWriter) {
		if p != nil {
			w.pool = p
		}
	}
}

// WithGPUContext sets the GPU context frames are rendered in. Defaults to
// gpu.SharedContext().
func WithGPUContext(c *gpu.Context) Option {
	return func(w *MovieWriter) {
		if c != nil {
			w.gpu = c
		}
	}
}

// WithDelegate registers a delegate for the terminal notification.
func WithDelegate(d Delegate) Option {
	return func(w *MovieWriter) { w.delegate = d }
}

// WithCallbacks registers completion and failure callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(w *MovieWriter) { w.callbacks = cb }
}

// WithFileType overrides the container type inferred from the path extension.
func WithFileType(ft media.FileType) Option {
	return func(w *MovieWriter) { w.fileType = ft }
}

// WithVideoSettings overrides the default encoder settings for the video size.
// The settings are copied; later changes to s have no effect.
func WithVideoSettings(s *media.VideoSettings) Option {
	return func(w *MovieWriter) {
		if s != nil {
			c := *s
			w.videoSettings = &c
		}
	}
}

// WithRateLimit bounds how often dropped samples are logged.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(w *MovieWriter) {
		w.dropLog = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithPollInterval sets how often synchronization callbacks poll track
// readiness.
func WithPollInterval(d time.Duration) Option {
	return func(w *MovieWriter) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}
