package recorder

import (
	"time"

	"github.com/Swind/go-movie-writer/media"
)

// Drop reasons reported to core.Metrics.
const (
	dropDisabled     = "disabled"
	dropNotRecording = "not_recording"
	dropPaused       = "paused"
	dropNotReady     = "not_ready"
	dropBeforeAnchor = "before_anchor"
	dropNonMonotonic = "non_monotonic"
	dropTrackDone    = "track_finished"
	dropRejected     = "rejected"
	dropNoTrack      = "no_track"
	dropRender       = "render_failed"
)

// timeline maps source timestamps onto the output timeline. The first
// accepted video frame is the anchor (output time 0); wall time spent paused
// after the anchor is subtracted from every later sample.
type timeline struct {
	anchored    bool
	anchor      time.Duration
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration

	last [2]time.Duration
	has  [2]bool
}

func (t *timeline) pause(now time.Time) {
	if t.paused {
		return
	}
	t.paused = true
	t.pausedAt = now
}

// resume ends the current pause and returns its length.
func (t *timeline) resume(now time.Time) time.Duration {
	if !t.paused {
		return 0
	}
	t.paused = false
	d := now.Sub(t.pausedAt)
	if d < 0 {
		d = 0
	}
	if t.anchored {
		t.pausedTotal += d
	}
	return d
}

// rebase returns the output timestamp for a sample at source time ts, or a
// drop reason. It does not change the timeline; see commit.
func (t *timeline) rebase(track media.MediaType, ts time.Duration) (time.Duration, string) {
	if !t.anchored {
		if track != media.MediaTypeVideo {
			return 0, dropBeforeAnchor
		}
		return 0, ""
	}
	out := ts - t.anchor - t.pausedTotal
	if out < 0 {
		return 0, dropBeforeAnchor
	}
	if t.has[track] && out <= t.last[track] {
		return 0, dropNonMonotonic
	}
	return out, ""
}

// commit records an appended sample. The first committed video sample
// anchors the timeline at its source time.
func (t *timeline) commit(track media.MediaType, ts, out time.Duration) {
	if !t.anchored && track == media.MediaTypeVideo {
		t.anchored = true
		t.anchor = ts
	}
	t.last[track] = out
	t.has[track] = true
}
