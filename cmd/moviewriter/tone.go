package main

import (
	"math"
	"time"

	"github.com/Swind/go-movie-writer/media"
)

// tone generates a continuous sine wave in fixed-size buffers.
type tone struct {
	hz         float64
	sampleRate int
	channels   int
	phase      float64
}

// next returns the samples covering [pts, pts+d).
func (t *tone) next(pts, d time.Duration) *media.SampleBuffer {
	frames := int(d.Seconds() * float64(t.sampleRate))
	samples := make([]int16, frames*t.channels)
	step := 2 * math.Pi * t.hz / float64(t.sampleRate)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(t.phase) * 0.3 * math.MaxInt16)
		for c := 0; c < t.channels; c++ {
			samples[i*t.channels+c] = v
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return media.NewAudioSampleBuffer(pts, samples, t.channels, t.sampleRate)
}
