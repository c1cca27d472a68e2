package sink

import (
	"sync"

	"github.com/Swind/go-movie-writer/gpu"
)

// Broadcaster fans frames from one producer out to many sinks, skipping
// sinks that report themselves disabled.
type Broadcaster struct {
	mu       sync.RWMutex
	targets  []FrameSink
	rotation gpu.Rotation
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddTarget registers s. Adding the same sink twice is a no-op.
func (b *Broadcaster) AddTarget(s FrameSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.targets {
		if t == s {
			return
		}
	}
	b.targets = append(b.targets, s)
	s.SetInputRotation(b.rotation)
}

// RemoveTarget unregisters s.
func (b *Broadcaster) RemoveTarget(s FrameSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.targets {
		if t == s {
			b.targets = append(b.targets[:i], b.targets[i+1:]...)
			return
		}
	}
}

// Targets returns a snapshot of the registered sinks.
func (b *Broadcaster) Targets() []FrameSink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]FrameSink, len(b.targets))
	copy(out, b.targets)
	return out
}

// SetInputRotation forwards rotation to every target and remembers it for
// targets added later.
func (b *Broadcaster) SetInputRotation(rotation gpu.Rotation) {
	b.mu.Lock()
	b.rotation = rotation
	targets := make([]FrameSink, len(b.targets))
	copy(targets, b.targets)
	b.mu.Unlock()

	for _, t := range targets {
		t.SetInputRotation(rotation)
	}
}

// NewFrame delivers frame to every enabled target, in registration order.
// It returns how many targets received the frame.
func (b *Broadcaster) NewFrame(frame Frame) int {
	delivered := 0
	for _, t := range b.Targets() {
		if !t.Enabled() {
			continue
		}
		t.NewFrame(frame)
		delivered++
	}
	return delivered
}

// Enabled reports whether any target is enabled, so a Broadcaster can itself
// be chained as a target.
func (b *Broadcaster) Enabled() bool {
	for _, t := range b.Targets() {
		if t.Enabled() {
			return true
		}
	}
	return false
}
