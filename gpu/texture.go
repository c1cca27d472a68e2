package gpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Texture is a 4-byte-per-pixel texture owned by a Context.
type Texture struct {
	width, height int
	format        gputypes.TextureFormat
	data          []byte
	destroyed     bool
}

var _ gpucontext.TextureUpdater = (*Texture)(nil)

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Data returns the texel bytes. Callers must hold the owning Context.
func (t *Texture) Data() []byte { return t.data }

// UpdateData replaces the texture contents.
func (t *Texture) UpdateData(data []byte) error {
	if t.destroyed {
		return fmt.Errorf("gpu: update of destroyed texture")
	}
	if len(data) != len(t.data) {
		return fmt.Errorf("gpu: texture update size %d, want %d", len(data), len(t.data))
	}
	copy(t.data, data)
	return nil
}

// Destroy releases the texture storage.
func (t *Texture) Destroy() {
	t.destroyed = true
	t.data = nil
}

// IsDestroyed reports whether Destroy has been called.
func (t *Texture) IsDestroyed() bool { return t.destroyed }
