package gpu

import (
	"image"

	"golang.org/x/image/draw"
)

// Framebuffer is a rendered RGBA frame handed from the render graph to its
// targets. Targets must treat it as read-only.
type Framebuffer struct {
	img *image.RGBA
}

// NewFramebuffer allocates a blank w×h framebuffer.
func NewFramebuffer(w, h int) *Framebuffer {
	return &Framebuffer{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// FramebufferFromImage wraps img, converting it to RGBA when needed.
func FramebufferFromImage(img image.Image) *Framebuffer {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return &Framebuffer{img: rgba}
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Framebuffer{img: rgba}
}

// Size returns the framebuffer dimensions.
func (f *Framebuffer) Size() image.Point { return f.img.Rect.Size() }

// Image returns the backing image.
func (f *Framebuffer) Image() *image.RGBA { return f.img }
