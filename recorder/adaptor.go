package recorder

import (
	"image"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
)

// frameAdaptor turns rendered framebuffers into pixel buffers of the video
// size. It owns a render target and a texture in the GPU context's format;
// both are created on the first frame and must only be touched while the
// context is held.
type frameAdaptor struct {
	writer media.PixelBufferAdaptor
	size   image.Point

	target  *image.RGBA
	rotated *image.RGBA
	texture *gpu.Texture
	scratch []byte
	format  media.PixelFormat
}

func newFrameAdaptor(writer media.PixelBufferAdaptor, size image.Point) *frameAdaptor {
	return &frameAdaptor{writer: writer, size: size}
}

// prime allocates the render target and texture if needed.
func (a *frameAdaptor) prime(c *gpu.Context) {
	if a.texture != nil {
		return
	}
	a.target = image.NewRGBA(image.Rectangle{Max: a.size})
	a.texture = c.NewTexture(a.size.X, a.size.Y)
	a.format = media.PixelFormatRGBA
	if c.Format() == gputypes.TextureFormatBGRA8Unorm {
		a.format = media.PixelFormatBGRA
	}
}

// render draws fb, turned by rotation, into the render target and copies
// the result out of the texture into a new pixel buffer.
func (a *frameAdaptor) render(fb *gpu.Framebuffer, rotation gpu.Rotation) (*media.PixelBuffer, error) {
	src := fb.Image()
	if rotation != gpu.NoRotation {
		src = a.rotate(src, rotation)
	}
	if src.Rect.Size() == a.size {
		draw.Draw(a.target, a.target.Bounds(), src, src.Rect.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(a.target, a.target.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	pix := a.target.Pix
	if a.format == media.PixelFormatBGRA {
		if len(a.scratch) != len(pix) {
			a.scratch = make([]byte, len(pix))
		}
		swizzle(a.scratch, pix)
		pix = a.scratch
	}
	if err := a.texture.UpdateData(pix); err != nil {
		return nil, err
	}

	buf := media.NewPixelBuffer(a.size.X, a.size.Y, a.format)
	copy(buf.Data, a.texture.Data())
	return buf, nil
}

func (a *frameAdaptor) rotate(src *image.RGBA, rotation gpu.Rotation) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	w, h := sw, sh
	if rotation.SwapsWidthAndHeight() {
		w, h = sh, sw
	}
	if a.rotated == nil || a.rotated.Rect.Dx() != w || a.rotated.Rect.Dy() != h {
		a.rotated = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := rotation.SourcePoint(x, y, w, h)
			si := src.PixOffset(src.Rect.Min.X+sx, src.Rect.Min.Y+sy)
			di := a.rotated.PixOffset(x, y)
			copy(a.rotated.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return a.rotated
}

// swizzle writes rgba into dst in BGRA order.
func swizzle(dst, rgba []byte) {
	for i := 0; i+3 < len(rgba); i += 4 {
		dst[i+0] = rgba[i+2]
		dst[i+1] = rgba[i+1]
		dst[i+2] = rgba[i+0]
		dst[i+3] = rgba[i+3]
	}
}

func (a *frameAdaptor) append(buf *media.PixelBuffer, pts time.Duration) bool {
	return a.writer.Append(buf, pts)
}

// destroy releases the render target and texture.
func (a *frameAdaptor) destroy() {
	if a.texture != nil {
		a.texture.Destroy()
	}
	a.target = nil
	a.rotated = nil
	a.scratch = nil
}
