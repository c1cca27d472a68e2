package recorder

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
)

type bgraProvider struct{}

func (bgraProvider) Device() gpucontext.Device             { return nil }
func (bgraProvider) Queue() gpucontext.Queue               { return nil }
func (bgraProvider) Adapter() gpucontext.Adapter           { return nil }
func (bgraProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (bgraProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{} }

type capturingAdaptor struct {
	bufs []*media.PixelBuffer
}

func (c *capturingAdaptor) Input() media.TrackInput { return nil }

func (c *capturingAdaptor) Append(buf *media.PixelBuffer, _ time.Duration) bool {
	c.bufs = append(c.bufs, buf)
	return true
}

func pixelAt(buf *media.PixelBuffer, x, y int) [4]byte {
	i := y*buf.Stride + x*4
	return [4]byte{buf.Data[i], buf.Data[i+1], buf.Data[i+2], buf.Data[i+3]}
}

// TestFrameAdaptor_RotateRight verifies a 2x4 portrait frame lands rotated in a 4x2 movie
// Given: A framebuffer with a red top-left pixel
// When: It is rendered with RotateRight into a 4x2 target
// Then: The red pixel ends up in the top-right corner
func TestFrameAdaptor_RotateRight(t *testing.T) {
	// Arrange
	ctx := gpu.NewContext(nil)
	a := newFrameAdaptor(&capturingAdaptor{}, image.Pt(4, 2))
	fb := gpu.NewFramebuffer(2, 4)
	fb.Image().Set(0, 0, color.RGBA{R: 255, A: 255})

	// Act
	var buf *media.PixelBuffer
	err := ctx.Use("test", func() error {
		a.prime(ctx)
		var err error
		buf, err = a.render(fb, gpu.RotateRight)
		return err
	})

	// Assert
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if buf.Width != 4 || buf.Height != 2 || buf.Format != media.PixelFormatRGBA {
		t.Fatalf("buffer: got %dx%d %s, want 4x2 RGBA", buf.Width, buf.Height, buf.Format)
	}
	if got := pixelAt(buf, 3, 0); got != [4]byte{255, 0, 0, 255} {
		t.Errorf("top-right pixel: got = %v, want red", got)
	}
	if got := pixelAt(buf, 0, 0); got[0] != 0 {
		t.Errorf("top-left pixel: got = %v, want black", got)
	}
}

// TestFrameAdaptor_BGRAContext verifies the texture format selects the byte order
func TestFrameAdaptor_BGRAContext(t *testing.T) {
	ctx := gpu.NewContext(bgraProvider{})
	a := newFrameAdaptor(&capturingAdaptor{}, image.Pt(2, 2))
	fb := gpu.NewFramebuffer(2, 2)
	fb.Image().Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	var buf *media.PixelBuffer
	err := ctx.Use("test", func() error {
		a.prime(ctx)
		var err error
		buf, err = a.render(fb, gpu.NoRotation)
		return err
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if buf.Format != media.PixelFormatBGRA {
		t.Errorf("format: got = %s, want BGRA", buf.Format)
	}
	if got := pixelAt(buf, 1, 1); got != [4]byte{30, 20, 10, 255} {
		t.Errorf("pixel: got = %v, want BGRA 30 20 10 255", got)
	}
	tex := a.texture
	a.destroy()
	if !tex.IsDestroyed() {
		t.Error("texture not destroyed")
	}
}

// TestFrameAdaptor_ScalesToVideoSize verifies frames of another size are scaled
func TestFrameAdaptor_ScalesToVideoSize(t *testing.T) {
	ctx := gpu.NewContext(nil)
	a := newFrameAdaptor(&capturingAdaptor{}, image.Pt(4, 4))
	fb := gpu.NewFramebuffer(8, 8)
	for y := range 8 {
		for x := range 8 {
			fb.Image().Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}

	var buf *media.PixelBuffer
	_ = ctx.Use("test", func() error {
		a.prime(ctx)
		var err error
		buf, err = a.render(fb, gpu.NoRotation)
		return err
	})
	if buf == nil || len(buf.Data) != 4*4*4 {
		t.Fatalf("buffer: got %v, want 4x4", buf)
	}
	if got := pixelAt(buf, 2, 2); got[1] != 200 || got[3] != 255 {
		t.Errorf("scaled pixel: got = %v, want opaque green", got)
	}
}

func TestTimeline_Rebase(t *testing.T) {
	var tl timeline
	base := time.Unix(0, 0)

	if _, reason := tl.rebase(media.MediaTypeAudio, time.Second); reason != dropBeforeAnchor {
		t.Errorf("audio before anchor: got reason %q", reason)
	}
	out, reason := tl.rebase(media.MediaTypeVideo, 3*time.Second)
	if reason != "" || out != 0 {
		t.Fatalf("first video: got %v %q, want 0", out, reason)
	}
	tl.commit(media.MediaTypeVideo, 3*time.Second, out)

	tl.pause(base)
	tl.pause(base.Add(time.Second))
	if d := tl.resume(base.Add(2 * time.Second)); d != 2*time.Second {
		t.Errorf("pause length: got = %v, want 2s", d)
	}
	if d := tl.resume(base.Add(3 * time.Second)); d != 0 {
		t.Errorf("resume while running: got = %v, want 0", d)
	}

	out, reason = tl.rebase(media.MediaTypeVideo, 6*time.Second)
	if reason != "" || out != time.Second {
		t.Errorf("after pause: got %v %q, want 1s", out, reason)
	}
	tl.commit(media.MediaTypeVideo, 6*time.Second, out)
	if _, reason := tl.rebase(media.MediaTypeVideo, 6*time.Second); reason != dropNonMonotonic {
		t.Errorf("repeated timestamp: got reason %q", reason)
	}
	if _, reason := tl.rebase(media.MediaTypeAudio, 4*time.Second); reason != dropBeforeAnchor {
		t.Errorf("audio inside cut interval: got reason %q", reason)
	}
}

func TestTimeline_PauseBeforeAnchorIsFree(t *testing.T) {
	var tl timeline
	base := time.Unix(0, 0)
	tl.pause(base)
	tl.resume(base.Add(time.Minute))

	out, _ := tl.rebase(media.MediaTypeVideo, 10*time.Second)
	tl.commit(media.MediaTypeVideo, 10*time.Second, out)
	out, reason := tl.rebase(media.MediaTypeVideo, 11*time.Second)
	if reason != "" || out != time.Second {
		t.Errorf("got %v %q, want 1s", out, reason)
	}
}
