package main

import (
	"math"
	"time"

	"github.com/gogpu/gg"

	"github.com/Swind/go-movie-writer/gpu"
)

// scene is the demo render graph: a ball orbiting over a sweeping bar.
type scene struct {
	w, h int
	dc   *gg.Context
}

func newScene(w, h int) *scene {
	return &scene{w: w, h: h, dc: gg.NewContext(w, h)}
}

func (s *scene) render(t time.Duration) *gpu.Framebuffer {
	dc := s.dc
	sec := t.Seconds()
	w, h := float64(s.w), float64(s.h)

	dc.ClearWithColor(gg.White)

	dc.SetRGB(0.15, 0.35, 0.8)
	barX := math.Mod(sec*w/2, w)
	dc.DrawRectangle(barX, 0, w/10, h)
	_ = dc.Fill()

	r := math.Min(w, h) / 8
	cx := w/2 + math.Cos(sec*math.Pi)*w/4
	cy := h/2 + math.Sin(sec*math.Pi)*h/4
	dc.SetRGB(0.9, 0.2, 0.2)
	dc.DrawCircle(cx, cy, r)
	_ = dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(2)
	dc.DrawCircle(cx, cy, r)
	_ = dc.Stroke()

	return gpu.FramebufferFromImage(dc.Image())
}

func (s *scene) close() {
	_ = s.dc.Close()
}
