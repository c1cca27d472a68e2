package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/Swind/go-movie-writer/config"
	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/recorder"
	"github.com/Swind/go-movie-writer/sink"
)

const drainTimeout = 30 * time.Second

// previewSink stands in for an on-screen view sharing the render graph.
type previewSink struct {
	frames   atomic.Int64
	rotation atomic.Int32
}

func (p *previewSink) SetInputRotation(r gpu.Rotation) { p.rotation.Store(int32(r)) }
func (p *previewSink) NewFrame(sink.Frame)             { p.frames.Add(1) }
func (p *previewSink) Enabled() bool                   { return true }

func run(ctx context.Context, cfg *config.Config, logger core.Logger) error {
	metrics, poller, shutdown, err := serveMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	writer, err := newWriter(cfg, logger)
	if err != nil {
		return err
	}
	fileType, err := cfg.FileType()
	if err != nil {
		return err
	}
	rotation, err := gpu.ParseRotation(cfg.Video.Rotation)
	if err != nil {
		return err
	}

	pool := core.NewQueuePool("moviewriter", cfg.Pool.Size,
		core.WithPoolMetrics(metrics),
		core.WithPoolLogger(logger),
	)
	defer pool.Close()
	gctx := gpu.NewContext(nil)
	defer gctx.Destroy()
	if poller != nil {
		poller.AddPool(pool.Name(), pool)
	}

	w, err := recorder.New(writer, cfg.Output.Path, image.Pt(cfg.Video.Width, cfg.Video.Height),
		recorder.WithLogger(logger),
		recorder.WithMetrics(metrics),
		recorder.WithQueuePool(pool),
		recorder.WithGPUContext(gctx),
		recorder.WithFileType(fileType),
		recorder.WithVideoSettings(cfg.VideoSettings()),
		recorder.WithDelegate(recorder.DelegateFunc(func(w *recorder.MovieWriter, err error) {
			if err == nil {
				logger.Info("movie written", core.F("path", w.Path()), core.F("duration", w.Duration()))
			}
		})),
	)
	if err != nil {
		return err
	}
	if cfg.Audio.Enabled {
		if err := w.SetHasAudioTrack(true, cfg.AudioSettings()); err != nil {
			return err
		}
	}
	if items := cfg.MetadataItems(); len(items) > 0 {
		if err := w.SetMetadata(items); err != nil {
			return err
		}
	}
	if err := w.SetEncodingLiveVideo(cfg.Video.Live); err != nil {
		return err
	}
	if poller != nil {
		name := w.ID().String()[:8]
		poller.AddRecorder(name, w)
		defer poller.RemoveRecorder(name)
	}

	sceneW, sceneH := cfg.Video.Width, cfg.Video.Height
	if rotation.SwapsWidthAndHeight() {
		sceneW, sceneH = sceneH, sceneW
	}
	sc := newScene(sceneW, sceneH)
	defer sc.close()

	if err := w.StartRecording(); err != nil {
		return err
	}
	logger.Info("recording",
		core.F("path", cfg.Output.Path),
		core.F("writer", cfg.Output.Writer),
		core.F("duration", cfg.Duration.Std()),
		core.F("audio", cfg.Audio.Enabled),
		core.F("pull", cfg.Video.Pull),
	)

	if cfg.Video.Pull {
		err = pull(ctx, cfg, w, sc, rotation)
	} else {
		err = push(ctx, cfg, w, sc, rotation, logger)
	}
	if err != nil {
		w.CancelRecording()
		return err
	}

	select {
	case <-w.Done():
	case <-time.After(drainTimeout):
		w.CancelRecording()
		return fmt.Errorf("recording did not finish within %s", drainTimeout)
	}
	if err := w.Err(); err != nil {
		if errors.Is(err, core.ErrCancelled) && ctx.Err() != nil {
			logger.Warn("recording interrupted", core.F("path", cfg.Output.Path))
			return nil
		}
		return err
	}
	return nil
}

// push renders frames on a wall-clock ticker and fans them out through a
// Broadcaster, as a live render loop would.
func push(ctx context.Context, cfg *config.Config, w *recorder.MovieWriter, sc *scene, rotation gpu.Rotation, logger core.Logger) error {
	preview := &previewSink{}
	b := sink.NewBroadcaster()
	b.SetInputRotation(rotation)
	b.AddTarget(w)
	b.AddTarget(preview)
	defer func() { logger.Debug("preview frames", core.F("frames", preview.frames.Load())) }()

	frameDur := time.Duration(float64(time.Second) / cfg.Video.FPS)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	snd := newTone(cfg)
	start := time.Now()
	prev := -frameDur
	pauseAt, pauseFor := cfg.PauseAt.Std(), cfg.PauseFor.Std()
	paused := false

	for {
		select {
		case <-ctx.Done():
			w.CancelRecording()
			return nil
		case now := <-ticker.C:
			ts := now.Sub(start)
			if ts >= cfg.Duration.Std() {
				w.FinishRecording()
				return nil
			}
			if pauseFor > 0 && ts >= pauseAt {
				switch {
				case !paused:
					w.Pause()
					paused = true
				case ts >= pauseAt+pauseFor && w.IsPaused():
					w.Resume()
				}
			}
			b.NewFrame(sink.Frame{Framebuffer: sc.render(ts), Timestamp: ts})
			if snd != nil {
				w.ProcessAudioBuffer(snd.next(ts, ts-prev), media.TransferOnConsume)
			}
			prev = ts
		}
	}
}

// pull lets the recorder pace frame production from track readiness. The
// recorder finishes on its own once both callbacks report no more data.
func pull(ctx context.Context, cfg *config.Config, w *recorder.MovieWriter, sc *scene, rotation gpu.Rotation) error {
	frameDur := time.Duration(float64(time.Second) / cfg.Video.FPS)
	total := int64(cfg.Duration.Std() / frameDur)
	var sent atomic.Int64

	w.SetInputRotation(rotation)
	w.SetVideoInputReadyCallback(func() bool {
		i := sent.Load()
		if i >= total {
			return false
		}
		ts := time.Duration(i) * frameDur
		w.NewFrame(sink.Frame{Framebuffer: sc.render(ts), Timestamp: ts})
		sent.Add(1)
		return true
	})

	if snd := newTone(cfg); snd != nil {
		var next int64
		w.SetAudioInputReadyCallback(func() bool {
			if next >= total {
				return false
			}
			if next >= sent.Load() {
				return true
			}
			ts := time.Duration(next) * frameDur
			w.ProcessAudioBuffer(snd.next(ts, frameDur), media.TransferOnConsume)
			next++
			return true
		})
	}

	if err := w.EnableSynchronizationCallbacks(ctx); err != nil {
		if errors.Is(err, core.ErrResourceExhausted) {
			return fmt.Errorf("no queue free for the pull loop: %w", err)
		}
		return err
	}

	select {
	case <-ctx.Done():
		w.CancelRecording()
	case <-w.Done():
	}
	return nil
}

func newTone(cfg *config.Config) *tone {
	if !cfg.Audio.Enabled {
		return nil
	}
	return &tone{hz: cfg.Audio.ToneHz, sampleRate: cfg.Audio.SampleRate, channels: cfg.Audio.Channels}
}
