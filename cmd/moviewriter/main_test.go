package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media/rawfile"
)

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cfg, err := loadConfig([]string{"-out", "clip.mkv", "-writer", "gst", "-duration", "2s", "-audio", "-pull"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if ft, _ := cfg.FileType(); ft != "mkv" {
		t.Errorf("file type: got = %s, want mkv", ft)
	}
	if cfg.Duration.Std() != 2*time.Second || !cfg.Audio.Enabled || !cfg.Video.Pull {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if _, err := loadConfig([]string{"-out", "clip.avi"}); err == nil {
		t.Error("unknown extension accepted")
	}
}

// TestRun_RecordsRawFile verifies the demo records end to end with the pure-Go writer
// Given: A 64x48, 30 fps configuration with audio, in push and pull modes
// When: run records 300ms
// Then: A readable rawfile with video and audio samples is produced
func TestRun_RecordsRawFile(t *testing.T) {
	for _, pullMode := range []bool{false, true} {
		name := "push"
		if pullMode {
			name = "pull"
		}
		t.Run(name, func(t *testing.T) {
			// Arrange
			out := filepath.Join(t.TempDir(), "demo.mwraw")
			cfg, err := loadConfig([]string{"-out", out, "-duration", "300ms", "-audio"})
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			cfg.Video.Width, cfg.Video.Height = 64, 48
			cfg.Video.Pull = pullMode

			// Act
			err = run(context.Background(), cfg, core.NewNoOpLogger())

			// Assert
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			f, err := os.Open(out)
			if err != nil {
				t.Fatalf("open output: %v", err)
			}
			defer f.Close()
			movie, err := rawfile.Read(f)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if len(movie.Header.Tracks) != 2 {
				t.Fatalf("tracks: got = %d, want 2", len(movie.Header.Tracks))
			}
			if movie.Trailer.Samples[0] == 0 || movie.Trailer.Samples[1] == 0 {
				t.Errorf("samples per track: got = %v", movie.Trailer.Samples)
			}
		})
	}
}

func TestTone_ContinuousPhase(t *testing.T) {
	snd := &tone{hz: 1000, sampleRate: 8000, channels: 2}
	a := snd.next(0, 10*time.Millisecond)
	b := snd.next(10*time.Millisecond, 10*time.Millisecond)
	defer a.Release()
	defer b.Release()

	if a.NumSamples() != 80 || len(a.Samples()) != 160 {
		t.Fatalf("buffer size: got %d frames, %d samples", a.NumSamples(), len(a.Samples()))
	}
	if s := a.Samples(); s[0] != s[1] {
		t.Error("channels differ")
	}
	// 1 kHz at 8 kHz repeats every 8 frames, so both buffers start identically.
	if a.Samples()[2] != b.Samples()[2] {
		t.Errorf("phase not continuous: %d vs %d", a.Samples()[2], b.Samples()[2])
	}
}
