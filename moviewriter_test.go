package moviewriter

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media/rawfile"
)

// TestNewMovieWriter_RecordsThroughBroadcaster verifies the package-level helpers end to end
// Given: A MovieWriter on the rawfile writer registered with a Broadcaster
// When: Frames are broadcast and the recording is finished
// Then: The writer completes without error and the file holds every frame
func TestNewMovieWriter_RecordsThroughBroadcaster(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "out.mwraw")
	w, err := NewMovieWriter(rawfile.New(), path, image.Pt(8, 8), WithLogger(core.NewNoOpLogger()))
	if err != nil {
		t.Fatalf("NewMovieWriter: %v", err)
	}
	b := NewBroadcaster()
	b.AddTarget(w)
	if err := w.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	// Act
	for i := 0; i < 5; i++ {
		fb := gpu.NewFramebuffer(8, 8)
		b.NewFrame(Frame{Framebuffer: fb, Timestamp: time.Duration(i) * 40 * time.Millisecond})
	}
	w.FinishRecording()

	// Assert
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not finish")
	}
	if err := w.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	movie, err := rawfile.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := len(movie.SamplesFor(0)); got != 5 {
		t.Errorf("video samples: got = %d, want 5", got)
	}
}

func TestRunOnPooledQueue(t *testing.T) {
	ran := false
	err := RunOnPooledQueue(context.Background(), func(ctx context.Context) {
		ran = core.GetCurrentQueue(ctx) != nil
	})
	if err != nil {
		t.Fatalf("RunOnPooledQueue: %v", err)
	}
	if !ran {
		t.Error("task did not run on a pooled queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RunOnPooledQueue(ctx, func(context.Context) {})
	if err != nil && !errors.Is(err, ErrResourceExhausted) && !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: got %v", err)
	}
}
