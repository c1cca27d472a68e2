package rawfile_test

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/media/rawfile"
)

func finishAndWait(t *testing.T, s media.Session) {
	t.Helper()
	done := make(chan struct{})
	s.Finish(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish completion not called")
	}
}

// waitReady polls until the input drains below its buffer depth.
func waitReady(t *testing.T, in media.TrackInput) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !in.ReadyForMoreMediaData() {
		if time.Now().After(deadline) {
			t.Fatal("input never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSession_WritesInterleavedTracks verifies a full write/read round through the muxer
// Given: A session with a video and an audio input
// When: Frames and PCM samples are appended and the session finishes
// Then: The file decodes with every sample, rebased to the session start
func TestSession_WritesInterleavedTracks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mwraw")
	s, err := rawfile.New().CreateSession(path, media.FileTypeRaw)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	video, err := s.AddInput(media.MediaTypeVideo, media.InputSettings{
		Video: media.DefaultVideoSettings(image.Pt(4, 2)),
	})
	if err != nil {
		t.Fatalf("AddInput video: %v", err)
	}
	audio, err := s.AddInput(media.MediaTypeAudio, media.InputSettings{Audio: media.DefaultAudioSettings()})
	if err != nil {
		t.Fatalf("AddInput audio: %v", err)
	}
	adaptor, err := s.NewPixelBufferAdaptor(video)
	if err != nil {
		t.Fatalf("NewPixelBufferAdaptor: %v", err)
	}
	s.SetMetadata([]media.MetadataItem{{Key: "title", Value: "test"}})
	if err := s.StartWriting(); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}
	s.StartSessionAtSourceTime(time.Second)

	for i := range 3 {
		waitReady(t, video)
		pts := time.Second + time.Duration(i)*33*time.Millisecond
		if !adaptor.Append(media.NewPixelBuffer(4, 2, media.PixelFormatRGBA), pts) {
			t.Fatalf("video append %d rejected: %v", i, s.Err())
		}
		waitReady(t, audio)
		buf := media.NewAudioSampleBuffer(pts, []int16{1, -1, 2, -2}, 1, 48000)
		if !audio.Append(buf) {
			t.Fatalf("audio append %d rejected: %v", i, s.Err())
		}
		buf.Release()
	}
	finishAndWait(t, s)

	if got := s.Status(); got != media.StatusCompleted {
		t.Fatalf("status = %v, want completed (err %v)", got, s.Err())
	}
	f, err := rawfile.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(f.Header.Tracks) != 2 || f.Header.Tracks[1].Type != "audio" {
		t.Errorf("tracks = %+v", f.Header.Tracks)
	}
	if len(f.Header.Metadata) != 1 || f.Header.Metadata[0].Value != "test" {
		t.Errorf("metadata = %+v", f.Header.Metadata)
	}
	v := f.SamplesFor(0)
	if len(v) != 3 {
		t.Fatalf("video samples = %d, want 3", len(v))
	}
	if v[0].PTS != 0 || v[2].PTS != 66*time.Millisecond {
		t.Errorf("video pts = %v, %v; want 0, 66ms", v[0].PTS, v[2].PTS)
	}
	if len(v[0].Payload) != 4*2*4 {
		t.Errorf("pixel payload = %d bytes, want 32", len(v[0].Payload))
	}
	a := f.SamplesFor(1)
	if len(a) != 3 || len(a[0].Payload) != 8 {
		t.Errorf("audio records = %d, first payload %d bytes", len(a), len(a[0].Payload))
	}
	if f.Trailer.Samples[0] != 3 || f.Trailer.Samples[1] != 3 {
		t.Errorf("trailer samples = %v", f.Trailer.Samples)
	}
}

// TestSession_BackpressureSignal verifies readiness tracks the per-track buffer
// Given: A writer with a one-sample buffer and a muxer blocked by the write hook
// When: One sample is appended
// Then: The input reports not ready until the muxer writes it
func TestSession_BackpressureSignal(t *testing.T) {
	gate := make(chan struct{})
	w := rawfile.New(
		rawfile.WithTrackBuffer(1),
		rawfile.WithBeforeWrite(func(media.MediaType) { <-gate }),
	)
	path := filepath.Join(t.TempDir(), "bp.mwraw")
	s, err := w.CreateSession(path, media.FileTypeRaw)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	video, _ := s.AddInput(media.MediaTypeVideo, media.InputSettings{})
	adaptor, _ := s.NewPixelBufferAdaptor(video)
	if err := s.StartWriting(); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}

	if !video.ReadyForMoreMediaData() {
		t.Fatal("fresh input not ready")
	}
	if !adaptor.Append(media.NewPixelBuffer(2, 2, media.PixelFormatRGBA), 0) {
		t.Fatal("first append rejected")
	}
	if video.ReadyForMoreMediaData() {
		t.Fatal("input ready while its buffer is full")
	}

	close(gate)
	waitReady(t, video)
	finishAndWait(t, s)
	if got := s.Status(); got != media.StatusCompleted {
		t.Fatalf("status = %v, want completed", got)
	}
}

// TestSession_AppendWhileNotReadyFails verifies the readiness contract is enforced
func TestSession_AppendWhileNotReadyFails(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	w := rawfile.New(
		rawfile.WithTrackBuffer(1),
		rawfile.WithBeforeWrite(func(media.MediaType) { <-gate }),
	)
	s, err := w.CreateSession(filepath.Join(t.TempDir(), "nr.mwraw"), media.FileTypeRaw)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	video, _ := s.AddInput(media.MediaTypeVideo, media.InputSettings{})
	adaptor, _ := s.NewPixelBufferAdaptor(video)
	_ = s.StartWriting()

	adaptor.Append(media.NewPixelBuffer(2, 2, media.PixelFormatRGBA), 0)
	if adaptor.Append(media.NewPixelBuffer(2, 2, media.PixelFormatRGBA), time.Millisecond) {
		t.Fatal("append on a full input accepted")
	}
	if got := s.Status(); got != media.StatusFailed {
		t.Fatalf("status = %v, want failed", got)
	}
	if got := media.CodeOf(s.Err()); got != media.CodeInputNotReady {
		t.Errorf("error code = %v, want input not ready", got)
	}
}

// TestSession_CancelRemovesFile verifies cancellation discards the partial output
func TestSession_CancelRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.mwraw")
	s, err := rawfile.New().CreateSession(path, media.FileTypeRaw)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	video, _ := s.AddInput(media.MediaTypeVideo, media.InputSettings{})
	adaptor, _ := s.NewPixelBufferAdaptor(video)
	_ = s.StartWriting()
	adaptor.Append(media.NewPixelBuffer(2, 2, media.PixelFormatRGBA), 0)

	s.Cancel()
	s.Cancel()

	if got := s.Status(); got != media.StatusCancelled {
		t.Errorf("status = %v, want cancelled", got)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output still present after cancel: %v", err)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := rawfile.New().CreateSession(filepath.Join(dir, "x.mp4"), media.FileTypeMP4); media.CodeOf(err) != media.CodeUnsupportedFileType {
		t.Errorf("mp4: err = %v, want unsupported file type", err)
	}

	existing := filepath.Join(dir, "exists.mwraw")
	if err := os.WriteFile(existing, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := rawfile.New().CreateSession(existing, media.FileTypeRaw); media.CodeOf(err) != media.CodeFileAlreadyExists {
		t.Errorf("existing: err = %v, want file already exists", err)
	}

	if _, err := rawfile.New().CreateSession(filepath.Join(dir, "missing", "x.mwraw"), media.FileTypeRaw); media.CodeOf(err) != media.CodeWriteFailed {
		t.Errorf("missing dir: err = %v, want write failed", err)
	}
}

// TestSession_TransferredSampleInvalidatedAfterWrite verifies the writer drops its reference after writing
func TestSession_TransferredSampleInvalidatedAfterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "own.mwraw")
	s, _ := rawfile.New().CreateSession(path, media.FileTypeRaw)
	audio, _ := s.AddInput(media.MediaTypeAudio, media.InputSettings{Audio: media.DefaultAudioSettings()})
	_ = s.StartWriting()

	freed := make(chan struct{})
	buf := media.NewAudioSampleBuffer(0, []int16{1, 2}, 1, 48000)
	buf.OnInvalidate(func() { close(freed) })
	if !audio.Append(buf) {
		t.Fatal("append rejected")
	}
	buf.Release()

	select {
	case <-freed:
	case <-time.After(5 * time.Second):
		t.Fatal("sample storage never invalidated")
	}
	finishAndWait(t, s)
}
