package recorder_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
)

// fakeWriter is an in-memory container writer whose readiness and failures
// are controlled by the test.
type fakeWriter struct {
	createErr error
	startErr  error

	videoReady atomic.Bool
	audioReady atomic.Bool
	failAppend atomic.Bool
	// rejectAppends makes that many appends return false without failing
	// the session.
	rejectAppends atomic.Int32

	mu       sync.Mutex
	sessions []*fakeSession
}

func newFakeWriter() *fakeWriter {
	w := &fakeWriter{}
	w.videoReady.Store(true)
	w.audioReady.Store(true)
	return w
}

func (w *fakeWriter) CreateSession(path string, fileType media.FileType) (media.Session, error) {
	if w.createErr != nil {
		return nil, w.createErr
	}
	s := &fakeSession{writer: w, path: path, fileType: fileType}
	w.mu.Lock()
	w.sessions = append(w.sessions, s)
	w.mu.Unlock()
	return s, nil
}

func (w *fakeWriter) session() *fakeSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.sessions) == 0 {
		return nil
	}
	return w.sessions[len(w.sessions)-1]
}

type fakeSession struct {
	writer   *fakeWriter
	path     string
	fileType media.FileType

	mu          sync.Mutex
	status      media.SessionStatus
	err         error
	inputs      []*fakeInput
	metadata    []media.MetadataItem
	startAt     []time.Duration
	finishCalls int
	cancelCalls int
}

func (s *fakeSession) AddInput(mt media.MediaType, settings media.InputSettings) (media.TrackInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := &fakeInput{session: s, mediaType: mt, settings: settings}
	s.inputs = append(s.inputs, in)
	return in, nil
}

func (s *fakeSession) NewPixelBufferAdaptor(input media.TrackInput) (media.PixelBufferAdaptor, error) {
	in, ok := input.(*fakeInput)
	if !ok {
		return nil, errors.New("foreign input")
	}
	return &fakeAdaptor{input: in}, nil
}

func (s *fakeSession) SetMetadata(items []media.MetadataItem) {
	s.mu.Lock()
	s.metadata = items
	s.mu.Unlock()
}

func (s *fakeSession) StartWriting() error {
	if s.writer.startErr != nil {
		return s.writer.startErr
	}
	s.mu.Lock()
	s.status = media.StatusWriting
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) StartSessionAtSourceTime(t time.Duration) {
	s.mu.Lock()
	s.startAt = append(s.startAt, t)
	s.mu.Unlock()
}

func (s *fakeSession) Finish(completion func()) {
	s.mu.Lock()
	s.finishCalls++
	if s.status == media.StatusWriting {
		s.status = media.StatusCompleted
	}
	s.mu.Unlock()
	go completion()
}

func (s *fakeSession) Cancel() {
	s.mu.Lock()
	s.cancelCalls++
	s.status = media.StatusCancelled
	s.mu.Unlock()
}

func (s *fakeSession) Status() media.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) startCalls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.startAt...)
}

func (s *fakeSession) counts() (finish, cancel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishCalls, s.cancelCalls
}

func (s *fakeSession) input(mt media.MediaType) *fakeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.inputs {
		if in.mediaType == mt {
			return in
		}
	}
	return nil
}

type fakeInput struct {
	session   *fakeSession
	mediaType media.MediaType
	settings  media.InputSettings

	mu       sync.Mutex
	finished bool
	pts      []time.Duration
	samples  [][]int16
	pixels   []*media.PixelBuffer
}

func (in *fakeInput) MediaType() media.MediaType { return in.mediaType }

func (in *fakeInput) ReadyForMoreMediaData() bool {
	if in.mediaType == media.MediaTypeAudio {
		return in.session.writer.audioReady.Load()
	}
	return in.session.writer.videoReady.Load()
}

func (in *fakeInput) accept(pts time.Duration) bool {
	s := in.session
	if s.writer.failAppend.Load() {
		s.mu.Lock()
		s.status = media.StatusFailed
		s.err = media.NewWriterError(media.CodeDiskFull, "append", nil)
		s.mu.Unlock()
		return false
	}
	if s.Status() != media.StatusWriting {
		return false
	}
	if n := s.writer.rejectAppends.Load(); n > 0 && s.writer.rejectAppends.CompareAndSwap(n, n-1) {
		return false
	}
	in.mu.Lock()
	in.pts = append(in.pts, pts)
	in.mu.Unlock()
	return true
}

func (in *fakeInput) Append(sample *media.SampleBuffer) bool {
	if !in.accept(sample.PresentationTime()) {
		return false
	}
	in.mu.Lock()
	in.samples = append(in.samples, append([]int16(nil), sample.Samples()...))
	in.mu.Unlock()
	return true
}

func (in *fakeInput) MarkAsFinished() {
	in.mu.Lock()
	in.finished = true
	in.mu.Unlock()
}

func (in *fakeInput) appended() []time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]time.Duration(nil), in.pts...)
}

func (in *fakeInput) isFinished() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.finished
}

type fakeAdaptor struct {
	input *fakeInput
}

func (a *fakeAdaptor) Input() media.TrackInput { return a.input }

func (a *fakeAdaptor) Append(buf *media.PixelBuffer, pts time.Duration) bool {
	if !a.input.accept(pts) {
		return false
	}
	a.input.mu.Lock()
	a.input.pixels = append(a.input.pixels, buf)
	a.input.mu.Unlock()
	return true
}

// fakeClock is a manually advanced core.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// dropCounter counts dropped samples by reason.
type dropCounter struct {
	core.NilMetrics
	mu       sync.Mutex
	dropped  map[string]int
	outcomes []string
}

func newDropCounter() *dropCounter {
	return &dropCounter{dropped: make(map[string]int)}
}

func (m *dropCounter) RecordSampleDropped(track, reason string) {
	m.mu.Lock()
	m.dropped[track+"/"+reason]++
	m.mu.Unlock()
}

func (m *dropCounter) RecordRecordingFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *dropCounter) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[key]
}
