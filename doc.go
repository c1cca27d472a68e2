// Package moviewriter records frames from a GPU render graph, and optionally
// an audio stream, into a movie file.
//
// The work is split across three layers:
//
//   - core: serial queues and a bounded QueuePool that hands them out as
//     exclusive leases.
//   - sink: the FrameSink contract between a frame producer and its
//     consumers, plus a Broadcaster that fans one producer out to many.
//   - recorder: the MovieWriter state machine, a FrameSink that drives a
//     media.ContainerWriter session from its own serial queue.
//
// Container writers live under media/: rawfile is a dependency-free format
// for tests and tooling, gstwriter (build tag gst) encodes through GStreamer.
//
// # Quick Start
//
//	w, err := moviewriter.NewMovieWriter(rawfile.New(), "out.mwraw", image.Pt(640, 360))
//	if err != nil {
//		return err
//	}
//	if err := w.StartRecording(); err != nil {
//		return err
//	}
//	for i := 0; i < 90; i++ {
//		w.NewFrame(sink.Frame{Framebuffer: render(i), Timestamp: time.Duration(i) * time.Second / 30})
//	}
//	w.FinishRecording()
//	<-w.Done()
//	return w.Err()
//
// # Threading
//
// Every call on a MovieWriter is safe from any goroutine. Frames and audio
// buffers are appended on the writer's serial queue; a frame that arrives
// while its track is not ready is dropped rather than queued. Pull-mode
// recording (EnableSynchronizationCallbacks) and adaptor teardown lease a
// queue from the shared pool, sized with InitSharedQueuePool.
package moviewriter
