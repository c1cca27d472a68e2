package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("moviewriter", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordSampleAppended("video", 2*time.Millisecond)
	exporter.RecordSampleAppended("video", 3*time.Millisecond)
	exporter.RecordSampleDropped("audio", "not_ready")
	exporter.RecordSampleDropped("", "")
	exporter.RecordRecordingFinished("completed", 90*time.Second)
	exporter.RecordLeaseWait("shared", time.Millisecond)
	exporter.RecordLeasesOutstanding("shared", 3)
	exporter.RecordTaskPanic("movie-writer-1", "panic")

	if got := testutil.ToFloat64(exporter.samplesAppended.WithLabelValues("video")); got != 2 {
		t.Fatalf("appended total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.samplesDropped.WithLabelValues("audio", "not_ready")); got != 1 {
		t.Fatalf("dropped total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.samplesDropped.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("dropped with empty labels = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.recordings.WithLabelValues("completed")); got != 1 {
		t.Fatalf("recordings total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.leasesOutstanding.WithLabelValues("shared")); got != 3 {
		t.Fatalf("outstanding leases = %v, want 3", got)
	}
	if got := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("movie-writer-1")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(exporter.appendLatency); n != 1 {
		t.Fatalf("latency series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(exporter.recordingDuration); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("moviewriter", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("moviewriter", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordSampleDropped("video", "paused")
	second.RecordSampleDropped("video", "paused")

	got := testutil.ToFloat64(first.samplesDropped.WithLabelValues("video", "paused"))
	if got != 2 {
		t.Fatalf("shared dropped counter = %v, want 2", got)
	}
}

func TestMetricsExporter_NilSafe(t *testing.T) {
	var m *MetricsExporter
	m.RecordSampleAppended("video", time.Millisecond)
	m.RecordRecordingFinished("failed", 0)
	m.RecordLeaseWait("p", 0)
}
