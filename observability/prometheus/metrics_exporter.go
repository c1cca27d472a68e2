package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-movie-writer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// LatencyBuckets bucket append and lease-wait latencies, in seconds.
	LatencyBuckets []float64
	// DurationBuckets bucket recording lengths, in seconds.
	DurationBuckets []float64
}

var (
	defaultLatencyBuckets  = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}
	defaultDurationBuckets = []float64{1, 5, 15, 30, 60, 300, 900, 3600}
)

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	samplesAppended   *prom.CounterVec
	appendLatency     *prom.HistogramVec
	samplesDropped    *prom.CounterVec
	recordings        *prom.CounterVec
	recordingDuration *prom.HistogramVec
	leaseWait         *prom.HistogramVec
	leasesOutstanding *prom.GaugeVec
	taskPanicTotal    *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "moviewriter"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	latency := opts.LatencyBuckets
	if len(latency) == 0 {
		latency = defaultLatencyBuckets
	}
	durations := opts.DurationBuckets
	if len(durations) == 0 {
		durations = defaultDurationBuckets
	}

	appendedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "samples_appended_total",
		Help:      "Samples accepted by a track input.",
	}, []string{"track"})
	latencyVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "append_latency_seconds",
		Help:      "Time spent in the container writer's append call.",
		Buckets:   latency,
	}, []string{"track"})
	droppedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "samples_dropped_total",
		Help:      "Samples that were not appended, by reason.",
	}, []string{"track", "reason"})
	recordingsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_finished_total",
		Help:      "Recordings that reached a terminal state, by outcome.",
	}, []string{"outcome"})
	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "recording_duration_seconds",
		Help:      "Length of written media per recording.",
		Buckets:   durations,
	}, []string{"outcome"})
	leaseWaitVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "lease_wait_seconds",
		Help:      "Time spent waiting for a queue pool lease.",
		Buckets:   latency,
	}, []string{"pool"})
	outstandingVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "leases_outstanding",
		Help:      "Queues currently leased from a pool.",
	}, []string{"pool"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"queue"})

	var err error
	if appendedVec, err = registerCollector(reg, appendedVec); err != nil {
		return nil, err
	}
	if latencyVec, err = registerCollector(reg, latencyVec); err != nil {
		return nil, err
	}
	if droppedVec, err = registerCollector(reg, droppedVec); err != nil {
		return nil, err
	}
	if recordingsVec, err = registerCollector(reg, recordingsVec); err != nil {
		return nil, err
	}
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if leaseWaitVec, err = registerCollector(reg, leaseWaitVec); err != nil {
		return nil, err
	}
	if outstandingVec, err = registerCollector(reg, outstandingVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		samplesAppended:   appendedVec,
		appendLatency:     latencyVec,
		samplesDropped:    droppedVec,
		recordings:        recordingsVec,
		recordingDuration: durationVec,
		leaseWait:         leaseWaitVec,
		leasesOutstanding: outstandingVec,
		taskPanicTotal:    panicVec,
	}, nil
}

// RecordSampleAppended counts an accepted sample and observes its append latency.
func (m *MetricsExporter) RecordSampleAppended(track string, latency time.Duration) {
	if m == nil {
		return
	}
	track = normalizeLabel(track, "unknown")
	m.samplesAppended.WithLabelValues(track).Inc()
	m.appendLatency.WithLabelValues(track).Observe(latency.Seconds())
}

// RecordSampleDropped counts a dropped sample.
func (m *MetricsExporter) RecordSampleDropped(track string, reason string) {
	if m == nil {
		return
	}
	m.samplesDropped.WithLabelValues(normalizeLabel(track, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordRecordingFinished counts a terminal outcome and observes the written duration.
func (m *MetricsExporter) RecordRecordingFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = normalizeLabel(outcome, "unknown")
	m.recordings.WithLabelValues(outcome).Inc()
	m.recordingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLeaseWait observes a pool lease wait.
func (m *MetricsExporter) RecordLeaseWait(pool string, wait time.Duration) {
	if m == nil {
		return
	}
	m.leaseWait.WithLabelValues(normalizeLabel(pool, "unknown")).Observe(wait.Seconds())
}

// RecordLeasesOutstanding sets the outstanding lease gauge.
func (m *MetricsExporter) RecordLeasesOutstanding(pool string, outstanding int) {
	if m == nil {
		return
	}
	m.leasesOutstanding.WithLabelValues(normalizeLabel(pool, "unknown")).Set(float64(outstanding))
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
