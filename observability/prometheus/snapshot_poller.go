package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-movie-writer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// RecorderSnapshotProvider exposes the live state of one recorder.
type RecorderSnapshotProvider interface {
	Duration() time.Duration
	IsPaused() bool
}

// SnapshotPoller periodically exports pool and recorder snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	recordersMu sync.RWMutex
	recorders   map[string]RecorderSnapshotProvider

	poolCapacity    *prom.GaugeVec
	poolOutstanding *prom.GaugeVec
	poolAvailable   *prom.GaugeVec
	poolClosed      *prom.GaugeVec

	recorderDuration *prom.GaugeVec
	recorderPaused   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	poolCapacity := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "pool_capacity",
		Help:      "Queues owned by each pool.",
	}, []string{"pool"})
	poolOutstanding := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "pool_outstanding",
		Help:      "Queues currently leased per pool.",
	}, []string{"pool"})
	poolAvailable := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "pool_available",
		Help:      "Queues free to lease per pool.",
	}, []string{"pool"})
	poolClosed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "pool_closed",
		Help:      "Pool closed state (1=closed, 0=open).",
	}, []string{"pool"})
	recorderDuration := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "recorder_duration_seconds",
		Help:      "Media written so far per recorder.",
	}, []string{"recorder"})
	recorderPaused := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "moviewriter",
		Name:      "recorder_paused",
		Help:      "Recorder paused state (1=paused, 0=running).",
	}, []string{"recorder"})

	var err error
	if poolCapacity, err = registerCollector(reg, poolCapacity); err != nil {
		return nil, err
	}
	if poolOutstanding, err = registerCollector(reg, poolOutstanding); err != nil {
		return nil, err
	}
	if poolAvailable, err = registerCollector(reg, poolAvailable); err != nil {
		return nil, err
	}
	if poolClosed, err = registerCollector(reg, poolClosed); err != nil {
		return nil, err
	}
	if recorderDuration, err = registerCollector(reg, recorderDuration); err != nil {
		return nil, err
	}
	if recorderPaused, err = registerCollector(reg, recorderPaused); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:         interval,
		pools:            make(map[string]PoolSnapshotProvider),
		recorders:        make(map[string]RecorderSnapshotProvider),
		poolCapacity:     poolCapacity,
		poolOutstanding:  poolOutstanding,
		poolAvailable:    poolAvailable,
		poolClosed:       poolClosed,
		recorderDuration: recorderDuration,
		recorderPaused:   recorderPaused,
	}, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// AddRecorder adds or replaces a recorder snapshot provider by name.
func (p *SnapshotPoller) AddRecorder(name string, provider RecorderSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "recorder")
	p.recordersMu.Lock()
	p.recorders[name] = provider
	p.recordersMu.Unlock()
}

// RemoveRecorder stops exporting name and deletes its series.
func (p *SnapshotPoller) RemoveRecorder(name string) {
	if p == nil {
		return
	}
	p.recordersMu.Lock()
	delete(p.recorders, name)
	p.recordersMu.Unlock()
	p.recorderDuration.DeleteLabelValues(name)
	p.recorderPaused.DeleteLabelValues(name)
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
		p.poolOutstanding.WithLabelValues(name).Set(float64(stats.Outstanding))
		p.poolAvailable.WithLabelValues(name).Set(float64(stats.Available))
		p.poolClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
	p.poolsMu.RUnlock()

	p.recordersMu.RLock()
	for name, provider := range p.recorders {
		p.recorderDuration.WithLabelValues(name).Set(provider.Duration().Seconds())
		p.recorderPaused.WithLabelValues(name).Set(boolGauge(provider.IsPaused()))
	}
	p.recordersMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
