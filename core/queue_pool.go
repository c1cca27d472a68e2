package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueuePoolSize is the capacity of the shared pool.
const DefaultQueuePoolSize = 4

var (
	// ErrLeaseReleased is returned when a lease is released twice.
	ErrLeaseReleased = errors.New("lease already released")
	// ErrForeignLease is returned when a lease is handed to a pool that did not issue it.
	ErrForeignLease = errors.New("lease does not belong to this pool")
	// ErrPoolClosed is returned by Dequeue after Close.
	ErrPoolClosed = errors.New("queue pool is closed")
)

// QueuePool owns a fixed set of SerialQueues and leases them out one caller
// at a time. It bounds how many background contexts may touch the GPU
// context concurrently.
//
// Exhaustion policy: Dequeue blocks until a lease is released or ctx ends;
// TryDequeue never blocks and fails with ErrResourceExhausted. The pool never
// grows past its capacity.
type QueuePool struct {
	name      string
	queues    []*SerialQueue
	available chan *SerialQueue
	closed    atomic.Bool

	mu     sync.Mutex
	leased map[*SerialQueue]*Lease

	metrics Metrics
	logger  Logger
}

// QueuePoolOption configures a QueuePool.
type QueuePoolOption func(*QueuePool)

// WithPoolMetrics records lease waits and outstanding leases on m.
func WithPoolMetrics(m Metrics) QueuePoolOption {
	return func(p *QueuePool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l Logger) QueuePoolOption {
	return func(p *QueuePool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewQueuePool creates a pool of capacity serial queues named "<name>-<i>".
func NewQueuePool(name string, capacity int, opts ...QueuePoolOption) *QueuePool {
	if capacity < 1 {
		capacity = 1
	}
	p := &QueuePool{
		name:      name,
		available: make(chan *SerialQueue, capacity),
		leased:    make(map[*SerialQueue]*Lease, capacity),
		metrics:   &NilMetrics{},
		logger:    NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range capacity {
		q := NewSerialQueue(fmt.Sprintf("%s-%d", name, i),
			WithPanicHandler(&LoggingPanicHandler{Logger: p.logger}),
			WithQueueMetrics(p.metrics),
		)
		p.queues = append(p.queues, q)
		p.available <- q
	}
	return p
}

// Name returns the pool name.
func (p *QueuePool) Name() string { return p.name }

// Capacity returns the fixed number of queues in the pool.
func (p *QueuePool) Capacity() int { return len(p.queues) }

// Dequeue leases a queue, blocking until one is available or ctx ends.
func (p *QueuePool) Dequeue(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	start := time.Now()

	select {
	case q := <-p.available:
		p.metrics.RecordLeaseWait(p.name, time.Since(start))
		return p.lease(q), nil
	default:
	}

	p.logger.Debug("queue pool exhausted, waiting for release", F("pool", p.name))
	select {
	case q := <-p.available:
		p.metrics.RecordLeaseWait(p.name, time.Since(start))
		return p.lease(q), nil
	case <-ctx.Done():
		return nil, NewError(KindResourceExhausted, "dequeue", ctx.Err(),
			"no queue released in pool %q after %s", p.name, time.Since(start).Round(time.Millisecond))
	}
}

// TryDequeue leases a queue without blocking.
func (p *QueuePool) TryDequeue() (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	select {
	case q := <-p.available:
		return p.lease(q), nil
	default:
		return nil, NewError(KindResourceExhausted, "dequeue", nil,
			"all %d queues in pool %q are leased", len(p.queues), p.name)
	}
}

// Release returns a leased queue to the pool.
func (p *QueuePool) Release(l *Lease) error {
	if l == nil {
		return ErrForeignLease
	}
	if l.pool != p {
		return ErrForeignLease
	}
	if !l.released.CompareAndSwap(false, true) {
		return ErrLeaseReleased
	}

	p.mu.Lock()
	if p.leased[l.queue] != l {
		p.mu.Unlock()
		return ErrLeaseReleased
	}
	delete(p.leased, l.queue)
	outstanding := len(p.leased)
	p.mu.Unlock()

	p.metrics.RecordLeasesOutstanding(p.name, outstanding)
	p.available <- l.queue
	return nil
}

// WithLease leases a queue, runs fn on it and waits for fn to return.
// The lease is released on every exit path.
func (p *QueuePool) WithLease(ctx context.Context, fn func(ctx context.Context) error) error {
	l, err := p.Dequeue(ctx)
	if err != nil {
		return err
	}
	defer l.Release()

	var fnErr error
	if err := l.Queue().Sync(ctx, func(taskCtx context.Context) {
		fnErr = fn(taskCtx)
	}); err != nil {
		return err
	}
	return fnErr
}

// Stats returns a snapshot of the pool state.
func (p *QueuePool) Stats() PoolStats {
	p.mu.Lock()
	outstanding := len(p.leased)
	p.mu.Unlock()
	return PoolStats{
		Name:        p.name,
		Capacity:    len(p.queues),
		Outstanding: outstanding,
		Available:   len(p.available),
		Closed:      p.closed.Load(),
	}
}

// Close stops every queue in the pool. Outstanding leases stay valid to
// release but their queues no longer run tasks.
func (p *QueuePool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range p.queues {
		q.Stop()
	}
}

func (p *QueuePool) lease(q *SerialQueue) *Lease {
	l := &Lease{pool: p, queue: q}
	p.mu.Lock()
	p.leased[q] = l
	outstanding := len(p.leased)
	p.mu.Unlock()
	p.metrics.RecordLeasesOutstanding(p.name, outstanding)
	return l
}

// Lease is exclusive ownership of one pooled queue.
type Lease struct {
	pool     *QueuePool
	queue    *SerialQueue
	released atomic.Bool
}

// Queue returns the leased queue. It must not be used after Release.
func (l *Lease) Queue() *SerialQueue { return l.queue }

// Release returns the queue to its pool. A second call returns ErrLeaseReleased
// and leaves the pool untouched.
func (l *Lease) Release() error {
	return l.pool.Release(l)
}

// =============================================================================
// Shared pool (process-wide, lazily created, never torn down)
// =============================================================================

var (
	sharedPoolOnce sync.Once
	sharedPool     *QueuePool
	sharedPoolSize atomic.Int32
)

func init() {
	sharedPoolSize.Store(DefaultQueuePoolSize)
}

// SetSharedQueuePoolSize sets the capacity used when the shared pool is first
// created. It has no effect once SharedQueuePool has been called.
func SetSharedQueuePoolSize(n int) {
	if n > 0 {
		sharedPoolSize.Store(int32(n))
	}
}

// SharedQueuePool returns the process-wide pool, creating it on first use.
func SharedQueuePool() *QueuePool {
	sharedPoolOnce.Do(func() {
		sharedPool = NewQueuePool("shared", int(sharedPoolSize.Load()))
	})
	return sharedPool
}
