package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestQueuePool_LeaseExclusivity verifies at most capacity leases are outstanding
// Given: A pool with capacity 3
// When: 3 queues are leased and a fourth is requested
// Then: The fourth request fails without blocking, and a released queue is handed out next
func TestQueuePool_LeaseExclusivity(t *testing.T) {
	// Arrange
	pool := NewQueuePool("lease", 3)
	defer pool.Close()

	// Act - Lease every queue
	leases := make([]*Lease, 0, 3)
	seen := make(map[*SerialQueue]bool)
	for i := 0; i < 3; i++ {
		l, err := pool.TryDequeue()
		if err != nil {
			t.Fatalf("TryDequeue %d: %v", i, err)
		}
		if seen[l.Queue()] {
			t.Fatalf("queue %s leased twice", l.Queue().Name())
		}
		seen[l.Queue()] = true
		leases = append(leases, l)
	}

	// Assert - The pool is exhausted
	_, err := pool.TryDequeue()
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("TryDequeue on exhausted pool: got = %v, want ErrResourceExhausted", err)
	}
	if s := pool.Stats(); s.Outstanding != 3 || s.Available != 0 {
		t.Errorf("stats: got = %+v, want 3 outstanding, 0 available", s)
	}

	// Act - Release one and lease again
	released := leases[1].Queue()
	if err := leases[1].Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l, err := pool.TryDequeue()

	// Assert - The released queue is reused
	if err != nil {
		t.Fatalf("TryDequeue after release: %v", err)
	}
	if l.Queue() != released {
		t.Errorf("reused queue: got = %s, want %s", l.Queue().Name(), released.Name())
	}
}

// TestQueuePool_DequeueBlocksUntilRelease verifies the blocking exhaustion policy
// Given: A pool with its single queue leased
// When: Dequeue is called and the lease is released 50ms later
// Then: Dequeue returns the released queue after waiting
func TestQueuePool_DequeueBlocksUntilRelease(t *testing.T) {
	// Arrange
	pool := NewQueuePool("blocking", 1)
	defer pool.Close()
	held, err := pool.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Act
	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Release()
	}()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := pool.Dequeue(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Errorf("Dequeue returned after %v, want it to wait for the release", waited)
	}
	if l.Queue() != held.Queue() {
		t.Errorf("queue: got = %s, want %s", l.Queue().Name(), held.Queue().Name())
	}
}

// TestQueuePool_DequeueTimeout verifies exhaustion surfaces as ErrResourceExhausted
func TestQueuePool_DequeueTimeout(t *testing.T) {
	pool := NewQueuePool("timeout", 1)
	defer pool.Close()
	_, _ = pool.TryDequeue()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := pool.Dequeue(ctx)

	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("error: got = %v, want ErrResourceExhausted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error: got = %v, want it to wrap DeadlineExceeded", err)
	}
}

// TestQueuePool_DoubleRelease verifies a second release is rejected and harmless
func TestQueuePool_DoubleRelease(t *testing.T) {
	pool := NewQueuePool("double", 2)
	defer pool.Close()
	l, _ := pool.TryDequeue()

	if err := l.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := l.Release(); !errors.Is(err, ErrLeaseReleased) {
		t.Errorf("second Release: got = %v, want ErrLeaseReleased", err)
	}
	if s := pool.Stats(); s.Available != 2 || s.Outstanding != 0 {
		t.Errorf("stats after double release: got = %+v, want 2 available", s)
	}

	other := NewQueuePool("other", 1)
	defer other.Close()
	foreign, _ := other.TryDequeue()
	if err := pool.Release(foreign); !errors.Is(err, ErrForeignLease) {
		t.Errorf("foreign release: got = %v, want ErrForeignLease", err)
	}
}

// TestQueuePool_WithLeaseReleasesOnError verifies the scoped lease is returned on every path
// Given: A pool with one queue
// When: WithLease runs a function that fails, then one that panics-free succeeds
// Then: The error is returned, the function ran on the leased queue, and the queue is available again
func TestQueuePool_WithLeaseReleasesOnError(t *testing.T) {
	// Arrange
	pool := NewQueuePool("scoped", 1)
	defer pool.Close()
	boom := errors.New("boom")
	var ranOn Queue

	// Act
	err := pool.WithLease(context.Background(), func(ctx context.Context) error {
		ranOn = GetCurrentQueue(ctx)
		return boom
	})

	// Assert
	if !errors.Is(err, boom) {
		t.Errorf("WithLease error: got = %v, want boom", err)
	}
	if ranOn == nil || ranOn.Name() != "scoped-0" {
		t.Errorf("current queue: got = %v, want scoped-0", ranOn)
	}
	if s := pool.Stats(); s.Outstanding != 0 || s.Available != 1 {
		t.Errorf("stats: got = %+v, want the queue back in the pool", s)
	}
	if err := pool.WithLease(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("second WithLease: %v", err)
	}
}

// TestQueuePool_ConcurrentLeases verifies exclusivity under contention
func TestQueuePool_ConcurrentLeases(t *testing.T) {
	const capacity = 2
	pool := NewQueuePool("contended", capacity)
	defer pool.Close()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.WithLease(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got > capacity {
		t.Errorf("max concurrent leases: got = %d, want <= %d", got, capacity)
	}
	if s := pool.Stats(); s.Outstanding != 0 {
		t.Errorf("outstanding after all leases: got = %d, want 0", s.Outstanding)
	}
}

func TestQueuePool_Closed(t *testing.T) {
	pool := NewQueuePool("closed", 1)
	pool.Close()
	pool.Close()

	if _, err := pool.Dequeue(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Dequeue after Close: got = %v, want ErrPoolClosed", err)
	}
	if !pool.Stats().Closed {
		t.Error("stats do not report the pool closed")
	}
}

func TestSharedQueuePool(t *testing.T) {
	a := SharedQueuePool()
	b := SharedQueuePool()
	if a != b {
		t.Fatal("SharedQueuePool returned different pools")
	}
	if a.Capacity() < 1 {
		t.Errorf("capacity: got = %d", a.Capacity())
	}
}
