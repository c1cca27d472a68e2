package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSerialQueue_RunsInOrder verifies tasks run sequentially in post order
// Given: A SerialQueue
// When: 100 tasks are posted
// Then: They run in post order on one goroutine
func TestSerialQueue_RunsInOrder(t *testing.T) {
	// Arrange
	q := NewSerialQueue("ordered")
	defer q.Stop()
	var mu sync.Mutex
	var order []int

	// Act
	for i := 0; i < 100; i++ {
		q.PostTask(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := q.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	// Assert
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 100 {
		t.Fatalf("tasks run: got = %d, want 100", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d]: got = %d, want %d", i, v, i)
		}
	}
}

// TestSerialQueue_SyncReentrant verifies a nested Sync on the same queue runs inline
func TestSerialQueue_SyncReentrant(t *testing.T) {
	q := NewSerialQueue("reentrant")
	defer q.Stop()

	ran := false
	err := q.Sync(context.Background(), func(ctx context.Context) {
		if GetCurrentQueue(ctx) != Queue(q) {
			t.Error("current queue not set inside task")
		}
		if err := q.Sync(ctx, func(context.Context) { ran = true }); err != nil {
			t.Errorf("nested Sync: %v", err)
		}
	})

	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !ran {
		t.Error("nested task did not run")
	}
}

// TestSerialQueue_SyncAfterStop verifies a stopped queue rejects synchronous work
func TestSerialQueue_SyncAfterStop(t *testing.T) {
	q := NewSerialQueue("stopped")
	q.Stop()
	q.Stop()

	err := q.Sync(context.Background(), func(context.Context) {
		t.Error("task ran on a stopped queue")
	})
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Sync: got = %v, want ErrQueueClosed", err)
	}
	if !q.IsClosed() {
		t.Error("IsClosed: got = false")
	}
}

type recordingPanicHandler struct {
	calls atomic.Int32
	queue atomic.Value
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	h.calls.Add(1)
	h.queue.Store(queueName)
}

// TestSerialQueue_PanicRecovered verifies a panicking task does not kill the queue
func TestSerialQueue_PanicRecovered(t *testing.T) {
	h := &recordingPanicHandler{}
	q := NewSerialQueue("panicky", WithPanicHandler(h))
	defer q.Stop()

	q.PostTask(func(context.Context) { panic("boom") })
	ran := false
	if err := q.Sync(context.Background(), func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Sync after panic: %v", err)
	}

	if !ran {
		t.Error("queue stopped running tasks after a panic")
	}
	if h.calls.Load() != 1 || h.queue.Load() != "panicky" {
		t.Errorf("panic handler: calls=%d queue=%v", h.calls.Load(), h.queue.Load())
	}
}

// TestSerialQueue_RepeatingTask verifies a repeating task runs until stopped
func TestSerialQueue_RepeatingTask(t *testing.T) {
	q := NewSerialQueue("repeating")
	defer q.Stop()
	var count atomic.Int32

	h := q.PostRepeatingTask(func(context.Context) { count.Add(1) }, 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("repeating task ran %d times", count.Load())
		}
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	if !h.IsStopped() {
		t.Error("IsStopped: got = false")
	}
	time.Sleep(20 * time.Millisecond)
	settled := count.Load()
	time.Sleep(30 * time.Millisecond)
	if got := count.Load(); got != settled {
		t.Errorf("task kept running after Stop: %d -> %d", settled, got)
	}
}

func TestSerialQueue_DelayedTask(t *testing.T) {
	q := NewSerialQueue("delayed")
	defer q.Stop()
	done := make(chan time.Time, 1)
	start := time.Now()

	q.PostDelayedTask(func(context.Context) { done <- time.Now() }, 20*time.Millisecond)

	select {
	case at := <-done:
		if at.Sub(start) < 15*time.Millisecond {
			t.Errorf("delayed task ran after %v", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestSerialQueue_SyncContextCancelled(t *testing.T) {
	q := NewSerialQueue("busy")
	defer q.Stop()
	release := make(chan struct{})
	q.PostTask(func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Sync(ctx, func(context.Context) {})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sync: got = %v, want DeadlineExceeded", err)
	}
}
