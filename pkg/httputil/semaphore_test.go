package httputil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSemaphoreTryAcquire(t *testing.T) {
	sem := NewSemaphore(2)

	if !sem.TryAcquire() {
		t.Error("first TryAcquire should succeed")
	}
	if !sem.TryAcquire() {
		t.Error("second TryAcquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third TryAcquire should fail at capacity")
	}
	if got := sem.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}

	sem.Release()
	if !sem.TryAcquire() {
		t.Error("TryAcquire should succeed after Release")
	}
}

func TestSemaphoreAcquireTimeout(t *testing.T) {
	sem := NewSemaphore(1)

	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSemaphoreConcurrent(t *testing.T) {
	sem := NewSemaphore(10)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem.TryAcquire() {
				time.Sleep(5 * time.Millisecond)
				sem.Release()
			}
		}()
	}
	wg.Wait()

	if stats := sem.Stats(); stats.InUse != 0 {
		t.Errorf("InUse = %d after completion, want 0", stats.InUse)
	}
}

func TestSemaphoreStats(t *testing.T) {
	sem := NewSemaphore(5)

	sem.TryAcquire()
	sem.TryAcquire()

	stats := sem.Stats()
	if stats.Capacity != 5 || stats.InUse != 2 || stats.Available != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestNewSemaphoreDefaultCapacity(t *testing.T) {
	for _, n := range []int{0, -5} {
		if sem := NewSemaphore(n); cap(sem.sem) != 100 {
			t.Errorf("NewSemaphore(%d) capacity = %d, want 100", n, cap(sem.sem))
		}
	}
}
