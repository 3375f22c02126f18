package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore caps concurrent outbound calls. The fallback detectors share
// one so a burst of suspicious texts cannot pile goroutines onto the
// provider.
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity. Non-positive
// capacities fall back to 100.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{sem: make(chan struct{}, capacity)}
}

// TryAcquire grabs a slot without blocking. A false return counts as a
// dropped operation.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot frees up or the context ends.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Releasing without a matching acquire is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// Stats snapshots the semaphore for the usage surface.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.sem),
		InUse:     len(s.sem),
		Available: cap(s.sem) - len(s.sem),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats reports slot occupancy and drop counts.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
