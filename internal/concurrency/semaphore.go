// Package concurrency provides the admission-control primitives used to
// bound in-flight file operations.
package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a gated operation does not settle within
// its deadline. The underlying operation is not interrupted; callers must
// assume its side effects may still happen.
var ErrTimeout = errors.New("operation timed out")

// Semaphore bounds the number of concurrently running operations.
// Permits are a buffered channel of capacity N: acquire is a receive,
// release is a send, which gives waiting callers FIFO fairness.
type Semaphore struct {
	permits chan struct{}
	max     int

	inUse      atomic.Int64
	peakInUse  atomic.Int64
	queueDepth atomic.Int64
	completed  atomic.Int64
	timedOut   atomic.Int64
}

// Stats is a point-in-time snapshot of semaphore activity.
type Stats struct {
	MaxPermits int   `json:"max_permits"`
	InUse      int   `json:"in_use"`
	PeakInUse  int   `json:"peak_in_use"`
	QueueDepth int   `json:"queue_depth"`
	Completed  int64 `json:"completed"`
	TimedOut   int64 `json:"timed_out"`
}

// NewSemaphore creates a semaphore with maxPermits permits. A
// non-positive value is treated as one permit.
func NewSemaphore(maxPermits int) *Semaphore {
	if maxPermits < 1 {
		maxPermits = 1
	}
	s := &Semaphore{
		permits: make(chan struct{}, maxPermits),
		max:     maxPermits,
	}
	for i := 0; i < maxPermits; i++ {
		s.permits <- struct{}{}
	}
	return s
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.queueDepth.Add(1)
	defer s.queueDepth.Add(-1)

	select {
	case <-s.permits:
	case <-ctx.Done():
		return ctx.Err()
	}

	in := s.inUse.Add(1)
	for {
		peak := s.peakInUse.Load()
		if in <= peak || s.peakInUse.CompareAndSwap(peak, in) {
			break
		}
	}
	return nil
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	s.inUse.Add(-1)
	s.permits <- struct{}{}
}

// Do acquires a permit, runs fn, and releases the permit when fn settles
// or the timeout fires, whichever comes first. A timeout returns
// ErrTimeout without interrupting fn; its eventual result is discarded.
// A timeout of zero or less means no deadline.
func (s *Semaphore) Do(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(s.Release) }

	done := make(chan error, 1)
	go func() {
		err := fn()
		release()
		done <- err
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		s.completed.Add(1)
		return err
	case <-timer:
		release()
		s.timedOut.Add(1)
		return ErrTimeout
	case <-ctx.Done():
		release()
		return ctx.Err()
	}
}

// Execute runs fn under the semaphore and returns its value. It is the
// typed counterpart of Do for operations that produce a result. On
// timeout or cancellation fn may still be writing its result, so the
// zero value is returned instead of reading it.
func Execute[T any](ctx context.Context, s *Semaphore, timeout time.Duration, fn func() (T, error)) (T, error) {
	var result T
	err := s.Do(ctx, timeout, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// AvailablePermits reports how many permits are currently free.
func (s *Semaphore) AvailablePermits() int {
	return len(s.permits)
}

// GetStats returns a snapshot of semaphore activity without blocking.
func (s *Semaphore) GetStats() Stats {
	return Stats{
		MaxPermits: s.max,
		InUse:      int(s.inUse.Load()),
		PeakInUse:  int(s.peakInUse.Load()),
		QueueDepth: int(s.queueDepth.Load()),
		Completed:  s.completed.Load(),
		TimedOut:   s.timedOut.Load(),
	}
}

// Clear resets the bookkeeping counters. In-flight operations are not
// interrupted and their permits are unaffected.
func (s *Semaphore) Clear() {
	s.peakInUse.Store(s.inUse.Load())
	s.completed.Store(0)
	s.timedOut.Store(0)
}
