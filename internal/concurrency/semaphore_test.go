package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	const permits = 3
	const callers = 20

	s := NewSemaphore(permits)
	ctx := context.Background()

	var running atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(ctx, time.Second, func() error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(permits))
	assert.Equal(t, permits, s.AvailablePermits())
	assert.Equal(t, int64(callers), s.GetStats().Completed)
}

func TestSemaphoreReleasesOnError(t *testing.T) {
	s := NewSemaphore(1)
	boom := errors.New("boom")

	err := s.Do(context.Background(), time.Second, func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.AvailablePermits())

	// A second call must still be admitted.
	err = s.Do(context.Background(), time.Second, func() error { return nil })
	assert.NoError(t, err)
}

func TestSemaphoreTimeoutReleasesPermit(t *testing.T) {
	s := NewSemaphore(1)
	blocked := make(chan struct{})

	err := s.Do(context.Background(), 20*time.Millisecond, func() error {
		<-blocked
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)

	// Permit was released at timeout even though fn is still running.
	done := make(chan error, 1)
	go func() {
		done <- s.Do(context.Background(), time.Second, func() error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("permit leaked after timeout")
	}

	close(blocked)
	assert.Equal(t, int64(1), s.GetStats().TimedOut)
}

func TestSemaphoreContextCancelWhileQueued(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))
	defer s.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Do(ctx, time.Second, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteReturnsValue(t *testing.T) {
	s := NewSemaphore(2)

	v, err := Execute(context.Background(), s, time.Second, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Execute(context.Background(), s, time.Second, func() (int, error) {
		return 0, errors.New("nope")
	})
	assert.Error(t, err)
}

func TestExecuteTimeoutReturnsZeroValue(t *testing.T) {
	s := NewSemaphore(1)

	// fn keeps writing its result after the timeout fires; Execute must
	// not read it, only hand back the zero value.
	settled := make(chan struct{})
	v, err := Execute(context.Background(), s, 10*time.Millisecond, func() (int, error) {
		defer close(settled)
		time.Sleep(80 * time.Millisecond)
		return 42, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, v)

	<-settled
	assert.Equal(t, 1, s.AvailablePermits())
}

func TestExecuteContextCancelReturnsZeroValue(t *testing.T) {
	s := NewSemaphore(1)
	ctx, cancel := context.WithCancel(context.Background())

	settled := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	v, err := Execute(ctx, s, 0, func() (string, error) {
		defer close(settled)
		time.Sleep(80 * time.Millisecond)
		return "late", nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, v)
	<-settled
}

func TestStatsAndClear(t *testing.T) {
	s := NewSemaphore(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(ctx, time.Second, func() error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	stats := s.GetStats()
	assert.Equal(t, 4, stats.MaxPermits)
	assert.Equal(t, int64(8), stats.Completed)
	assert.Greater(t, stats.PeakInUse, 0)
	assert.Equal(t, 0, stats.InUse)

	s.Clear()
	stats = s.GetStats()
	assert.Equal(t, int64(0), stats.Completed)
	assert.Equal(t, 0, stats.PeakInUse)
}
