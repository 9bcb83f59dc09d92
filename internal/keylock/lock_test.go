package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SequencesSameKey(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "1"))
	var count atomic.Int32
	count.Store(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Acquire(ctx, "1"); err != nil {
			t.Errorf("Acquire() failed: %v", err)
			return
		}
		assert.Equal(t, int32(1), count.Load())
		count.Store(3)
		assert.NoError(t, m.Release("1"))
	}()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load(), "second caller must wait for release")

	require.NoError(t, m.Release("1"))
	<-done
	assert.Equal(t, int32(3), count.Load())
	assert.Equal(t, 0, m.Held())
}

func TestManager_DifferentKeysDoNotBlock(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "1"))

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, m.Acquire(ctx2, "2"), "key 2 must not wait on key 1")

	require.NoError(t, m.Release("2"))
	require.NoError(t, m.Release("1"))
}

func TestManager_PairOrderDoesNotMatter(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.AcquireAll(ctx, "2", "1"))
	var count atomic.Int32
	count.Store(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.AcquireAll(ctx, "1", "2"); err != nil {
			t.Errorf("AcquireAll() failed: %v", err)
			return
		}
		assert.Equal(t, int32(1), count.Load())
		count.Store(3)
		assert.NoError(t, m.Release("1"))
		assert.NoError(t, m.Release("2"))
	}()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())

	require.NoError(t, m.ReleaseAll("1", "2"))
	<-done
	assert.Equal(t, int32(3), count.Load())
}

func TestManager_OverlappingSetsNeverDeadlock(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sets := [][]string{{"2", "1"}, {"1", "2"}, {"3", "2"}, {"1", "3", "2"}}
	const rounds = 200

	var (
		wg     sync.WaitGroup
		inside sync.Map
	)
	for _, keys := range sets {
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := m.Do(ctx, keys, func() error {
					for _, k := range keys {
						if _, loaded := inside.LoadOrStore(k, true); loaded {
							t.Errorf("key %s held twice", k)
						}
					}
					for _, k := range keys {
						inside.Delete(k)
					}
					return nil
				})
				if err != nil {
					t.Errorf("Do(%v) failed: %v", keys, err)
					return
				}
			}
		}(keys)
	}
	wg.Wait()

	require.NoError(t, ctx.Err(), "callers deadlocked")
	assert.Equal(t, 0, m.Held())
}

func TestManager_InvalidKeys(t *testing.T) {
	m := New()
	ctx := context.Background()

	assert.True(t, IsInvalidKey(m.Acquire(ctx, "")))
	assert.True(t, IsInvalidKey(m.AcquireAll(ctx)))
	assert.True(t, IsInvalidKey(m.AcquireAll(ctx, "1", "1")))
	assert.True(t, IsInvalidKey(m.AcquireAll(ctx, "1", "")))

	assert.Equal(t, 0, m.Held(), "no partial lock may be left held")

	// Every key is still free.
	require.NoError(t, m.AcquireAll(ctx, "1", "2"))
	require.NoError(t, m.ReleaseAll("2", "1"))
}

func TestManager_UnbalancedRelease(t *testing.T) {
	m := New()

	assert.True(t, IsNotHeld(m.Release("1")))

	require.NoError(t, m.Acquire(context.Background(), "1"))
	require.NoError(t, m.Release("1"))
	assert.True(t, IsNotHeld(m.Release("1")))
}

func TestManager_HandOverThenRelease(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "1"))

	acquired := make(chan struct{})
	go func() {
		if err := m.Acquire(ctx, "1"); err == nil {
			close(acquired)
		}
	}()

	require.NoError(t, m.Release("1"))
	<-acquired
	require.NoError(t, m.Release("1"))
	assert.True(t, IsNotHeld(m.Release("1")))
}

func TestManager_CancelWhileWaiting(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), "1"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Acquire(ctx, "1") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	require.NoError(t, m.Release("1"))
	assert.Equal(t, 0, m.Held(), "cancelled claimant must not leave bookkeeping behind")

	require.NoError(t, m.Acquire(context.Background(), "1"))
	require.NoError(t, m.Release("1"))
}

func TestManager_AcquireAllCancelReleasesTakenKeys(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), "2"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.AcquireAll(ctx, "2", "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// "1" was taken first and must have been given back.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, m.Acquire(ctx2, "1"))
	require.NoError(t, m.Release("1"))
	require.NoError(t, m.Release("2"))
	assert.Equal(t, 0, m.Held())
}

func TestManager_DoReleasesOnError(t *testing.T) {
	m := New()
	ctx := context.Background()

	err := m.Do(ctx, []string{"a", "b"}, func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, m.Held())
}

func TestManager_DoReleasesOnPanic(t *testing.T) {
	m := New()

	assert.Panics(t, func() {
		_ = m.Do(context.Background(), []string{"a"}, func() error { panic("boom") })
	})
	assert.Equal(t, 0, m.Held())
}
