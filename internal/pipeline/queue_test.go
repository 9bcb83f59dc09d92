package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[string](0)

	for _, s := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(s))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok, _ := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_TryDequeue_Empty(t *testing.T) {
	q := newQueue[int](0)

	_, ok, drained := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
	assert.False(t, drained, "open queue is not drained")
}

func TestQueue_CloseDrains(t *testing.T) {
	q := newQueue[int](0)
	q.Enqueue(1)
	q.Close()

	assert.False(t, q.Enqueue(2), "enqueue after close should fail")

	got, ok, drained := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.False(t, drained)

	_, ok, drained = q.TryDequeue()
	assert.False(t, ok)
	assert.True(t, drained)

	// Close is idempotent and Wait never blocks afterwards.
	q.Close()
	<-q.Wait()
}

func TestQueue_WaitSignalsOnEnqueue(t *testing.T) {
	q := newQueue[int](0)

	done := make(chan int)
	go func() {
		<-q.Wait()
		v, _, _ := q.TryDequeue()
		done <- v
	}()

	q.Enqueue(7)
	assert.Equal(t, 7, <-done)
}

func TestQueue_ConcurrentConsumers(t *testing.T) {
	q := newQueue[int](1000)
	for i := 0; i < 1000; i++ {
		q.Enqueue(i)
	}
	q.Close()

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, drained := q.TryDequeue()
				if !ok {
					if drained {
						return
					}
					<-q.Wait()
					continue
				}
				mu.Lock()
				assert.False(t, seen[v], "item %d dequeued twice", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}
