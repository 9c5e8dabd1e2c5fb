package replicate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(Job{Op: OpUpdate, Filename: "a.txt"}))
	require.NoError(t, q.Enqueue(Job{Op: OpUpdate, Filename: "b.txt"}))

	j1, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a.txt", j1.Filename)

	j2, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b.txt", j2.Filename)
}

func TestTryEnqueueFullReturnsFalse(t *testing.T) {
	q := NewQueue(1)
	require.True(t, q.TryEnqueue(Job{Filename: "a.txt"}))
	assert.False(t, q.TryEnqueue(Job{Filename: "b.txt"}))
}

func TestEnqueueBlocksUntilSpace(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(Job{Filename: "a.txt"}))

	var wg sync.WaitGroup
	wg.Add(1)
	enqueued := make(chan struct{})
	go func() {
		defer wg.Done()
		require.NoError(t, q.Enqueue(Job{Filename: "b.txt"}))
		close(enqueued)
	}()

	select {
	case <-enqueued:
		t.Fatal("enqueue should have blocked while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Dequeue()
	require.True(t, ok)

	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatal("enqueue should have unblocked once space freed")
	}
	wg.Wait()
}

func TestCloseUnblocksDequeueAfterDrain(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(Job{Filename: "a.txt"}))
	q.Close()

	j, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a.txt", j.Filename)

	_, ok = q.Dequeue()
	assert.False(t, ok, "dequeue must report closed once drained")
}

func TestCloseRejectsFurtherEnqueue(t *testing.T) {
	q := NewQueue(4)
	q.Close()
	assert.Error(t, q.Enqueue(Job{Filename: "a.txt"}))
}

func TestLen(t *testing.T) {
	q := NewQueue(4)
	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(Job{Filename: "a.txt"}))
	assert.Equal(t, 1, q.Len())
}
