// Package replicate implements the storage node's replication queue: a
// bounded FIFO of pending replication jobs, and the worker and listener that
// drain and serve it. The queue's producer/consumer handoff borrows the
// batch-processor lifecycle shape (started flag, stop channel,
// WaitGroup-tracked goroutine) common in this codebase, adapted from a
// timer-flushed batch buffer to a blocking bounded queue guarded by a
// condition variable.
package replicate

import (
	"sync"

	"github.com/textfs/textfs/pkg/dfserrors"
)

// Op is the kind of replication job.
type Op int

const (
	// OpUpdate ships a file's full current content to the replication
	// target after a commit.
	OpUpdate Op = iota
	// OpDelete tells the replication target to remove a file.
	OpDelete
)

// Job is one unit of replication work.
type Job struct {
	Op       Op
	Owner    string
	Filename string
	Data     []byte // full file content, only populated for OpUpdate
}

// Queue is a bounded FIFO of replication Jobs, shared by one or more
// producers (committing writers) and a single worker goroutine.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	jobs     []Job
	capacity int
	closed   bool
}

// NewQueue creates a Queue holding at most capacity jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds job to the queue, blocking while the queue is full. It
// returns an error if the queue has been closed.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return dfserrors.New(dfserrors.CodeReplicationFailed, "replication queue closed").
			WithComponent("replicate").WithOperation("Enqueue")
	}
	q.jobs = append(q.jobs, job)
	q.notEmpty.Signal()
	return nil
}

// TryEnqueue adds job without blocking, reporting false if the queue is
// full or closed. Used by callers on a hot path that must never stall a
// client-facing write transaction waiting on replication capacity.
func (q *Queue) TryEnqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.jobs) >= q.capacity {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a job is available or the queue is closed and
// drained, in which case ok is false.
func (q *Queue) Dequeue() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job = q.jobs[0]
	q.jobs = q.jobs[1:]
	q.notFull.Signal()
	return job, true
}

// Close marks the queue closed: pending jobs may still be drained by
// Dequeue, but no further Enqueue call will block or succeed, and blocked
// producers wake up with an error.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
