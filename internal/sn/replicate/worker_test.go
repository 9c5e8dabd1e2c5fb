package replicate

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textfs/textfs/pkg/obslog"
)

type fakeShipper struct {
	mu      sync.Mutex
	updates []Job
	deletes []Job
	failOn  string
}

func (f *fakeShipper) ShipUpdate(owner, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filename == f.failOn {
		return fmt.Errorf("simulated failure")
	}
	f.updates = append(f.updates, Job{Op: OpUpdate, Owner: owner, Filename: filename, Data: data})
	return nil
}

func (f *fakeShipper) ShipDelete(owner, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, Job{Op: OpDelete, Owner: owner, Filename: filename})
	return nil
}

func (f *fakeShipper) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates), len(f.deletes)
}

func testLogger() *obslog.Logger {
	return obslog.New(obslog.Error, io.Discard)
}

func TestWorkerShipsUpdateAndDelete(t *testing.T) {
	q := NewQueue(4)
	shipper := &fakeShipper{}
	w := NewWorker(q, shipper, testLogger())
	go w.Run()

	require.NoError(t, q.Enqueue(Job{Op: OpUpdate, Owner: "alice", Filename: "a.txt", Data: []byte("hi")}))
	require.NoError(t, q.Enqueue(Job{Op: OpDelete, Owner: "alice", Filename: "b.txt"}))

	require.Eventually(t, func() bool {
		u, d := shipper.count()
		return u == 1 && d == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
}

func TestWorkerContinuesAfterShipFailure(t *testing.T) {
	q := NewQueue(4)
	shipper := &fakeShipper{failOn: "bad.txt"}
	w := NewWorker(q, shipper, testLogger())
	go w.Run()

	require.NoError(t, q.Enqueue(Job{Op: OpUpdate, Owner: "alice", Filename: "bad.txt"}))
	require.NoError(t, q.Enqueue(Job{Op: OpUpdate, Owner: "alice", Filename: "good.txt"}))

	require.Eventually(t, func() bool {
		u, _ := shipper.count()
		return u == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.Equal(t, 0, q.Len())
}
