package replicate

import (
	"github.com/textfs/textfs/pkg/obslog"
)

// Shipper delivers one replication Job to the replication target (the
// single backup SN, for both updates and deletes). It
// is implemented by the SN server using the wire protocol's REPLICATE_FILE
// and DELETE_FILE messages; kept as an interface here so this package never
// imports net or the wire codec directly.
type Shipper interface {
	ShipUpdate(owner, filename string, data []byte) error
	ShipDelete(owner, filename string) error
}

// Worker drains a Queue and forwards each Job to a Shipper, logging and
// swallowing shipper errors rather than aborting: replication is
// best-effort and retryable, never user-facing, since a client's write
// transaction has already committed locally by the time a job reaches this
// worker.
type Worker struct {
	queue   *Queue
	shipper Shipper
	log     *obslog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker creates a Worker draining queue and shipping jobs via shipper.
func NewWorker(queue *Queue, shipper Shipper, log *obslog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		shipper: shipper,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run drains the queue until Stop is called and the queue empties. It must
// be run in its own goroutine.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		job, ok := w.queue.Dequeue()
		if !ok {
			return
		}
		w.ship(job)
	}
}

func (w *Worker) ship(job Job) {
	var err error
	switch job.Op {
	case OpUpdate:
		err = w.shipper.ShipUpdate(job.Owner, job.Filename, job.Data)
	case OpDelete:
		err = w.shipper.ShipDelete(job.Owner, job.Filename)
	}
	if err != nil {
		w.log.Warn("replication job failed for %s:%s: %v", job.Owner, job.Filename, err)
	}
}

// Stop closes the underlying queue and waits for Run to drain and return.
func (w *Worker) Stop() {
	w.queue.Close()
	<-w.done
}
