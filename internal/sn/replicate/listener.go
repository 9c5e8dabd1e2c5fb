package replicate

import (
	"github.com/textfs/textfs/pkg/obslog"
)

// Receiver applies an inbound replication job to local storage. It is
// implemented by the SN's file-system operations layer; ApplyUpdate writes
// the file's content and ApplyDelete removes the local copy. Marking the
// replica's metadata is_backup = true is left to the caller of HandleUpdate.
type Receiver interface {
	ApplyUpdate(owner, filename string, data []byte) error
	ApplyDelete(owner, filename string) error
}

// Listener is the inbound half of replication: it receives jobs decoded
// off the wire by the SN server (from REPLICATE_FILE / DELETE_FILE
// messages) and applies them to local storage via a Receiver.
type Listener struct {
	receiver Receiver
	log      *obslog.Logger
}

// NewListener creates a Listener applying inbound jobs via receiver.
func NewListener(receiver Receiver, log *obslog.Logger) *Listener {
	return &Listener{receiver: receiver, log: log}
}

// HandleUpdate applies an inbound file update. A failure is logged and also
// returned to the caller: a failed replica write degrades durability, not
// correctness of the primary.
func (l *Listener) HandleUpdate(owner, filename string, data []byte) error {
	if err := l.receiver.ApplyUpdate(owner, filename, data); err != nil {
		l.log.Warn("failed to apply replicated update for %s:%s: %v", owner, filename, err)
		return err
	}
	return nil
}

// HandleDelete applies an inbound file delete.
func (l *Listener) HandleDelete(owner, filename string) error {
	if err := l.receiver.ApplyDelete(owner, filename); err != nil {
		l.log.Warn("failed to apply replicated delete for %s:%s: %v", owner, filename, err)
		return err
	}
	return nil
}
