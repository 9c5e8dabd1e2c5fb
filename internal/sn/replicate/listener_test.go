package replicate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeReceiver struct {
	updated map[string][]byte
	deleted map[string]bool
	failOn  string
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{updated: map[string][]byte{}, deleted: map[string]bool{}}
}

func (r *fakeReceiver) ApplyUpdate(owner, filename string, data []byte) error {
	if filename == r.failOn {
		return fmt.Errorf("simulated apply failure")
	}
	r.updated[owner+":"+filename] = data
	return nil
}

func (r *fakeReceiver) ApplyDelete(owner, filename string) error {
	r.deleted[owner+":"+filename] = true
	return nil
}

func TestListenerHandleUpdate(t *testing.T) {
	recv := newFakeReceiver()
	l := NewListener(recv, testLogger())

	assert.NoError(t, l.HandleUpdate("alice", "notes.txt", []byte("hello")))
	assert.Equal(t, []byte("hello"), recv.updated["alice:notes.txt"])
}

func TestListenerHandleDelete(t *testing.T) {
	recv := newFakeReceiver()
	l := NewListener(recv, testLogger())

	assert.NoError(t, l.HandleDelete("alice", "notes.txt"))
	assert.True(t, recv.deleted["alice:notes.txt"])
}

func TestListenerHandleUpdatePropagatesError(t *testing.T) {
	recv := newFakeReceiver()
	recv.failOn = "bad.txt"
	l := NewListener(recv, testLogger())

	assert.Error(t, l.HandleUpdate("alice", "bad.txt", []byte("x")))
}
