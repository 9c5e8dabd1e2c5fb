package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantGet(t *testing.T) {
	s := New("")
	require.NoError(t, s.Grant("bob", "alice", "notes.txt", ReadOnly))

	p, ok := s.Get("bob", "alice", "notes.txt")
	require.True(t, ok)
	assert.Equal(t, ReadOnly, p)
}

func TestGetNoGrant(t *testing.T) {
	s := New("")
	_, ok := s.Get("bob", "alice", "notes.txt")
	assert.False(t, ok)
}

func TestRevoke(t *testing.T) {
	s := New("")
	require.NoError(t, s.Grant("bob", "alice", "notes.txt", ReadWrite))
	require.NoError(t, s.Revoke("bob", "alice", "notes.txt"))

	_, ok := s.Get("bob", "alice", "notes.txt")
	assert.False(t, ok)
}

func TestRevokeForAll(t *testing.T) {
	s := New("")
	require.NoError(t, s.Grant("bob", "alice", "notes.txt", ReadOnly))
	require.NoError(t, s.Grant("carol", "alice", "notes.txt", ReadWrite))
	require.NoError(t, s.Grant("carol", "alice", "other.txt", ReadWrite))

	require.NoError(t, s.RevokeForAll("alice", "notes.txt"))

	_, ok := s.Get("bob", "alice", "notes.txt")
	assert.False(t, ok)
	_, ok = s.Get("carol", "alice", "notes.txt")
	assert.False(t, ok)
	_, ok = s.Get("carol", "alice", "other.txt")
	assert.True(t, ok, "unrelated grant must survive")
}

func TestListForUser(t *testing.T) {
	s := New("")
	require.NoError(t, s.Grant("bob", "alice", "a.txt", ReadOnly))
	require.NoError(t, s.Grant("bob", "alice", "b.txt", ReadWrite))

	list := s.ListForUser("bob")
	assert.Len(t, list, 2)
	assert.Equal(t, ReadOnly, list["alice:a.txt"])
	assert.Equal(t, ReadWrite, list["alice:b.txt"])
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Grant("bob", "alice", "notes.txt", ReadWrite))

	reloaded := New(dir)
	require.NoError(t, reloaded.Load("bob"))

	p, ok := reloaded.Get("bob", "alice", "notes.txt")
	require.True(t, ok)
	assert.Equal(t, ReadWrite, p)
}

func TestLoadMissingUserIsNotError(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Load("nobody"))
}
