package users

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAuthenticate(t *testing.T) {
	s := New("")
	require.NoError(t, s.Register("alice", "hunter2"))

	assert.True(t, s.Authenticate("alice", "hunter2"))
	assert.False(t, s.Authenticate("alice", "wrong"))
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s := New("")
	assert.False(t, s.Authenticate("nobody", "anything"))
}

func TestRegisterDuplicate(t *testing.T) {
	s := New("")
	require.NoError(t, s.Register("alice", "hunter2"))
	assert.Error(t, s.Register("alice", "other"))
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.db")

	s := New(path)
	require.NoError(t, s.Register("bob", "swordfish"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.Authenticate("bob", "swordfish"))
}

func TestListAndExists(t *testing.T) {
	s := New("")
	require.NoError(t, s.Register("carol", "pw"))
	assert.True(t, s.Exists("carol"))
	assert.False(t, s.Exists("dave"))
	assert.Equal(t, []string{"carol"}, s.List())
}
