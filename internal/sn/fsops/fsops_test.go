package fsops

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textfs/textfs/pkg/dfserrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(
		filepath.Join(dir, "files"),
		filepath.Join(dir, "swap"),
		filepath.Join(dir, "undo"),
		filepath.Join(dir, "checkpoints"),
	)
	require.NoError(t, err)
	return s
}

func TestCreateAndRead(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("hello")))

	got, err := s.Read("alice", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCreateRejectsExisting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", nil))
	err := s.Create("alice", "notes.txt", nil)
	assert.True(t, dfserrors.Has(err, dfserrors.CodeFileExists))
}

func TestReadMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("alice", "missing.txt")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeFileNotFound))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", nil))
	require.NoError(t, s.Delete("alice", "notes.txt"))

	_, err := s.Read("alice", "notes.txt")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeFileNotFound))
}

func TestDeleteRefusedDuringWriteInProgress(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("hi")))
	require.NoError(t, s.WriteSwapCopy("alice", "notes.txt", []byte("hi")))

	err := s.Delete("alice", "notes.txt")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeWriteInProgress))
}

func TestReadChunksAlwaysReturnsAtLeastOneChunk(t *testing.T) {
	chunks := ReadChunks(nil, 10)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0])
}

func TestReadChunksSplitsBySize(t *testing.T) {
	chunks := ReadChunks([]byte("abcdefghij"), 4)
	require.Len(t, chunks, 3)
	assert.Equal(t, "abcd", string(chunks[0]))
	assert.Equal(t, "efgh", string(chunks[1]))
	assert.Equal(t, "ij", string(chunks[2]))
}

func TestCommitRewriteWritesUndoImage(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("version1")))
	require.NoError(t, s.CommitRewrite("alice", "notes.txt", []byte("version2")))

	got, _ := s.Read("alice", "notes.txt")
	assert.Equal(t, "version2", string(got))

	require.NoError(t, s.Undo("alice", "notes.txt"))
	got, _ = s.Read("alice", "notes.txt")
	assert.Equal(t, "version1", string(got))
}

func TestUndoTwiceTogglesBack(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("version1")))
	require.NoError(t, s.CommitRewrite("alice", "notes.txt", []byte("version2")))

	require.NoError(t, s.Undo("alice", "notes.txt"))
	require.NoError(t, s.Undo("alice", "notes.txt"))

	got, _ := s.Read("alice", "notes.txt")
	assert.Equal(t, "version2", string(got))
}

func TestUndoWithoutPriorCommitFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("v1")))

	err := s.Undo("alice", "notes.txt")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeNoUndoImage))
}

func TestCheckpointCreateRevertView(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("v1")))
	require.NoError(t, s.CheckpointCreate("alice", "notes.txt", "tag1"))

	require.NoError(t, s.CommitRewrite("alice", "notes.txt", []byte("v2")))

	viewed, err := s.CheckpointView("alice", "notes.txt", "tag1")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(viewed))

	got, _ := s.Read("alice", "notes.txt")
	assert.Equal(t, "v2", string(got), "view must not mutate the live file")

	require.NoError(t, s.CheckpointRevert("alice", "notes.txt", "tag1"))
	got, _ = s.Read("alice", "notes.txt")
	assert.Equal(t, "v1", string(got))
}

func TestCheckpointCreateRejectsDuplicateTag(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("v1")))
	require.NoError(t, s.CheckpointCreate("alice", "notes.txt", "tag1"))

	err := s.CheckpointCreate("alice", "notes.txt", "tag1")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeCheckpointExists))
}

func TestCheckpointListOrdersByCreation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("alice", "notes.txt", []byte("v1")))
	require.NoError(t, s.CheckpointCreate("alice", "notes.txt", "first"))
	require.NoError(t, s.CheckpointCreate("alice", "notes.txt", "second"))

	tags, err := s.CheckpointList("alice", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, tags)
}

func TestApplyUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyUpdate("alice", "notes.txt", []byte("replicated")))

	got, err := s.Read("alice", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "replicated", string(got))

	require.NoError(t, s.ApplyDelete("alice", "notes.txt"))
	_, err = s.Read("alice", "notes.txt")
	assert.True(t, dfserrors.Has(err, dfserrors.CodeFileNotFound))
}
