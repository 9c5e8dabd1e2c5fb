package metastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(path string) ([]byte, error)        { return os.ReadFile(path) }
func writeAll(path string, data []byte) error    { return os.WriteFile(path, data, 0o644) }

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	md := FileMetadata{Owner: "alice", Size: 42, WordCount: 7, CharCount: 42}
	s.Put("notes.txt", md)

	got, ok := s.Get("notes.txt")
	require.True(t, ok)
	assert.Equal(t, md, got)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Get("missing.txt")
	assert.False(t, ok)
}

func TestGetReturnsCopyNotReference(t *testing.T) {
	s := New()
	s.Put("notes.txt", FileMetadata{Owner: "alice", Size: 1})

	got, _ := s.Get("notes.txt")
	got.Size = 999

	again, _ := s.Get("notes.txt")
	assert.Equal(t, int64(1), again.Size, "mutating the returned copy must not affect the store")
}

func TestDelete(t *testing.T) {
	s := New()
	s.Put("notes.txt", FileMetadata{Owner: "alice"})
	s.Delete("notes.txt")
	_, ok := s.Get("notes.txt")
	assert.False(t, ok)
}

func TestTouch(t *testing.T) {
	s := New()
	s.Put("notes.txt", FileMetadata{Owner: "alice", Size: 10})

	now := time.Now()
	s.Touch("notes.txt", func(md *FileMetadata) {
		md.LastAccess = now
	})

	got, _ := s.Get("notes.txt")
	assert.Equal(t, now.Unix(), got.LastAccess.Unix())
	assert.Equal(t, int64(10), got.Size)
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	s := New()
	s.Put("a.txt", FileMetadata{Owner: "alice", Size: 1})
	s.Put("b.txt", FileMetadata{Owner: "bob", Size: 2})

	snap := s.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap["a.txt"].Size)
	assert.Equal(t, int64(2), snap["b.txt"].Size)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	s.Put("a.txt", FileMetadata{
		Owner:        "alice",
		Size:         100,
		WordCount:    20,
		CharCount:    100,
		LastAccess:   time.Unix(1700000000, 0),
		LastModified: time.Unix(1700000100, 0),
		IsBackup:     true,
	})
	s.Put("b.txt", FileMetadata{Owner: "bob", Size: 5})

	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.snapshot")
	require.NoError(t, s.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))

	a, ok := loaded.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, "alice", a.Owner)
	assert.Equal(t, int64(100), a.Size)
	assert.True(t, a.IsBackup)

	b, ok := loaded.Get("b.txt")
	require.True(t, ok)
	assert.False(t, b.IsBackup)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s := New()
	err := s.Load(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
}

func TestLoadToleratesMissingTrailingIsBackupByte(t *testing.T) {
	// Simulates an older snapshot format written before is_backup existed:
	// one entry, truncated right after the last timestamp field.
	s := New()
	s.Put("a.txt", FileMetadata{Owner: "alice", Size: 1, LastAccess: time.Unix(1, 0), LastModified: time.Unix(2, 0)})

	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.snapshot")
	require.NoError(t, s.Save(path))

	truncated := path + ".truncated"
	data, err := readAll(path)
	require.NoError(t, err)
	require.NoError(t, writeAll(truncated, data[:len(data)-1]))

	loaded := New()
	require.NoError(t, loaded.Load(truncated))

	got, ok := loaded.Get("a.txt")
	require.True(t, ok)
	assert.False(t, got.IsBackup)
}
