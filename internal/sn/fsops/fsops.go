// Package fsops implements the storage node's on-disk file operations
// (C8): create, delete, chunked read, word-streamed read, undo, and
// checkpoint create/revert/view/list. Every mutation that replaces a file's
// content goes through an atomic write-to-temp-then-rename, grounded on the
// teacher's persistent cache and log-rotation code, which use the same
// pattern for on-disk state it cannot afford to leave half-written.
package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/textfs/textfs/pkg/dfserrors"
	"github.com/textfs/textfs/pkg/utils"
)

// Store is the SN's on-disk file area: one directory each for live files,
// swap copies (pre-edit snapshots for undo), and named checkpoints.
type Store struct {
	filesDir      string
	swapDir       string
	undoDir       string
	checkpointDir string
}

// New creates a Store rooted at the given directories, creating them if
// they don't already exist.
func New(filesDir, swapDir, undoDir, checkpointDir string) (*Store, error) {
	s := &Store{filesDir: filesDir, swapDir: swapDir, undoDir: undoDir, checkpointDir: checkpointDir}
	for _, dir := range []string{filesDir, swapDir, undoDir, checkpointDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, dfserrors.New(dfserrors.CodeStorageInitFail, fmt.Sprintf("failed to create directory %s", dir)).
				WithComponent("fsops").WithOperation("New").WithCause(err)
		}
	}
	return s, nil
}

// validateName rejects an owner or filename that isn't a safe single path
// component, since both arrive over the wire from clients and are
// concatenated directly into on-disk paths below.
func validateName(name string) error {
	if err := utils.ValidatePath(name, false); err != nil {
		return dfserrors.New(dfserrors.CodeMalformedPayload, fmt.Sprintf("unsafe name %q: %v", name, err)).
			WithComponent("fsops")
	}
	return nil
}

func (s *Store) filePath(owner, filename string) string {
	return filepath.Join(s.filesDir, owner+"__"+filename)
}

func (s *Store) swapPath(owner, filename string) string {
	return filepath.Join(s.swapDir, owner+"__"+filename+".swap")
}

func (s *Store) undoPath(owner, filename string) string {
	return filepath.Join(s.undoDir, owner+"__"+filename+".undo")
}

func (s *Store) checkpointPath(owner, filename, tag string) string {
	return filepath.Join(s.checkpointDir, owner+"__"+filename+"__"+tag+".ckpt")
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Create makes a new, empty (or seeded) file. It fails if the file already
// exists.
func (s *Store) Create(owner, filename string, initial []byte) error {
	if err := validateName(owner); err != nil {
		return err
	}
	if err := validateName(filename); err != nil {
		return err
	}
	path := s.filePath(owner, filename)
	if _, err := os.Stat(path); err == nil {
		return dfserrors.New(dfserrors.CodeFileExists, "file already exists").
			WithComponent("fsops").WithOperation("Create")
	}
	if err := atomicWrite(path, initial); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to create file").
			WithComponent("fsops").WithOperation("Create").WithCause(err)
	}
	return nil
}

// Delete removes a file. It refuses to delete while a swap copy exists,
// since that means a write transaction is currently in flight against it.
func (s *Store) Delete(owner, filename string) error {
	if err := validateName(owner); err != nil {
		return err
	}
	if err := validateName(filename); err != nil {
		return err
	}
	if _, err := os.Stat(s.swapPath(owner, filename)); err == nil {
		return dfserrors.New(dfserrors.CodeWriteInProgress, "cannot delete a file with a write in progress").
			WithComponent("fsops").WithOperation("Delete")
	}
	path := s.filePath(owner, filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return dfserrors.New(dfserrors.CodeFileNotFound, "file does not exist").
				WithComponent("fsops").WithOperation("Delete")
		}
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to delete file").
			WithComponent("fsops").WithOperation("Delete").WithCause(err)
	}
	return nil
}

// Read returns a file's full current content. This also backs the write
// transaction's FileStore.Read.
func (s *Store) Read(owner, filename string) ([]byte, error) {
	if err := validateName(owner); err != nil {
		return nil, err
	}
	if err := validateName(filename); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.filePath(owner, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfserrors.New(dfserrors.CodeFileNotFound, "file does not exist").
				WithComponent("fsops").WithOperation("Read")
		}
		return nil, dfserrors.New(dfserrors.CodeIOFailure, "failed to read file").
			WithComponent("fsops").WithOperation("Read").WithCause(err)
	}
	return data, nil
}

// ReadChunks splits content into chunkSize-byte chunks for streaming to a
// client, always returning at least one chunk (possibly empty) so an empty
// file still produces a single final chunk.
func ReadChunks(content []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = len(content)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	if len(content) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for start := 0; start < len(content); start += chunkSize {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

// WriteSwapCopy persists data as the pre-edit snapshot used for undo.
func (s *Store) WriteSwapCopy(owner, filename string, data []byte) error {
	if err := atomicWrite(s.swapPath(owner, filename), data); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to write swap copy").
			WithComponent("fsops").WithOperation("WriteSwapCopy").WithCause(err)
	}
	return nil
}

// RemoveSwapCopy deletes the pre-edit snapshot written by WriteSwapCopy. It
// is not an error for no swap copy to exist.
func (s *Store) RemoveSwapCopy(owner, filename string) error {
	if err := os.Remove(s.swapPath(owner, filename)); err != nil && !os.IsNotExist(err) {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to remove swap copy").
			WithComponent("fsops").WithOperation("RemoveSwapCopy").WithCause(err)
	}
	return nil
}

// CommitRewrite atomically replaces a file's content, first preserving the
// previous content as the file's single undo image, then removing the swap
// copy created at the start of the transaction.
func (s *Store) CommitRewrite(owner, filename string, data []byte) error {
	previous, err := s.Read(owner, filename)
	if err != nil && !dfserrors.Has(err, dfserrors.CodeFileNotFound) {
		return err
	}
	if err == nil {
		if werr := atomicWrite(s.undoPath(owner, filename), previous); werr != nil {
			return dfserrors.New(dfserrors.CodeIOFailure, "failed to write undo image").
				WithComponent("fsops").WithOperation("CommitRewrite").WithCause(werr)
		}
	}
	if err := atomicWrite(s.filePath(owner, filename), data); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to commit rewritten file").
			WithComponent("fsops").WithOperation("CommitRewrite").WithCause(err)
	}
	_ = os.Remove(s.swapPath(owner, filename))
	return nil
}

// Undo restores a file to the content captured in its single undo image, by
// renaming the undo image over the live file and the live file's prior
// content into the undo slot (a three-way swap so a second Undo toggles
// back).
func (s *Store) Undo(owner, filename string) error {
	undoPath := s.undoPath(owner, filename)
	if _, err := os.Stat(undoPath); err != nil {
		return dfserrors.New(dfserrors.CodeNoUndoImage, "no undo image available").
			WithComponent("fsops").WithOperation("Undo")
	}
	livePath := s.filePath(owner, filename)
	tmp := livePath + ".undo-swap-tmp"

	if err := os.Rename(livePath, tmp); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to stage live file for undo").
			WithComponent("fsops").WithOperation("Undo").WithCause(err)
	}
	if err := os.Rename(undoPath, livePath); err != nil {
		_ = os.Rename(tmp, livePath)
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to restore undo image").
			WithComponent("fsops").WithOperation("Undo").WithCause(err)
	}
	if err := os.Rename(tmp, undoPath); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to stash prior content after undo").
			WithComponent("fsops").WithOperation("Undo").WithCause(err)
	}
	return nil
}

// CheckpointCreate snapshots a file's current content under tag. It fails
// if a checkpoint with that tag already exists for the file.
func (s *Store) CheckpointCreate(owner, filename, tag string) error {
	if err := validateName(tag); err != nil {
		return err
	}
	path := s.checkpointPath(owner, filename, tag)
	if _, err := os.Stat(path); err == nil {
		return dfserrors.New(dfserrors.CodeCheckpointExists, "checkpoint already exists").
			WithComponent("fsops").WithOperation("CheckpointCreate")
	}
	content, err := s.Read(owner, filename)
	if err != nil {
		return err
	}
	if err := atomicWrite(path, content); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to write checkpoint").
			WithComponent("fsops").WithOperation("CheckpointCreate").WithCause(err)
	}
	return nil
}

// CheckpointRevert replaces a file's content with the content captured in
// the named checkpoint.
func (s *Store) CheckpointRevert(owner, filename, tag string) error {
	if err := validateName(tag); err != nil {
		return err
	}
	data, err := os.ReadFile(s.checkpointPath(owner, filename, tag))
	if err != nil {
		if os.IsNotExist(err) {
			return dfserrors.New(dfserrors.CodeCheckpointMissing, "checkpoint does not exist").
				WithComponent("fsops").WithOperation("CheckpointRevert")
		}
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to read checkpoint").
			WithComponent("fsops").WithOperation("CheckpointRevert").WithCause(err)
	}
	return s.CommitRewrite(owner, filename, data)
}

// CheckpointView returns a checkpoint's content without affecting the live
// file.
func (s *Store) CheckpointView(owner, filename, tag string) ([]byte, error) {
	if err := validateName(tag); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.checkpointPath(owner, filename, tag))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfserrors.New(dfserrors.CodeCheckpointMissing, "checkpoint does not exist").
				WithComponent("fsops").WithOperation("CheckpointView")
		}
		return nil, dfserrors.New(dfserrors.CodeIOFailure, "failed to read checkpoint").
			WithComponent("fsops").WithOperation("CheckpointView").WithCause(err)
	}
	return data, nil
}

// CheckpointList returns every tag checkpointed for (owner, filename), in
// creation order (oldest first).
func (s *Store) CheckpointList(owner, filename string) ([]string, error) {
	entries, err := os.ReadDir(s.checkpointDir)
	if err != nil {
		return nil, dfserrors.New(dfserrors.CodeIOFailure, "failed to list checkpoint directory").
			WithComponent("fsops").WithOperation("CheckpointList").WithCause(err)
	}
	prefix := owner + "__" + filename + "__"
	type tagged struct {
		tag     string
		modTime time.Time
	}
	var tags []tagged
	for _, entry := range entries {
		name := entry.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		tag := name[len(prefix):]
		tag = tag[:len(tag)-len(".ckpt")]
		info, err := entry.Info()
		if err != nil {
			continue
		}
		tags = append(tags, tagged{tag: tag, modTime: info.ModTime()})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].modTime.Before(tags[j].modTime) })
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.tag
	}
	return out, nil
}

// ApplyUpdate implements replicate.Receiver: it writes a replicated file's
// content directly, bypassing the undo/swap machinery that only applies to
// locally originated writes.
func (s *Store) ApplyUpdate(owner, filename string, data []byte) error {
	if err := atomicWrite(s.filePath(owner, filename), data); err != nil {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to apply replicated update").
			WithComponent("fsops").WithOperation("ApplyUpdate").WithCause(err)
	}
	return nil
}

// ApplyDelete implements replicate.Receiver.
func (s *Store) ApplyDelete(owner, filename string) error {
	if err := os.Remove(s.filePath(owner, filename)); err != nil && !os.IsNotExist(err) {
		return dfserrors.New(dfserrors.CodeIOFailure, "failed to apply replicated delete").
			WithComponent("fsops").WithOperation("ApplyDelete").WithCause(err)
	}
	return nil
}
