//go:build linux

package fusegw

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/textfs/textfs/internal/wire"
)

// FileSystem is the FUSE root: a single flat directory holding every file
// the mount's authenticated session owns or has read/write access to.
// There is no subdirectory nesting — the session's folder tree is a CLI
// concept this gateway does not expose (spec §1 non-goals).
type FileSystem struct {
	fs.Inode

	cl *client

	mu    sync.Mutex
	files map[string]*FileNode // filename -> inode, for Unlink/invalidation
}

// New creates a FileSystem logged in to dsAddr as username. The caller
// mounts it with Mount.
func New(dsAddr, username, password string) (*FileSystem, error) {
	cl, err := dialDS(dsAddr, username, password)
	if err != nil {
		return nil, err
	}
	return &FileSystem{cl: cl, files: make(map[string]*FileNode)}, nil
}

func (fsys *FileSystem) Root() fs.InodeEmbedder { return fsys }

var _ fs.NodeLookuper = (*FileSystem)(nil)
var _ fs.NodeReaddirer = (*FileSystem)(nil)
var _ fs.NodeCreater = (*FileSystem)(nil)
var _ fs.NodeUnlinker = (*FileSystem)(nil)

func (fsys *FileSystem) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	info, err := fsys.cl.info(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	fillAttr(&out.Attr, info)
	return fsys.childInode(ctx, name), 0
}

func (fsys *FileSystem) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := fsys.cl.view()
	if err != nil {
		return nil, syscall.EIO
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Filename, Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(out), 0
}

func (fsys *FileSystem) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if err := fsys.cl.create(name); err != nil {
		return nil, nil, 0, syscall.EIO
	}
	out.Attr.Mode = fuse.S_IFREG | 0644
	node := fsys.childInode(ctx, name)
	return node, &fileHandle{fsys: fsys, filename: name}, 0, 0
}

func (fsys *FileSystem) Unlink(ctx context.Context, name string) syscall.Errno {
	if err := fsys.cl.delete(name); err != nil {
		return syscall.EIO
	}
	fsys.mu.Lock()
	delete(fsys.files, name)
	fsys.mu.Unlock()
	return 0
}

func (fsys *FileSystem) childInode(ctx context.Context, name string) *fs.Inode {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if n, ok := fsys.files[name]; ok {
		return n.EmbeddedInode()
	}
	node := &FileNode{fsys: fsys, filename: name}
	fsys.files[name] = node
	return fsys.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG})
}

// FileNode is one file's inode. It holds no content; every Getattr re-fetches
// size from the directory service, and every Read and Flush redirects to the
// current primary storage node (Write only buffers bytes for Flush).
type FileNode struct {
	fs.Inode
	fsys     *FileSystem
	filename string
}

var _ fs.NodeOpener = (*FileNode)(nil)
var _ fs.NodeGetattrer = (*FileNode)(nil)

func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return &fileHandle{fsys: n.fsys, filename: n.filename}, 0, 0
}

func (n *FileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.fsys.cl.info(n.filename)
	if err != nil {
		return syscall.ENOENT
	}
	fillAttr(&out.Attr, info)
	return 0
}

func fillAttr(attr *fuse.Attr, info wire.InfoResponse) {
	attr.Mode = fuse.S_IFREG | 0644
	attr.Size = uint64(info.Size)
	attr.Mtime = uint64(info.LastModSec)
	attr.Atime = uint64(info.LastAccessSec)
	attr.Ctime = uint64(info.LastModSec)
}

// fileHandle buffers one open file's pending write so it can be flushed as
// a single write transaction on close, per this gateway's append-mostly
// contract.
type fileHandle struct {
	fsys     *FileSystem
	filename string

	mu      sync.Mutex
	pending []byte
	dirty   bool
}

var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileWriter = (*fileHandle)(nil)
var _ fs.FileFlusher = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content, err := h.fsys.cl.readFile(h.filename)
	if err != nil {
		return nil, syscall.EIO
	}
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData(content[off:end]), 0
}

// Write only ever buffers: this gateway never supports random-offset edits
// to already-committed content, so the actual write transaction (and its
// accept/reject decision) happens at Flush, once the whole buffered write
// is known.
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off != int64(len(h.pending)) {
		return 0, syscall.ENOTSUP
	}
	h.pending = append(h.pending, data...)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}

	info, err := h.fsys.cl.info(h.filename)
	if err != nil {
		return syscall.EIO
	}
	if info.Size != 0 {
		// A non-empty file can only be appended to once its last sentence is
		// delimiter-terminated; this gateway doesn't track that, so it
		// declines rather than risk silently dropping the existing content.
		return syscall.ENOTSUP
	}

	words, ok := splitSingleSentence(h.pending)
	if !ok {
		return syscall.ENOTSUP
	}
	if err := h.fsys.cl.writeFile(h.filename, 0, words); err != nil {
		return syscall.EIO
	}
	h.dirty = false
	return 0
}

// mountOptionsTimeout is how long the kernel caches attribute/entry lookups
// before re-asking this gateway, which has no invalidation push path of its
// own (every change is visible only on the next lookup). fs.Options takes
// this by pointer, so it must be a var, not a const.
var mountOptionsTimeout = time.Second
