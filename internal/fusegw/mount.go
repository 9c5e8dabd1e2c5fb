//go:build linux

package fusegw

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fs"
	fusepkg "github.com/hanwen/go-fuse/v2/fuse"
)

// Config configures a mounted gateway.
type Config struct {
	DSAddr     string
	Username   string
	Password   string
	MountPoint string
	ReadOnly   bool
	AllowOther bool
}

// Mount logs in to cfg.DSAddr and mounts the resulting FileSystem at
// cfg.MountPoint, returning a handle whose Unmount tears both down. It
// blocks until the mount is ready; serving continues in the background.
func Mount(cfg Config) (*Mounted, error) {
	fsys, err := New(cfg.DSAddr, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}

	opts := &fs.Options{
		MountOptions: fusepkg.MountOptions{
			AllowOther: cfg.AllowOther,
			Name:       "textfs",
			FsName:     cfg.DSAddr,
		},
		EntryTimeout: &mountOptionsTimeout,
		AttrTimeout:  &mountOptionsTimeout,
	}
	if cfg.ReadOnly {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	}

	server, err := fs.Mount(cfg.MountPoint, fsys.Root(), opts)
	if err != nil {
		_ = fsys.cl.Close()
		return nil, fmt.Errorf("fusegw: mounting at %s: %w", cfg.MountPoint, err)
	}

	m := &Mounted{fsys: fsys, server: server}
	go server.Wait()
	return m, nil
}

// Mounted is a live FUSE mount.
type Mounted struct {
	fsys   *FileSystem
	server *fusepkg.Server
}

// Unmount unmounts the filesystem and closes the directory-service
// connection backing it.
func (m *Mounted) Unmount() error {
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("fusegw: unmounting: %w", err)
	}
	return m.fsys.cl.Close()
}
