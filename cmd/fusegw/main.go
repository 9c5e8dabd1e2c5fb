//go:build linux

// Command fusegw mounts one user's textfs files as a local FUSE
// filesystem. It is an optional convenience front end (spec §1 non-goals,
// SPEC_FULL.md §2.5); the protocol has no client-library requirement
// beyond this.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/textfs/textfs/internal/fusegw"
)

func main() {
	dsAddr := flag.String("ds", "127.0.0.1:7000", "directory service client address")
	username := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	mountPoint := flag.String("mount", "", "mount point directory")
	readOnly := flag.Bool("ro", false, "mount read-only")
	allowOther := flag.Bool("allow-other", false, "allow other users to access the mount")
	flag.Parse()

	if *username == "" || *mountPoint == "" {
		log.Fatal("fusegw: -user and -mount are required")
	}

	m, err := fusegw.Mount(fusegw.Config{
		DSAddr:     *dsAddr,
		Username:   *username,
		Password:   *password,
		MountPoint: *mountPoint,
		ReadOnly:   *readOnly,
		AllowOther: *allowOther,
	})
	if err != nil {
		log.Fatalf("fusegw: %v", err)
	}
	log.Printf("mounted %s at %s", *dsAddr, *mountPoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := m.Unmount(); err != nil {
		log.Fatalf("fusegw: %v", err)
	}
}
