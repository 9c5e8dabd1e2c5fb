// Package filemap implements the directory service's file map (C3): the
// authoritative record of which storage nodes hold the primary and backup
// copy of every (owner, filename) pair, sharded across 256 lock-guarded
// buckets for concurrent access.
package filemap

import (
	"fmt"
	"hash/fnv"
	"sync"
)

const numBuckets = 256

// Key identifies a file by its owner and name. Filenames are unique only
// within an owner's namespace, so both fields participate in hashing and
// equality.
type Key struct {
	Owner    string
	Filename string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Owner, k.Filename)
}

// Entry is the file map's record for one file.
type Entry struct {
	Owner     string
	Filename  string
	PrimarySN string // SN identifier currently holding the primary copy
	BackupSN  string // SN identifier currently holding the backup copy
}

type bucket struct {
	mu    sync.RWMutex
	files map[Key]*Entry
}

// Map is the DS's sharded file map.
type Map struct {
	buckets [numBuckets]*bucket
}

// New creates an empty file map.
func New() *Map {
	m := &Map{}
	for i := range m.buckets {
		m.buckets[i] = &bucket{files: make(map[Key]*Entry)}
	}
	return m
}

func (m *Map) bucketFor(k Key) *bucket {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return m.buckets[h.Sum32()%numBuckets]
}

// Upsert inserts a new entry or replaces an existing one for the same key.
func (m *Map) Upsert(e Entry) {
	k := Key{Owner: e.Owner, Filename: e.Filename}
	b := m.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := e
	b.files[k] = &cp
}

// Get returns a copy of the entry for (owner, filename), or false if absent.
func (m *Map) Get(owner, filename string) (Entry, bool) {
	k := Key{Owner: owner, Filename: filename}
	b := m.bucketFor(k)
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.files[k]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete removes the entry for (owner, filename), if present.
func (m *Map) Delete(owner, filename string) {
	k := Key{Owner: owner, Filename: filename}
	b := m.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, k)
}

// SearchByFilename scans every bucket for an entry matching filename,
// regardless of owner. Used for shared-file resolution where the caller
// knows only a filename, not which user owns it. If more than one user
// owns a file by that name, which entry comes back is unspecified.
func (m *Map) SearchByFilename(filename string) (Entry, bool) {
	for _, b := range m.buckets {
		b.mu.RLock()
		for k, e := range b.files {
			if k.Filename == filename {
				cp := *e
				b.mu.RUnlock()
				return cp, true
			}
		}
		b.mu.RUnlock()
	}
	return Entry{}, false
}

// UpdatePrimaryBackup atomically changes the SN assignment for an existing
// entry.
func (m *Map) UpdatePrimaryBackup(owner, filename, primarySN, backupSN string) error {
	k := Key{Owner: owner, Filename: filename}
	b := m.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.files[k]
	if !ok {
		return fmt.Errorf("filemap: no entry for %s", k)
	}
	e.PrimarySN = primarySN
	e.BackupSN = backupSN
	return nil
}

// ForEach calls fn for every entry in the map. It takes every bucket's read
// lock in ascending bucket order, copies all entries as one consistent
// snapshot, releases the locks, and only then calls fn, so fn may itself
// call back into the map.
func (m *Map) ForEach(fn func(Entry)) {
	var entries []Entry
	for _, b := range m.buckets {
		b.mu.RLock()
	}
	for _, b := range m.buckets {
		for _, e := range b.files {
			entries = append(entries, *e)
		}
	}
	for _, b := range m.buckets {
		b.mu.RUnlock()
	}
	for _, e := range entries {
		fn(e)
	}
}

// OwnedBySN returns every entry for which sn is either the primary or the
// backup holder.
func (m *Map) OwnedBySN(sn string) []Entry {
	var out []Entry
	m.ForEach(func(e Entry) {
		if e.PrimarySN == sn || e.BackupSN == sn {
			out = append(out, e)
		}
	})
	return out
}
